package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/clipvault/clipvault-api/internal/backend"
	"github.com/clipvault/clipvault-api/internal/catalog/migrations"
)

// Compile-time check that PostgresCatalog implements Catalog.
var _ Catalog = (*PostgresCatalog)(nil)

// PostgresCatalog persists records in a Postgres videos table over the pgx
// stdlib driver.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog opens a connection pool for the given DSN and runs
// pending migrations.
func NewPostgresCatalog(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	c := &PostgresCatalog{db: db}
	if err := c.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// runMigrations applies the embedded goose migrations.
func (c *PostgresCatalog) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("postgres: set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, c.db, "."); err != nil {
		return fmt.Errorf("postgres: run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

// Insert persists a new record.
func (c *PostgresCatalog) Insert(ctx context.Context, rec *Record) error {
	meta, err := backend.EncodeHandle(rec.Handle)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO videos (token, file_name, provider, provider_meta, video_url, size_bytes, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err = c.db.ExecContext(ctx, query,
		rec.Token, rec.FileName, string(rec.Provider), meta, rec.VideoURL, rec.SizeBytes, rec.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	return nil
}

// FindByToken retrieves a record by its token.
func (c *PostgresCatalog) FindByToken(ctx context.Context, token string) (*Record, error) {
	query := `
		SELECT token, file_name, provider, provider_meta, video_url, size_bytes, expires_at
		FROM videos WHERE token = $1;
	`
	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("postgres: find by token: %w", err)
	}
	return rec, nil
}

// FindExpiredBefore returns all records whose expiry is strictly before t.
func (c *PostgresCatalog) FindExpiredBefore(ctx context.Context, t time.Time) ([]*Record, error) {
	query := `
		SELECT token, file_name, provider, provider_meta, video_url, size_bytes, expires_at
		FROM videos WHERE expires_at < $1;
	`
	rows, err := c.db.QueryContext(ctx, query, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: find expired: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan expired row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate expired rows: %w", err)
	}
	return result, nil
}

// DeleteByToken removes the record for a token. Zero rows affected means
// the record was already gone, which is a no-op success.
func (c *PostgresCatalog) DeleteByToken(ctx context.Context, token string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM videos WHERE token = $1;`, token); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one videos row and decodes its handle by provider tag.
func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec      Record
		provider string
		meta     []byte
	)
	if err := row.Scan(&rec.Token, &rec.FileName, &provider, &meta, &rec.VideoURL, &rec.SizeBytes, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	rec.Provider = backend.Provider(provider)
	handle, err := backend.DecodeHandle(rec.Provider, meta)
	if err != nil {
		return nil, err
	}
	rec.Handle = handle
	return &rec, nil
}
