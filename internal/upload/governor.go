package upload

// Decision is the size governor's verdict for a fetched asset.
type Decision int

const (
	// DecisionAccept means the asset fits the byte budget as-is.
	DecisionAccept Decision = iota
	// DecisionTranscode means the asset exceeds the budget and must be
	// re-encoded before upload.
	DecisionTranscode
)

// Decide returns the governor's verdict for an asset of sizeBytes against
// a budget of maxBytes. Pure and deterministic; an asset exactly at the
// budget is accepted.
func Decide(sizeBytes, maxBytes int64) Decision {
	if sizeBytes > maxBytes {
		return DecisionTranscode
	}
	return DecisionAccept
}
