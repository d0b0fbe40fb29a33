package feedcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them on its execution context.
type Hooks interface {
	// An operation failed and was reported to its completion.
	// op ∈ {"retrieve", "insert", "delete"}
	// stage ∈ {"validate", "find", "delete", "create", "commit"}
	OperationFailed(op, stage string, err error)

	// Rollback after a failed write returned an error.
	RollbackFailed(op string, err error)

	// A mirror entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	MirrorSelfHeal(storageKey, reason string)

	// Mirror returned ok=false on Set (backpressure/eviction).
	MirrorSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) OperationFailed(string, string, error) {}
func (NopHooks) RollbackFailed(string, error)          {}
func (NopHooks) MirrorSelfHeal(string, string)         {}
func (NopHooks) MirrorSetRejected(string)              {}
