package docstate

// Status values for document processing, in strict forward order. FAILED
// and DELETED are overrides reachable from any non-terminal state; DELETED
// is absorbing.
const (
	STATUS_PENDING         = "pending"
	STATUS_PARTITIONING    = "partitioning"
	STATUS_PARTITIONED     = "partitioned"
	STATUS_REFINED         = "refined"
	STATUS_CHUNKED         = "chunked"
	STATUS_INDEXED         = "indexed"
	STATUS_SUMMARY_INDEXED = "summary_indexed"
	STATUS_KEYWORD_INDEXED = "keyword_indexed"
	STATUS_READY           = "ready"
	STATUS_FAILED          = "failed"
	STATUS_DELETED         = "deleted"
)

var statusRank = map[string]int{
	STATUS_PENDING:         0,
	STATUS_PARTITIONING:    1,
	STATUS_PARTITIONED:     2,
	STATUS_REFINED:         3,
	STATUS_CHUNKED:         4,
	STATUS_INDEXED:         5,
	STATUS_SUMMARY_INDEXED: 6,
	STATUS_KEYWORD_INDEXED: 7,
	STATUS_READY:           8,
}

// Rank returns a status's position in the forward order. Overrides
// (failed, deleted) are unranked.
func Rank(status string) (int, bool) {
	r, ok := statusRank[status]
	return r, ok
}

// Known reports whether status is a recognized processing status,
// including the overrides.
func Known(status string) bool {
	if _, ok := statusRank[status]; ok {
		return true
	}
	return status == STATUS_FAILED || status == STATUS_DELETED
}

// Terminal reports whether no further updates are expected after status.
func Terminal(status string) bool {
	return status == STATUS_READY || status == STATUS_FAILED || status == STATUS_DELETED
}

// advances reports whether moving from current to target is a valid
// forward transition. Overrides always advance; ranked targets must
// strictly exceed the current rank.
func advances(current, target string) bool {
	if target == STATUS_FAILED || target == STATUS_DELETED {
		return true
	}
	targetRank, ok := statusRank[target]
	if !ok {
		return false
	}
	currentRank, ok := statusRank[current]
	if !ok {
		// Current status is failed: overrides were handled above and a
		// ranked target never resurrects a failed document.
		return false
	}
	return targetRank > currentRank
}
