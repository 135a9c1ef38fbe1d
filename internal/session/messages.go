package session

// Message is one entry in a session's conversation history. Plain text from
// a client arrives as a bare string and is normalized through Text; richer
// clients set an id and role.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Text wraps a bare string payload as a history entry.
func Text(content string) Message {
	return Message{Content: content}
}

// SameMessage reports semantic equality: a shared non-empty id wins, and
// absent ids on both sides fall back to role+content comparison. A message
// with an id never equals one without.
func SameMessage(a, b Message) bool {
	if a.ID != "" || b.ID != "" {
		return a.ID != "" && a.ID == b.ID
	}
	return a.Role == b.Role && a.Content == b.Content
}

// MergeHistories reconciles two possibly-overlapping message sequences into
// one canonical sequence, keeping at most limit trailing entries
// (limit <= 0 means unbounded).
//
// A right side that is reference-identical to left, or empty, is a no-op.
// When left is a semantic prefix of right, right is the authoritative
// superset: a retransmitted unchanged history collapses instead of
// duplicating. Anything else is treated as diverged and concatenated.
// The same two inputs always produce the same output, so the merge is safe
// to use as a fold from any call site.
//
// Prefix detection is a linear scan over left on every merge. That is fine
// at the history sizes we see in practice; the limit clamp keeps it bounded.
func MergeHistories(left, right []Message, limit int) []Message {
	if len(right) == 0 || sameBacking(left, right) {
		return clampTail(left, limit)
	}
	if isSemanticPrefix(left, right) {
		return clampTail(right, limit)
	}
	merged := make([]Message, 0, len(left)+len(right))
	merged = append(merged, left...)
	merged = append(merged, right...)
	return clampTail(merged, limit)
}

// isSemanticPrefix reports whether every element of left matches the element
// at the same index in right, with right at least as long.
func isSemanticPrefix(left, right []Message) bool {
	if len(right) < len(left) {
		return false
	}
	for i := range left {
		if !SameMessage(left[i], right[i]) {
			return false
		}
	}
	return true
}

// clampTail keeps the trailing limit elements, returning the input slice
// untouched when it already fits.
func clampTail(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// sameBacking reports whether two slices are the same sequence in memory.
func sameBacking(a, b []Message) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}
