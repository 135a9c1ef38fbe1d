package checkpoint

import (
	"encoding/json"
	"fmt"
)

// The pending-writes table is keyed by a JSON-serialized 3-element array
// [threadId, namespace|null, checkpointId]. Element order and the literal
// null for an absent namespace are part of the wire format; other producers
// of this table depend on both.

// EncodeKey serializes an outer key.
func EncodeKey(threadID string, ns *string, checkpointID string) (string, error) {
	b, err := json.Marshal([3]any{threadID, ns, checkpointID})
	if err != nil {
		return "", fmt.Errorf("encode checkpoint key: %w", err)
	}
	return string(b), nil
}

// DecodeKey parses an outer key back into its parts. ok is false for any
// key that is not exactly a 3-element array of [string, string|null, string];
// callers treat those as foreign-shaped and leave them untouched.
func DecodeKey(raw string) (threadID string, ns *string, checkpointID string, ok bool) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parts); err != nil || len(parts) != 3 {
		return "", nil, "", false
	}
	if err := json.Unmarshal(parts[0], &threadID); err != nil {
		return "", nil, "", false
	}
	if string(parts[1]) != "null" {
		var v string
		if err := json.Unmarshal(parts[1], &v); err != nil {
			return "", nil, "", false
		}
		ns = &v
	}
	if err := json.Unmarshal(parts[2], &checkpointID); err != nil {
		return "", nil, "", false
	}
	return threadID, ns, checkpointID, true
}
