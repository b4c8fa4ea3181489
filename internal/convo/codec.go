package convo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload marks a durable-store value that does not deserialize
// into a valid turn list. Readers treat it as an empty history.
var ErrMalformedPayload = errors.New("malformed history payload")

// MarshalHistory serializes a turn list for the durable store.
func MarshalHistory(history []Turn) (string, error) {
	if history == nil {
		history = []Turn{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	return string(b), nil
}

// ParseHistory deserializes a durable-store value, rejecting anything that is
// not a JSON list of {role, content} objects with known roles. Old processes
// may have written payloads this build no longer understands, so validation
// failures map to ErrMalformedPayload instead of surfacing raw JSON errors.
func ParseHistory(payload string) ([]Turn, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	history := make([]Turn, 0, len(raw))
	for i, entry := range raw {
		var t Turn
		if err := json.Unmarshal(entry, &t); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformedPayload, i, err)
		}
		if t.Role != RoleUser && t.Role != RoleAssistant {
			return nil, fmt.Errorf("%w: entry %d has role %q", ErrMalformedPayload, i, t.Role)
		}
		history = append(history, t)
	}
	return history, nil
}
