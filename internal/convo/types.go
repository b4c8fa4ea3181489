package convo

// Role labels who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation. Immutable once created.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Trim returns the most recent limit entries of history, all of it if
// shorter, and an empty slice for a non-positive limit. Turns arrive in
// (user, assistant) pairs, so an even limit always cuts on a pair boundary.
func Trim(history []Turn, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
