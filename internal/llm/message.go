package llm

import "strings"

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a role-tagged chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Sanitize normalizes a message list for vendors that reject same-role adjacency:
//   - the first system message is kept and placed first, other system messages are dropped
//   - messages with blank content are dropped
//   - leading assistant messages are dropped
//   - consecutive messages with the same role are joined with a blank line
//
// The input slice is not modified.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			out = append(out, msg)
			break
		}
	}
	head := len(out)

	conversation := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		conversation = append(conversation, msg)
	}

	for len(conversation) > 0 && conversation[0].Role == RoleAssistant {
		conversation = conversation[1:]
	}

	for _, msg := range conversation {
		if len(out) > head && out[len(out)-1].Role == msg.Role {
			out[len(out)-1].Content += "\n\n" + msg.Content
			continue
		}
		out = append(out, msg)
	}

	return out
}

// SplitSystem separates a leading system message from the conversation.
func SplitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}
