package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and the general model integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
