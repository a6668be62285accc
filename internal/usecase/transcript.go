package usecase

import (
	"strings"

	"kb-messaging-assistant/internal/domain"
)

// buildTranscript maps stored turns to chat roles and appends question as the
// newest user message. Adjacent turns with the same role are merged and a
// leading assistant turn is dropped, so an inbound turn whose reply was never
// persisted still yields an alternating user-first transcript.
func buildTranscript(history []domain.Turn, question string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	for _, t := range history {
		role := domain.RoleUser
		if t.Direction == domain.DirectionOutbound {
			role = domain.RoleAssistant
		}
		messages = appendMerged(messages, role, t.Text)
	}
	messages = appendMerged(messages, domain.RoleUser, question)

	for len(messages) > 0 && messages[0].Role == domain.RoleAssistant {
		messages = messages[1:]
	}
	return messages
}

func appendMerged(messages []domain.ChatMessage, role, content string) []domain.ChatMessage {
	content = strings.TrimSpace(content)
	if content == "" {
		return messages
	}
	if n := len(messages); n > 0 && messages[n-1].Role == role {
		messages[n-1].Content += "\n" + content
		return messages
	}
	return append(messages, domain.ChatMessage{Role: role, Content: content})
}
