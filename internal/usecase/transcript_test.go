package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kb-messaging-assistant/internal/domain"
)

func turn(dir domain.Direction, text string) domain.Turn {
	return domain.Turn{Direction: dir, Text: text}
}

func TestBuildTranscript_EmptyHistory(t *testing.T) {
	got := buildTranscript(nil, "What are your hours?")
	require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "What are your hours?"}}, got)
}

func TestBuildTranscript_MapsDirections(t *testing.T) {
	history := []domain.Turn{
		turn(domain.DirectionInbound, "hi"),
		turn(domain.DirectionOutbound, "hello"),
	}
	got := buildTranscript(history, "what next?")
	require.Equal(t, []domain.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "what next?"},
	}, got)
}

func TestBuildTranscript_ToleratesInboundOnlyTurn(t *testing.T) {
	history := []domain.Turn{
		turn(domain.DirectionInbound, "first"),
		turn(domain.DirectionOutbound, "answer"),
		turn(domain.DirectionInbound, "lost reply"),
	}
	got := buildTranscript(history, "again?")
	require.Equal(t, []domain.ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "lost reply\nagain?"},
	}, got)
}

func TestBuildTranscript_DropsLeadingAssistantAndBlankTurns(t *testing.T) {
	history := []domain.Turn{
		turn(domain.DirectionOutbound, "orphan reply"),
		turn(domain.DirectionInbound, "  "),
		turn(domain.DirectionInbound, "question"),
	}
	got := buildTranscript(history, "follow up")
	require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "question\nfollow up"}}, got)
}

func TestIsRestart(t *testing.T) {
	for _, body := range []string{"restart", "  RESET ", "Clear", "go", "demo"} {
		require.True(t, IsRestart(body), body)
	}
	for _, body := range []string{"restart please", "", "going", "What are your hours?"} {
		require.False(t, IsRestart(body), body)
	}
}
