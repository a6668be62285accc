package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kb-messaging-assistant/internal/domain"
	"kb-messaging-assistant/internal/sanitize"
)

const (
	// RestartPrompt is sent after a conversation has been cleared.
	RestartPrompt = "Please ask a question."
	// ThrottledReply is sent when the knowledge base rejects the call for rate.
	ThrottledReply = "Request Rate exceeded, please wait a minute and try again"

	defaultSessionWindow = 600 * time.Second
	defaultMaxTokens     = 300
	defaultTemperature   = 0.3
)

var restartKeywords = map[string]struct{}{
	"restart":  {},
	"begin":    {},
	"commence": {},
	"initiate": {},
	"launch":   {},
	"start":    {},
	"demo":     {},
	"go":       {},
	"reset":    {},
	"clear":    {},
}

type ConversationStore interface {
	Put(ctx context.Context, turn domain.Turn) error
	QueryBySender(ctx context.Context, sender string, channel domain.Channel) ([]domain.Turn, error)
	DeleteAllForSender(ctx context.Context, sender string) (int, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrieveRequest) (domain.Retrieval, error)
}

type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

// Sender delivers a reply on one channel and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, to, text string) (string, error)
}

// ReadMarker is implemented by senders whose channel supports read receipts.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

type throttler interface {
	Throttled() bool
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Config struct {
	KnowledgeBaseID     string
	OriginationNumberID string
	SessionWindow       time.Duration
	MaxTokens           int
	Temperature         float64
}

// Outcome describes what Process did with one message.
type Outcome struct {
	Restarted         bool
	Deleted           int
	Answer            string
	Source            domain.Source
	SessionID         string
	OutboundMessageID string
}

type ChatService struct {
	store     ConversationStore
	retriever Retriever
	generator Generator
	senders   map[domain.Channel]Sender
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*ChatService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ChatService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *ChatService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewChatService(store ConversationStore, r Retriever, g Generator, senders map[domain.Channel]Sender, cfg Config, opts ...Option) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if g == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if len(senders) == 0 {
		return nil, errors.New("usecase: at least one channel sender is required")
	}
	for ch, sender := range senders {
		if sender == nil {
			return nil, errors.New("usecase: sender for channel " + string(ch) + " must not be nil")
		}
	}
	cfg.KnowledgeBaseID = strings.TrimSpace(cfg.KnowledgeBaseID)
	if cfg.KnowledgeBaseID == "" {
		return nil, errors.New("usecase: knowledge base id must not be empty")
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = defaultSessionWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}

	s := &ChatService{
		store:     store,
		retriever: r,
		generator: g,
		senders:   senders,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process handles one inbound message: restart or answer, reply on the
// originating channel, then persist the inbound and outbound turns.
func (s *ChatService) Process(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if strings.TrimSpace(msg.Sender) == "" {
		return Outcome{}, newError(ErrorInvalidInput, "empty_sender", nil)
	}
	sender, ok := s.senders[msg.Channel]
	if !ok {
		return Outcome{}, newError(ErrorInvalidInput, "unsupported_channel", nil)
	}
	log := s.logger.With("sender", msg.Sender, "channel", string(msg.Channel))

	if IsRestart(msg.Body) {
		return s.restart(ctx, log, sender, msg)
	}

	history, err := s.store.QueryBySender(ctx, msg.Sender, msg.Channel)
	if err != nil {
		log.WarnContext(ctx, "history unavailable, continuing without it", "err", err)
		history = nil
	}
	sessionID := latestSessionID(history)

	answer, source, retrievedSession, err := s.answer(ctx, log, msg, history, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	// The session always comes from the knowledge base, even when the general
	// model answered, so both providers share one session scope.
	if sessionID == "" {
		sessionID = retrievedSession
	}

	outboundID, err := s.reply(ctx, sender, msg, answer)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, msg, answer, outboundID, sessionID, source); err != nil {
		return Outcome{}, err
	}

	log.InfoContext(ctx, "message answered", "source", string(source), "session_id", sessionID)
	return Outcome{
		Answer:            answer,
		Source:            source,
		SessionID:         sessionID,
		OutboundMessageID: outboundID,
	}, nil
}

// IsRestart reports whether body, trimmed and lowercased, is a restart keyword.
func IsRestart(body string) bool {
	_, ok := restartKeywords[strings.ToLower(strings.TrimSpace(body))]
	return ok
}

func (s *ChatService) restart(ctx context.Context, log *slog.Logger, sender Sender, msg domain.InboundMessage) (Outcome, error) {
	deleted, err := s.store.DeleteAllForSender(ctx, msg.Sender)
	if err != nil {
		log.WarnContext(ctx, "conversation delete incomplete", "deleted", deleted, "err", err)
	}

	outboundID, err := s.reply(ctx, sender, msg, RestartPrompt)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, msg, RestartPrompt, outboundID, "", domain.SourceNone); err != nil {
		return Outcome{}, err
	}

	log.InfoContext(ctx, "conversation restarted", "deleted", deleted)
	return Outcome{
		Restarted:         true,
		Deleted:           deleted,
		Answer:            RestartPrompt,
		OutboundMessageID: outboundID,
	}, nil
}

// answer asks the knowledge base first and falls back to the general model
// when the knowledge base cannot cite a reference.
func (s *ChatService) answer(ctx context.Context, log *slog.Logger, msg domain.InboundMessage, history []domain.Turn, sessionID string) (string, domain.Source, string, error) {
	retrieval, err := s.retriever.Retrieve(ctx, domain.RetrieveRequest{
		Query:           msg.Body,
		KnowledgeBaseID: s.cfg.KnowledgeBaseID,
		SessionID:       sessionID,
	})
	if err != nil {
		if isThrottled(err) {
			log.WarnContext(ctx, "knowledge base throttled", "err", err)
			return ThrottledReply, domain.SourceKnowledgeBase, "", nil
		}
		return "", "", "", newError(ErrorUpstream, "bedrock_retrieve_error", err)
	}
	if retrieval.Grounded() {
		return retrieval.Output, domain.SourceKnowledgeBase, retrieval.SessionID, nil
	}

	text, err := s.generator.Generate(ctx, domain.GenerateRequest{
		Messages:    buildTranscript(history, msg.Body),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		if isRateLimited(err) {
			return "", "", "", newError(ErrorRateLimited, "model_rate_limited", err)
		}
		return "", "", "", newError(ErrorUpstream, "model_invoke_error", err)
	}
	return text, domain.SourceGeneralModel, retrieval.SessionID, nil
}

func (s *ChatService) reply(ctx context.Context, sender Sender, msg domain.InboundMessage, text string) (string, error) {
	if marker, ok := sender.(ReadMarker); ok && msg.MessageID != "" {
		if err := marker.MarkRead(ctx, msg.MessageID); err != nil {
			return "", newError(ErrorUpstream, string(msg.Channel)+"_read_receipt_error", err)
		}
	}
	id, err := sender.Send(ctx, msg.Sender, text)
	if err != nil {
		return "", newError(ErrorUpstream, string(msg.Channel)+"_send_error", err)
	}
	return id, nil
}

// persist writes the inbound turn, then the outbound turn. A failed outbound
// write leaves the inbound turn in place.
func (s *ChatService) persist(ctx context.Context, msg domain.InboundMessage, answer, outboundID, sessionID string, source domain.Source) error {
	now := s.now()
	ttl := now.Add(s.cfg.SessionWindow).Unix()

	inboundAt := now.UnixMilli()
	if !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(now) {
		inboundAt = msg.ReceivedAt.UnixMilli()
	}
	outboundAt := max(now.UnixMilli(), inboundAt+1)

	inboundID := msg.MessageID
	if inboundID == "" {
		inboundID = s.newID()
	}
	if outboundID == "" {
		outboundID = s.newID()
	}

	base := domain.Turn{
		Sender:                     msg.Sender,
		Channel:                    msg.Channel,
		OriginationNumberID:        s.cfg.OriginationNumberID,
		PreviousPublishedMessageID: msg.PreviousPublishedMessageID,
		SessionID:                  sessionID,
		Source:                     source,
		KnowledgeBaseID:            s.cfg.KnowledgeBaseID,
		TTL:                        ttl,
	}

	inbound := base
	inbound.MessageID = inboundID
	inbound.Direction = domain.DirectionInbound
	inbound.Text = sanitize.Text(msg.Body)
	inbound.Timestamp = inboundAt
	if err := s.store.Put(ctx, inbound); err != nil {
		return newError(ErrorInternal, "dynamodb_write_error", err)
	}

	outbound := base
	outbound.MessageID = outboundID
	outbound.Direction = domain.DirectionOutbound
	outbound.Text = sanitize.Text(answer)
	outbound.Timestamp = outboundAt
	if err := s.store.Put(ctx, outbound); err != nil {
		return newError(ErrorInternal, "dynamodb_write_error", err)
	}
	return nil
}

// latestSessionID returns the session attached to the newest turn.
func latestSessionID(history []domain.Turn) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].SessionID
}

func isThrottled(err error) bool {
	var t throttler
	return errors.As(err, &t) && t.Throttled()
}

func isRateLimited(err error) bool {
	if isThrottled(err) {
		return true
	}
	var statusErr httpStatusCoder
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 429
}
