package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"kb-messaging-assistant/internal/domain"
	"kb-messaging-assistant/internal/inbound"
	"kb-messaging-assistant/internal/usecase"
)

type chatUseCase interface {
	Process(ctx context.Context, msg domain.InboundMessage) (usecase.Outcome, error)
}

type decoder interface {
	Decode(topicARN, payload string, receivedAt time.Time) (inbound.Event, error)
}

type ChatOption func(*ChatHandler)

func WithLogger(logger *slog.Logger) ChatOption {
	return func(h *ChatHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAckOnError controls whether a batch with failed records is reported as
// success. When false, Handle returns the joined per-record errors so the
// invocation is retried.
func WithAckOnError(ack bool) ChatOption {
	return func(h *ChatHandler) {
		h.ackOnError = ack
	}
}

// ChatHandler consumes SNS batches of inbound channel notifications.
type ChatHandler struct {
	uc         chatUseCase
	decoder    decoder
	logger     *slog.Logger
	ackOnError bool
}

func NewChatHandler(uc chatUseCase, dec decoder, opts ...ChatOption) (*ChatHandler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if dec == nil {
		return nil, errors.New("handler: decoder must not be nil")
	}
	h := &ChatHandler{
		uc:         uc,
		decoder:    dec,
		logger:     slog.Default(),
		ackOnError: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle processes records in order. A record that fails never stops the
// records after it.
func (h *ChatHandler) Handle(ctx context.Context, event events.SNSEvent) error {
	log := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.With("request_id", lc.AwsRequestID)
	}

	var errs []error
	for i, record := range event.Records {
		if err := h.handleRecord(ctx, log.With("sns_message_id", record.SNS.MessageID), record.SNS); err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i, record.SNS.MessageID, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if h.ackOnError {
		log.Warn("acknowledging batch with failed records", "failed", len(errs), "total", len(event.Records))
		return nil
	}
	return errors.Join(errs...)
}

func (h *ChatHandler) handleRecord(ctx context.Context, log *slog.Logger, rec events.SNSEntity) error {
	ev, err := h.decoder.Decode(rec.TopicArn, rec.Message, rec.Timestamp)
	if err != nil {
		log.Error("skipping undecodable record", "err", err, "topic_arn", rec.TopicArn)
		return err
	}

	switch e := ev.(type) {
	case inbound.NonMessage:
		log.Info("ignoring non-message event", "channel", e.Channel, "kind", e.Kind)
		return nil
	case inbound.Message:
		log = log.With("sender", e.Sender, "channel", e.Channel)
		out, err := h.uc.Process(ctx, e.InboundMessage)
		if err != nil {
			attrs := []any{"err", err}
			var ucErr *usecase.Error
			if errors.As(err, &ucErr) {
				attrs = append(attrs, "code", ucErr.Code, "reason", ucErr.Reason)
			}
			log.Error("failed to process message", attrs...)
			return err
		}
		log.Info("message processed",
			"restarted", out.Restarted,
			"deleted", out.Deleted,
			"source", out.Source,
			"session_id", out.SessionID,
			"outbound_message_id", out.OutboundMessageID,
		)
		return nil
	default:
		return fmt.Errorf("handler: unexpected event type %T", ev)
	}
}
