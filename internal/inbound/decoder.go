// Package inbound decodes raw channel notifications into normalized inbound
// messages. Every payload decodes to exactly one Event variant or an error.
package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kb-messaging-assistant/internal/domain"
)

// ErrMalformed wraps every payload that cannot be decoded.
var ErrMalformed = errors.New("inbound: malformed payload")

// Event is either a Message or a NonMessage.
type Event interface {
	event()
}

// Message is a user-authored text message.
type Message struct {
	domain.InboundMessage
}

// NonMessage is a channel notification that carries no user text, such as a
// delivery status callback. It is acknowledged and dropped.
type NonMessage struct {
	Channel domain.Channel
	Kind    string
}

func (Message) event()    {}
func (NonMessage) event() {}

// smsPayload is the two-way SMS notification published to SNS.
type smsPayload struct {
	OriginationNumber          string `json:"originationNumber"`
	DestinationNumber          string `json:"destinationNumber"`
	MessageKeyword             string `json:"messageKeyword"`
	MessageBody                string `json:"messageBody"`
	InboundMessageID           string `json:"inboundMessageId"`
	PreviousPublishedMessageID string `json:"previousPublishedMessageId"`
}

// whatsAppPayload is the social messaging notification; the webhook entry is
// itself a JSON document encoded as a string.
type whatsAppPayload struct {
	WebhookEntry string `json:"whatsAppWebhookEntry"`
}

type webhookEntry struct {
	ID      string `json:"id"`
	Changes []struct {
		Field string `json:"field"`
		Value struct {
			Messages []webhookMessage `json:"messages"`
			Statuses []struct {
				Status string `json:"status"`
			} `json:"statuses"`
		} `json:"value"`
	} `json:"changes"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Decoder routes payloads by the topic they were published to.
type Decoder struct {
	whatsAppTopicARN string
}

// NewDecoder returns a Decoder that treats payloads from whatsAppTopicARN as
// WhatsApp webhook envelopes and everything else as SMS. An empty ARN
// disables WhatsApp decoding.
func NewDecoder(whatsAppTopicARN string) *Decoder {
	return &Decoder{whatsAppTopicARN: strings.TrimSpace(whatsAppTopicARN)}
}

// Decode parses payload. receivedAt is used when the payload has no timestamp
// of its own.
func (d *Decoder) Decode(topicARN, payload string, receivedAt time.Time) (Event, error) {
	if d.whatsAppTopicARN != "" && topicARN == d.whatsAppTopicARN {
		return decodeWhatsApp(payload, receivedAt)
	}
	return decodeSMS(payload, receivedAt)
}

func decodeSMS(payload string, receivedAt time.Time) (Event, error) {
	var p smsPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("%w: sms: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(p.OriginationNumber) == "" {
		return nil, fmt.Errorf("%w: sms: missing originationNumber", ErrMalformed)
	}
	if strings.TrimSpace(p.MessageBody) == "" {
		return nil, fmt.Errorf("%w: sms: missing messageBody", ErrMalformed)
	}
	return Message{domain.InboundMessage{
		Sender:                     p.OriginationNumber,
		Channel:                    domain.ChannelSMS,
		Body:                       p.MessageBody,
		MessageID:                  p.InboundMessageID,
		PreviousPublishedMessageID: p.PreviousPublishedMessageID,
		ReceivedAt:                 receivedAt,
	}}, nil
}

func decodeWhatsApp(payload string, receivedAt time.Time) (Event, error) {
	var p whatsAppPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("%w: whatsapp: %v", ErrMalformed, err)
	}
	if p.WebhookEntry == "" {
		return nil, fmt.Errorf("%w: whatsapp: missing whatsAppWebhookEntry", ErrMalformed)
	}
	var entry webhookEntry
	if err := json.Unmarshal([]byte(p.WebhookEntry), &entry); err != nil {
		return nil, fmt.Errorf("%w: whatsapp webhook entry: %v", ErrMalformed, err)
	}

	if len(entry.Changes) == 0 {
		return NonMessage{Channel: domain.ChannelWhatsApp, Kind: "empty"}, nil
	}
	value := entry.Changes[0].Value
	if len(value.Messages) == 0 {
		if len(value.Statuses) > 0 {
			return NonMessage{Channel: domain.ChannelWhatsApp, Kind: "status:" + value.Statuses[0].Status}, nil
		}
		return NonMessage{Channel: domain.ChannelWhatsApp, Kind: "field:" + entry.Changes[0].Field}, nil
	}

	m := value.Messages[0]
	if m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
		return NonMessage{Channel: domain.ChannelWhatsApp, Kind: "message:" + m.Type}, nil
	}
	if m.From == "" {
		return nil, fmt.Errorf("%w: whatsapp: message without sender", ErrMalformed)
	}

	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && sec > 0 {
		receivedAt = time.Unix(sec, 0).UTC()
	}
	return Message{domain.InboundMessage{
		Sender:                     "+" + strings.TrimPrefix(m.From, "+"),
		Channel:                    domain.ChannelWhatsApp,
		Body:                       m.Text.Body,
		MessageID:                  m.ID,
		PreviousPublishedMessageID: m.ID,
		ReceivedAt:                 receivedAt,
	}}, nil
}
