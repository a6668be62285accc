package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/socialmessaging"
)

const (
	metaAPIVersion      = "v19.0"
	messagingProduct    = "whatsapp"
	recipientIndividual = "individual"
)

// socialMessagingAPI is the minimal AWS End User Messaging Social interface
// required by WhatsAppSender.
type socialMessagingAPI interface {
	SendWhatsAppMessage(ctx context.Context, in *socialmessaging.SendWhatsAppMessageInput, optFns ...func(*socialmessaging.Options)) (*socialmessaging.SendWhatsAppMessageOutput, error)
}

type whatsAppText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// whatsAppMessage is the Meta Graph API message payload.
type whatsAppMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type,omitempty"`
	To               string        `json:"to,omitempty"`
	Type             string        `json:"type,omitempty"`
	Text             *whatsAppText `json:"text,omitempty"`
	MessageID        string        `json:"message_id,omitempty"`
	Status           string        `json:"status,omitempty"`
}

// WhatsAppSender replies over WhatsApp and issues read receipts.
type WhatsAppSender struct {
	api           socialMessagingAPI
	phoneNumberID string
}

func NewWhatsAppSender(api socialMessagingAPI, phoneNumberID string) (*WhatsAppSender, error) {
	if api == nil {
		return nil, errors.New("messaging: social messaging api must not be nil")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("messaging: whatsapp phone number id must not be empty")
	}
	return &WhatsAppSender{api: api, phoneNumberID: phoneNumberID}, nil
}

// Send delivers a text message and returns the provider message id.
func (s *WhatsAppSender) Send(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("messaging: whatsapp destination must not be empty")
	}
	return s.send(ctx, "send", whatsAppMessage{
		MessagingProduct: messagingProduct,
		RecipientType:    recipientIndividual,
		To:               to,
		Type:             "text",
		Text:             &whatsAppText{Body: text},
	})
}

// MarkRead marks an inbound message as read.
func (s *WhatsAppSender) MarkRead(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("messaging: whatsapp message id must not be empty")
	}
	_, err := s.send(ctx, "mark read", whatsAppMessage{
		MessagingProduct: messagingProduct,
		MessageID:        messageID,
		Status:           "read",
	})
	return err
}

func (s *WhatsAppSender) send(ctx context.Context, op string, msg whatsAppMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("messaging: whatsapp %s: marshal: %w", op, err)
	}
	out, err := s.api.SendWhatsAppMessage(ctx, &socialmessaging.SendWhatsAppMessageInput{
		OriginationPhoneNumberId: aws.String(s.phoneNumberID),
		Message:                  payload,
		MetaApiVersion:           aws.String(metaAPIVersion),
	})
	if err != nil {
		return "", fmt.Errorf("messaging: whatsapp %s: %w", op, err)
	}
	if out == nil {
		return "", nil
	}
	return aws.ToString(out.MessageId), nil
}
