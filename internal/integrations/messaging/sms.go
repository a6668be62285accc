package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"
)

// smsAPI is the minimal Pinpoint SMS Voice v2 interface required by SMSSender.
type smsAPI interface {
	SendTextMessage(ctx context.Context, in *pinpointsmsvoicev2.SendTextMessageInput, optFns ...func(*pinpointsmsvoicev2.Options)) (*pinpointsmsvoicev2.SendTextMessageOutput, error)
}

// SMSSender replies over SMS from a fixed origination identity.
type SMSSender struct {
	api                 smsAPI
	originationIdentity string
}

func NewSMSSender(api smsAPI, originationIdentity string) (*SMSSender, error) {
	if api == nil {
		return nil, errors.New("messaging: sms api must not be nil")
	}
	originationIdentity = strings.TrimSpace(originationIdentity)
	if originationIdentity == "" {
		return nil, errors.New("messaging: sms origination identity must not be empty")
	}
	return &SMSSender{api: api, originationIdentity: originationIdentity}, nil
}

// Send delivers text to the destination phone number and returns the message id.
func (s *SMSSender) Send(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("messaging: sms destination must not be empty")
	}
	out, err := s.api.SendTextMessage(ctx, &pinpointsmsvoicev2.SendTextMessageInput{
		DestinationPhoneNumber: aws.String(to),
		OriginationIdentity:    aws.String(s.originationIdentity),
		MessageBody:            aws.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("messaging: SendTextMessage: %w", err)
	}
	if out == nil {
		return "", nil
	}
	return aws.ToString(out.MessageId), nil
}
