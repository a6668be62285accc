package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"kb-messaging-assistant/internal/domain"
)

const anthropicVersion = "bedrock-2023-05-31"

// runtimeAPI is the minimal Bedrock Runtime interface required by ModelClient.
type runtimeAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// messagesRequest is the Anthropic messages envelope accepted by InvokeModel.
type messagesRequest struct {
	AnthropicVersion string               `json:"anthropic_version"`
	Messages         []domain.ChatMessage `json:"messages"`
	MaxTokens        int                  `json:"max_tokens"`
	Temperature      float64              `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// ModelClient invokes a general-purpose Bedrock model with a chat transcript.
type ModelClient struct {
	api     runtimeAPI
	modelID string
}

func NewModelClient(api runtimeAPI, modelID string) (*ModelClient, error) {
	if api == nil {
		return nil, errors.New("bedrock: runtime api must not be nil")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, errors.New("bedrock: model id must not be empty")
	}
	return &ModelClient{api: api, modelID: modelID}, nil
}

// Generate returns the text of the first content block of the model response.
func (c *ModelClient) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("bedrock: messages must not be empty")
	}

	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: anthropicVersion,
		Messages:         req.Messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if isThrottling(err) {
			return "", &ThrottlingError{Op: "InvokeModel", Err: err}
		}
		return "", fmt.Errorf("bedrock: InvokeModel: %w", err)
	}
	if out == nil {
		return "", errors.New("bedrock: InvokeModel: empty response")
	}

	var payload messagesResponse
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		return "", fmt.Errorf("bedrock: decode response: %w", err)
	}
	if len(payload.Content) == 0 {
		return "", errors.New("bedrock: no content in response")
	}
	return payload.Content[0].Text, nil
}
