package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"kb-messaging-assistant/internal/domain"
)

// agentRuntimeAPI is the minimal Bedrock Agent Runtime interface required by
// KnowledgeBaseClient. *bedrockagentruntime.Client satisfies it.
type agentRuntimeAPI interface {
	RetrieveAndGenerate(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// KnowledgeBaseClient answers questions from a Bedrock knowledge base.
type KnowledgeBaseClient struct {
	api            agentRuntimeAPI
	modelARN       string
	maxTokens      int32
	temperature    float32
	promptTemplate string
}

type KnowledgeBaseOption func(*KnowledgeBaseClient)

// WithPromptTemplate overrides the knowledge base generation prompt.
func WithPromptTemplate(template string) KnowledgeBaseOption {
	return func(c *KnowledgeBaseClient) {
		c.promptTemplate = strings.TrimSpace(template)
	}
}

func NewKnowledgeBaseClient(api agentRuntimeAPI, modelARN string, maxTokens int, temperature float64, opts ...KnowledgeBaseOption) (*KnowledgeBaseClient, error) {
	if api == nil {
		return nil, errors.New("bedrock: agent runtime api must not be nil")
	}
	modelARN = strings.TrimSpace(modelARN)
	if modelARN == "" {
		return nil, errors.New("bedrock: model arn must not be empty")
	}
	if maxTokens <= 0 {
		return nil, errors.New("bedrock: max tokens must be positive")
	}
	c := &KnowledgeBaseClient{
		api:         api,
		modelARN:    modelARN,
		maxTokens:   int32(maxTokens),
		temperature: float32(temperature),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FoundationModelARN returns the regional ARN of a Bedrock foundation model.
func FoundationModelARN(region, modelID string) string {
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, modelID)
}

// Retrieve calls RetrieveAndGenerate. A throttled call returns a *ThrottlingError.
func (c *KnowledgeBaseClient) Retrieve(ctx context.Context, req domain.RetrieveRequest) (domain.Retrieval, error) {
	if strings.TrimSpace(req.Query) == "" {
		return domain.Retrieval{}, errors.New("bedrock: query must not be empty")
	}
	if strings.TrimSpace(req.KnowledgeBaseID) == "" {
		return domain.Retrieval{}, errors.New("bedrock: knowledge base id must not be empty")
	}

	generation := &types.GenerationConfiguration{
		InferenceConfig: &types.InferenceConfig{
			TextInferenceConfig: &types.TextInferenceConfig{
				MaxTokens:   aws.Int32(c.maxTokens),
				Temperature: aws.Float32(c.temperature),
			},
		},
	}
	if c.promptTemplate != "" {
		generation.PromptTemplate = &types.PromptTemplate{TextPromptTemplate: aws.String(c.promptTemplate)}
	}

	in := &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &types.RetrieveAndGenerateInput{Text: aws.String(req.Query)},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId:         aws.String(req.KnowledgeBaseID),
				ModelArn:                aws.String(c.modelARN),
				GenerationConfiguration: generation,
			},
		},
	}
	if req.SessionID != "" {
		in.SessionId = aws.String(req.SessionID)
	}

	out, err := c.api.RetrieveAndGenerate(ctx, in)
	if err != nil {
		if isThrottling(err) {
			return domain.Retrieval{}, &ThrottlingError{Op: "RetrieveAndGenerate", Err: err}
		}
		return domain.Retrieval{}, fmt.Errorf("bedrock: RetrieveAndGenerate: %w", err)
	}
	if out == nil {
		return domain.Retrieval{}, errors.New("bedrock: RetrieveAndGenerate: empty response")
	}

	result := domain.Retrieval{SessionID: aws.ToString(out.SessionId)}
	if out.Output != nil {
		result.Output = aws.ToString(out.Output.Text)
	}
	for _, citation := range out.Citations {
		result.Citations = append(result.Citations, toCitation(citation))
	}
	return result, nil
}

func toCitation(c types.Citation) domain.Citation {
	out := domain.Citation{}
	if c.GeneratedResponsePart != nil && c.GeneratedResponsePart.TextResponsePart != nil {
		out.Text = aws.ToString(c.GeneratedResponsePart.TextResponsePart.Text)
	}
	for _, ref := range c.RetrievedReferences {
		r := domain.Reference{}
		if ref.Content != nil {
			r.Text = aws.ToString(ref.Content.Text)
		}
		if ref.Location != nil {
			r.Location = referenceLocation(ref.Location)
		}
		out.References = append(out.References, r)
	}
	return out
}

func referenceLocation(loc *types.RetrievalResultLocation) string {
	switch {
	case loc.S3Location != nil:
		return aws.ToString(loc.S3Location.Uri)
	case loc.WebLocation != nil:
		return aws.ToString(loc.WebLocation.Url)
	default:
		return string(loc.Type)
	}
}
