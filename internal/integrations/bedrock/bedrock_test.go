package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"kb-messaging-assistant/internal/domain"
)

const testModelARN = "arn:aws:bedrock:us-east-1::foundation-model/anthropic.claude-3-sonnet-20240229-v1:0"

type fakeAgentRuntime struct {
	out    *bedrockagentruntime.RetrieveAndGenerateOutput
	err    error
	lastIn *bedrockagentruntime.RetrieveAndGenerateInput
}

func (f *fakeAgentRuntime) RetrieveAndGenerate(_ context.Context, in *bedrockagentruntime.RetrieveAndGenerateInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateOutput, error) {
	f.lastIn = in
	return f.out, f.err
}

type fakeRuntime struct {
	body   string
	err    error
	lastIn *bedrockruntime.InvokeModelInput
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func mustKB(t *testing.T, api agentRuntimeAPI, opts ...KnowledgeBaseOption) *KnowledgeBaseClient {
	t.Helper()
	c, err := NewKnowledgeBaseClient(api, testModelARN, 300, 0.3, opts...)
	require.NoError(t, err)
	return c
}

func TestFoundationModelARN(t *testing.T) {
	require.Equal(t, testModelARN, FoundationModelARN("us-east-1", "anthropic.claude-3-sonnet-20240229-v1:0"))
}

func TestNewKnowledgeBaseClient_Validates(t *testing.T) {
	_, err := NewKnowledgeBaseClient(nil, testModelARN, 300, 0.3)
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewKnowledgeBaseClient(&fakeAgentRuntime{}, " ", 300, 0.3)
	require.ErrorContains(t, err, "model arn")
	_, err = NewKnowledgeBaseClient(&fakeAgentRuntime{}, testModelARN, 0, 0.3)
	require.ErrorContains(t, err, "max tokens")
}

func TestRetrieve_HappyPath(t *testing.T) {
	api := &fakeAgentRuntime{out: &bedrockagentruntime.RetrieveAndGenerateOutput{
		Output:    &types.RetrieveAndGenerateOutput{Text: aws.String("We are open 9am to 5pm.")},
		SessionId: aws.String("sess-1"),
		Citations: []types.Citation{{
			GeneratedResponsePart: &types.GeneratedResponsePart{TextResponsePart: &types.TextResponsePart{Text: aws.String("open 9-5")}},
			RetrievedReferences: []types.RetrievedReference{{
				Content:  &types.RetrievalResultContent{Text: aws.String("Hours: 9-5")},
				Location: &types.RetrievalResultLocation{S3Location: &types.RetrievalResultS3Location{Uri: aws.String("s3://docs/hours.pdf")}},
			}},
		}},
	}}
	c := mustKB(t, api)

	got, err := c.Retrieve(context.Background(), domain.RetrieveRequest{Query: "What are your hours?", KnowledgeBaseID: "KB123"})
	require.NoError(t, err)
	require.Equal(t, domain.Retrieval{
		Output:    "We are open 9am to 5pm.",
		SessionID: "sess-1",
		Citations: []domain.Citation{{
			Text:       "open 9-5",
			References: []domain.Reference{{Text: "Hours: 9-5", Location: "s3://docs/hours.pdf"}},
		}},
	}, got)
	require.True(t, got.Grounded())

	in := api.lastIn
	require.Nil(t, in.SessionId)
	require.Equal(t, "What are your hours?", *in.Input.Text)
	require.Equal(t, types.RetrieveAndGenerateTypeKnowledgeBase, in.RetrieveAndGenerateConfiguration.Type)
	kb := in.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration
	require.Equal(t, "KB123", *kb.KnowledgeBaseId)
	require.Equal(t, testModelARN, *kb.ModelArn)
	require.Equal(t, int32(300), *kb.GenerationConfiguration.InferenceConfig.TextInferenceConfig.MaxTokens)
	require.InDelta(t, 0.3, float64(*kb.GenerationConfiguration.InferenceConfig.TextInferenceConfig.Temperature), 1e-6)
	require.Nil(t, kb.GenerationConfiguration.PromptTemplate)
}

func TestRetrieve_PassesSessionAndPromptTemplate(t *testing.T) {
	api := &fakeAgentRuntime{out: &bedrockagentruntime.RetrieveAndGenerateOutput{SessionId: aws.String("sess-1")}}
	c := mustKB(t, api, WithPromptTemplate("Answer from $search_results$"))

	got, err := c.Retrieve(context.Background(), domain.RetrieveRequest{Query: "q", KnowledgeBaseID: "KB123", SessionID: "sess-1"})
	require.NoError(t, err)
	require.False(t, got.Grounded())
	require.Equal(t, "sess-1", *api.lastIn.SessionId)
	require.Equal(t, "Answer from $search_results$",
		*api.lastIn.RetrieveAndGenerateConfiguration.KnowledgeBaseConfiguration.GenerationConfiguration.PromptTemplate.TextPromptTemplate)
}

func TestRetrieve_CitationWithoutReferencesIsNotGrounded(t *testing.T) {
	api := &fakeAgentRuntime{out: &bedrockagentruntime.RetrieveAndGenerateOutput{
		Output:    &types.RetrieveAndGenerateOutput{Text: aws.String("Sorry, I am unable to assist you with this request.")},
		SessionId: aws.String("sess-1"),
		Citations: []types.Citation{{}},
	}}
	got, err := mustKB(t, api).Retrieve(context.Background(), domain.RetrieveRequest{Query: "q", KnowledgeBaseID: "KB123"})
	require.NoError(t, err)
	require.Len(t, got.Citations, 1)
	require.False(t, got.Grounded())
}

func TestRetrieve_Throttled(t *testing.T) {
	cases := map[string]error{
		"typed":   &types.ThrottlingException{Message: aws.String("Rate exceeded")},
		"generic": &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
	}
	for name, apiErr := range cases {
		t.Run(name, func(t *testing.T) {
			c := mustKB(t, &fakeAgentRuntime{err: fmt.Errorf("operation error: %w", apiErr)})
			_, err := c.Retrieve(context.Background(), domain.RetrieveRequest{Query: "q", KnowledgeBaseID: "KB123"})

			var throttled *ThrottlingError
			require.ErrorAs(t, err, &throttled)
			require.True(t, throttled.Throttled())
			require.Equal(t, "RetrieveAndGenerate", throttled.Op)
		})
	}
}

func TestRetrieve_OtherError(t *testing.T) {
	c := mustKB(t, &fakeAgentRuntime{err: &types.AccessDeniedException{Message: aws.String("denied")}})
	_, err := c.Retrieve(context.Background(), domain.RetrieveRequest{Query: "q", KnowledgeBaseID: "KB123"})
	require.ErrorContains(t, err, "RetrieveAndGenerate")
	var throttled *ThrottlingError
	require.False(t, errors.As(err, &throttled))
}

func TestRetrieve_ValidatesRequest(t *testing.T) {
	c := mustKB(t, &fakeAgentRuntime{})
	_, err := c.Retrieve(context.Background(), domain.RetrieveRequest{Query: " ", KnowledgeBaseID: "KB123"})
	require.ErrorContains(t, err, "query")
	_, err = c.Retrieve(context.Background(), domain.RetrieveRequest{Query: "q"})
	require.ErrorContains(t, err, "knowledge base id")
}

func TestNewModelClient_Validates(t *testing.T) {
	_, err := NewModelClient(nil, "model")
	require.Error(t, err)
	_, err = NewModelClient(&fakeRuntime{}, "")
	require.Error(t, err)
}

func TestGenerate_HappyPath(t *testing.T) {
	api := &fakeRuntime{body: `{"content":[{"type":"text","text":"Sure thing."},{"type":"text","text":"ignored"}],"stop_reason":"end_turn"}`}
	c, err := NewModelClient(api, "anthropic.claude-3-sonnet-20240229-v1:0")
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), domain.GenerateRequest{
		Messages:    []domain.ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens:   300,
		Temperature: 0.3,
	})
	require.NoError(t, err)
	require.Equal(t, "Sure thing.", text)
	require.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", *api.lastIn.ModelId)
	require.Equal(t, "application/json", *api.lastIn.ContentType)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(api.lastIn.Body, &sent))
	require.Equal(t, "bedrock-2023-05-31", sent["anthropic_version"])
	require.Equal(t, float64(300), sent["max_tokens"])
	require.Equal(t, 0.3, sent["temperature"])
	require.Len(t, sent["messages"], 1)
}

func TestGenerate_Errors(t *testing.T) {
	msgs := []domain.ChatMessage{{Role: "user", Content: "hi"}}
	cases := []struct {
		name    string
		api     *fakeRuntime
		msgs    []domain.ChatMessage
		wantErr string
	}{
		{name: "no messages", api: &fakeRuntime{}, wantErr: "messages must not be empty"},
		{name: "empty content", api: &fakeRuntime{body: `{"content":[]}`}, msgs: msgs, wantErr: "no content"},
		{name: "malformed body", api: &fakeRuntime{body: `{`}, msgs: msgs, wantErr: "decode response"},
		{name: "api error", api: &fakeRuntime{err: errors.New("ValidationException")}, msgs: msgs, wantErr: "InvokeModel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewModelClient(tc.api, "model")
			require.NoError(t, err)
			_, err = c.Generate(context.Background(), domain.GenerateRequest{Messages: tc.msgs, MaxTokens: 10})
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestGenerate_Throttled(t *testing.T) {
	c, err := NewModelClient(&fakeRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException"}}, "model")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), domain.GenerateRequest{Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}}})
	var throttled *ThrottlingError
	require.ErrorAs(t, err, &throttled)
}
