package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"CONTEXT_DYNAMODB_TABLE": "conversations",
		"KNOWLEDGE_BASE_ID":      "KB123",
		"BEDROCK_MODEL_ID":       "anthropic.claude-3-sonnet-20240229-v1:0",
		"PHONE_NUMBER_ID":        "phone-abc",
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(envFrom(baseEnv()))
	require.NoError(t, err)
	require.Equal(t, config{
		Table:               "conversations",
		KnowledgeBaseID:     "KB123",
		ModelID:             "anthropic.claude-3-sonnet-20240229-v1:0",
		PhoneNumberID:       "phone-abc",
		OriginationNumberID: "phone-abc",
		SessionWindow:       600 * time.Second,
		MaxTokens:           300,
		Temperature:         0.3,
		FallbackProvider:    fallbackBedrock,
		AckOnError:          true,
	}, cfg)
}

func TestLoadConfig_Overrides(t *testing.T) {
	env := baseEnv()
	env["WHATSAPP_PHONE_NUMBER_ID"] = "phone-number-id-1"
	env["WHATSAPP_SNS_TOPIC_ARN"] = "arn:aws:sns:us-east-1:123:wa"
	env["EUM_PHONE_NUMBER_ID"] = "phone-eum"
	env["SESSION_SECONDS"] = "120"
	env["LLM_MAX_TOKENS"] = "512"
	env["LLM_TEMPERATURE"] = "0"
	env["FALLBACK_PROVIDER"] = "OpenAI"
	env["PARAM_PREFIX"] = "/kb-assistant"
	env["ACK_ON_ERROR"] = "false"
	env["APPLICATION_VERSION"] = "1.2.0"

	cfg, err := loadConfig(envFrom(env))
	require.NoError(t, err)
	require.Equal(t, "phone-number-id-1", cfg.WhatsAppPhoneID)
	require.Equal(t, "phone-eum", cfg.OriginationNumberID)
	require.Equal(t, 2*time.Minute, cfg.SessionWindow)
	require.Equal(t, 512, cfg.MaxTokens)
	require.Zero(t, cfg.Temperature)
	require.Equal(t, fallbackOpenAI, cfg.FallbackProvider)
	require.False(t, cfg.AckOnError)
	require.Equal(t, "1.2.0", cfg.Version)
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{name: "missing table", mutate: func(m map[string]string) { delete(m, "CONTEXT_DYNAMODB_TABLE") }, wantErr: "CONTEXT_DYNAMODB_TABLE is required"},
		{name: "missing kb", mutate: func(m map[string]string) { m["KNOWLEDGE_BASE_ID"] = " " }, wantErr: "KNOWLEDGE_BASE_ID is required"},
		{name: "bad seconds", mutate: func(m map[string]string) { m["SESSION_SECONDS"] = "ten" }, wantErr: "SESSION_SECONDS"},
		{name: "zero tokens", mutate: func(m map[string]string) { m["LLM_MAX_TOKENS"] = "0" }, wantErr: "LLM_MAX_TOKENS"},
		{name: "negative temperature", mutate: func(m map[string]string) { m["LLM_TEMPERATURE"] = "-1" }, wantErr: "LLM_TEMPERATURE"},
		{name: "bad bool", mutate: func(m map[string]string) { m["ACK_ON_ERROR"] = "sometimes" }, wantErr: "ACK_ON_ERROR"},
		{name: "unknown provider", mutate: func(m map[string]string) { m["FALLBACK_PROVIDER"] = "llama" }, wantErr: "FALLBACK_PROVIDER"},
		{name: "openai without prefix", mutate: func(m map[string]string) { m["FALLBACK_PROVIDER"] = "openai" }, wantErr: "PARAM_PREFIX is required"},
		{name: "whatsapp topic without phone", mutate: func(m map[string]string) { m["WHATSAPP_SNS_TOPIC_ARN"] = "arn" }, wantErr: "WHATSAPP_PHONE_NUMBER_ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			tc.mutate(env)
			_, err := loadConfig(envFrom(env))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfig_ReportsAllMissing(t *testing.T) {
	_, err := loadConfig(envFrom(map[string]string{}))
	for _, key := range []string{"CONTEXT_DYNAMODB_TABLE", "KNOWLEDGE_BASE_ID", "BEDROCK_MODEL_ID", "PHONE_NUMBER_ID"} {
		require.ErrorContains(t, err, key)
	}
}

type fakeGetter map[string]string

func (f fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("ParameterNotFound")
	}
	return v, nil
}

func TestResolveEnv(t *testing.T) {
	env := baseEnv()
	env["KNOWLEDGE_BASE_ID"] = "ssm:/kb-assistant/knowledge-base-id"
	env["UNRELATED"] = "ssm:/never-read"

	getenv, err := resolveEnv(context.Background(), fakeGetter{"/kb-assistant/knowledge-base-id": "KB777"}, envFrom(env))
	require.NoError(t, err)
	require.Equal(t, "KB777", getenv("KNOWLEDGE_BASE_ID"))
	require.Equal(t, "conversations", getenv("CONTEXT_DYNAMODB_TABLE"))
	require.Empty(t, getenv("UNRELATED"))

	cfg, err := loadConfig(getenv)
	require.NoError(t, err)
	require.Equal(t, "KB777", cfg.KnowledgeBaseID)
}

func TestResolveEnv_MissingParameter(t *testing.T) {
	env := baseEnv()
	env["PHONE_NUMBER_ID"] = "ssm:/missing"
	_, err := resolveEnv(context.Background(), fakeGetter{}, envFrom(env))
	require.ErrorContains(t, err, "PHONE_NUMBER_ID")
	require.ErrorContains(t, err, "ParameterNotFound")
}
