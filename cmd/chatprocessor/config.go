package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kb-messaging-assistant/internal/integrations/paramstore"
)

const (
	fallbackBedrock = "bedrock"
	fallbackOpenAI  = "openai"
)

// envKeys lists every variable the chat processor reads.
var envKeys = []string{
	"CONTEXT_DYNAMODB_TABLE",
	"KNOWLEDGE_BASE_ID",
	"BEDROCK_MODEL_ID",
	"PHONE_NUMBER_ID",
	"WHATSAPP_PHONE_NUMBER_ID",
	"WHATSAPP_SNS_TOPIC_ARN",
	"EUM_PHONE_NUMBER_ID",
	"SESSION_SECONDS",
	"LLM_MAX_TOKENS",
	"LLM_TEMPERATURE",
	"KB_PROMPT_TEMPLATE",
	"FALLBACK_PROVIDER",
	"PARAM_PREFIX",
	"ACK_ON_ERROR",
	"APPLICATION_VERSION",
	"LOG_LEVEL",
}

type config struct {
	Table               string
	KnowledgeBaseID     string
	ModelID             string
	PhoneNumberID       string
	WhatsAppPhoneID     string
	WhatsAppTopicARN    string
	OriginationNumberID string
	SessionWindow       time.Duration
	MaxTokens           int
	Temperature         float64
	PromptTemplate      string
	FallbackProvider    string
	ParamPrefix         string
	AckOnError          bool
	Version             string
	LogLevel            string
}

// resolveEnv returns a getenv that serves ssm: references from the parameter
// store. References are fetched once, up front.
func resolveEnv(ctx context.Context, getter paramstore.Getter, getenv func(string) string) (func(string) string, error) {
	resolved := make(map[string]string, len(envKeys))
	for _, key := range envKeys {
		raw := getenv(key)
		if !paramstore.IsReference(raw) {
			resolved[key] = raw
			continue
		}
		v, err := paramstore.Resolve(ctx, getter, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		resolved[key] = v
	}
	return func(key string) string { return resolved[key] }, nil
}

func loadConfig(getenv func(string) string) (config, error) {
	var errs []error
	required := func(key string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return v
	}

	cfg := config{
		Table:            required("CONTEXT_DYNAMODB_TABLE"),
		KnowledgeBaseID:  required("KNOWLEDGE_BASE_ID"),
		ModelID:          required("BEDROCK_MODEL_ID"),
		PhoneNumberID:    required("PHONE_NUMBER_ID"),
		WhatsAppPhoneID:  strings.TrimSpace(getenv("WHATSAPP_PHONE_NUMBER_ID")),
		WhatsAppTopicARN: strings.TrimSpace(getenv("WHATSAPP_SNS_TOPIC_ARN")),
		PromptTemplate:   getenv("KB_PROMPT_TEMPLATE"),
		ParamPrefix:      strings.TrimSpace(getenv("PARAM_PREFIX")),
		Version:          getenv("APPLICATION_VERSION"),
		LogLevel:         getenv("LOG_LEVEL"),
	}

	cfg.OriginationNumberID = strings.TrimSpace(getenv("EUM_PHONE_NUMBER_ID"))
	if cfg.OriginationNumberID == "" {
		cfg.OriginationNumberID = cfg.PhoneNumberID
	}

	seconds, err := envInt(getenv, "SESSION_SECONDS", 600)
	errs = appendErr(errs, err)
	cfg.SessionWindow = time.Duration(seconds) * time.Second

	cfg.MaxTokens, err = envInt(getenv, "LLM_MAX_TOKENS", 300)
	errs = appendErr(errs, err)

	cfg.Temperature, err = envFloat(getenv, "LLM_TEMPERATURE", 0.3)
	errs = appendErr(errs, err)

	cfg.AckOnError, err = envBool(getenv, "ACK_ON_ERROR", true)
	errs = appendErr(errs, err)

	cfg.FallbackProvider = strings.ToLower(strings.TrimSpace(getenv("FALLBACK_PROVIDER")))
	switch cfg.FallbackProvider {
	case "":
		cfg.FallbackProvider = fallbackBedrock
	case fallbackBedrock:
	case fallbackOpenAI:
		if cfg.ParamPrefix == "" {
			errs = append(errs, errors.New("PARAM_PREFIX is required when FALLBACK_PROVIDER is openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("FALLBACK_PROVIDER must be %s or %s, got %q", fallbackBedrock, fallbackOpenAI, cfg.FallbackProvider))
	}

	if cfg.WhatsAppTopicARN != "" && cfg.WhatsAppPhoneID == "" {
		errs = append(errs, errors.New("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_SNS_TOPIC_ARN is set"))
	}

	return cfg, errors.Join(errs...)
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func envFloat(getenv func(string) string, key string, def float64) (float64, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def, fmt.Errorf("%s must be a non-negative number, got %q", key, v)
	}
	return f, nil
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}
