package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"
	"github.com/aws/aws-sdk-go-v2/service/socialmessaging"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"kb-messaging-assistant/handler"
	"kb-messaging-assistant/internal/domain"
	"kb-messaging-assistant/internal/inbound"
	"kb-messaging-assistant/internal/integrations/bedrock"
	"kb-messaging-assistant/internal/integrations/messaging"
	"kb-messaging-assistant/internal/integrations/openai"
	"kb-messaging-assistant/internal/integrations/paramstore"
	"kb-messaging-assistant/internal/logging"
	"kb-messaging-assistant/internal/repository"
	"kb-messaging-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(logging.New(os.Stdout, os.Getenv("LOG_LEVEL")))

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}

	// ---- Configuration (read only here) ----
	getenv, err := resolveEnv(ctx, ssmClient, os.Getenv)
	if err != nil {
		fatal("failed to resolve parameter references", err)
	}
	cfg, err := loadConfig(getenv)
	if err != nil {
		fatal("invalid configuration", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel).With("version", cfg.Version)
	slog.SetDefault(logger)

	// ---- Clients ----
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table)
	if err != nil {
		fatal("failed to create conversation store", err)
	}

	var kbOpts []bedrock.KnowledgeBaseOption
	if cfg.PromptTemplate != "" {
		kbOpts = append(kbOpts, bedrock.WithPromptTemplate(cfg.PromptTemplate))
	}
	retriever, err := bedrock.NewKnowledgeBaseClient(
		bedrockagentruntime.NewFromConfig(awsCfg),
		bedrock.FoundationModelARN(awsCfg.Region, cfg.ModelID),
		cfg.MaxTokens,
		cfg.Temperature,
		kbOpts...,
	)
	if err != nil {
		fatal("failed to create knowledge base client", err)
	}

	var generator usecase.Generator
	switch cfg.FallbackProvider {
	case fallbackOpenAI:
		generator, err = openai.NewClient(ssmClient, cfg.ParamPrefix)
	default:
		generator, err = bedrock.NewModelClient(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID)
	}
	if err != nil {
		fatal("failed to create fallback model client", err)
	}

	sms, err := messaging.NewSMSSender(pinpointsmsvoicev2.NewFromConfig(awsCfg), cfg.PhoneNumberID)
	if err != nil {
		fatal("failed to create SMS sender", err)
	}
	senders := map[domain.Channel]usecase.Sender{domain.ChannelSMS: sms}
	if cfg.WhatsAppPhoneID != "" {
		wa, err := messaging.NewWhatsAppSender(socialmessaging.NewFromConfig(awsCfg), cfg.WhatsAppPhoneID)
		if err != nil {
			fatal("failed to create WhatsApp sender", err)
		}
		senders[domain.ChannelWhatsApp] = wa
	}

	// ---- Handler ----
	chat, err := usecase.NewChatService(store, retriever, generator, senders, usecase.Config{
		KnowledgeBaseID:     cfg.KnowledgeBaseID,
		OriginationNumberID: cfg.OriginationNumberID,
		SessionWindow:       cfg.SessionWindow,
		MaxTokens:           cfg.MaxTokens,
		Temperature:         cfg.Temperature,
	}, usecase.WithLogger(logger))
	if err != nil {
		fatal("failed to create chat service", err)
	}

	h, err := handler.NewChatHandler(chat, inbound.NewDecoder(cfg.WhatsAppTopicARN),
		handler.WithLogger(logger),
		handler.WithAckOnError(cfg.AckOnError),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	logger.Info("chat processor starting",
		"fallback_provider", cfg.FallbackProvider,
		"whatsapp_enabled", cfg.WhatsAppPhoneID != "",
		"ack_on_error", cfg.AckOnError,
	)
	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
