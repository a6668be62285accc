package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"

	"kb-messaging-assistant/handler"
	"kb-messaging-assistant/internal/logging"
	"kb-messaging-assistant/internal/provisioning"
)

func main() {
	ctx := context.Background()
	logger := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	phones, err := provisioning.NewPhoneNumbers(pinpointsmsvoicev2.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create phone number client", err)
	}
	kbs, err := provisioning.NewKnowledgeBases(bedrockagent.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create knowledge base client", err)
	}
	svc, err := provisioning.NewService(phones, kbs, provisioning.WithLogger(logger))
	if err != nil {
		fatal("failed to create provisioning service", err)
	}

	h, err := handler.NewCustomResourceHandler(svc, logger)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(cfn.LambdaWrap(h.Handle))
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
