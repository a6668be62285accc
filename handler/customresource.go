package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/cfn"

	"kb-messaging-assistant/internal/provisioning"
)

type provisioner interface {
	Apply(ctx context.Context, req provisioning.Request) (provisioning.Result, error)
}

// CustomResourceHandler translates CloudFormation custom resource events into
// provisioning requests. Wrap Handle with cfn.LambdaWrap so the outcome is
// reported to the stack.
type CustomResourceHandler struct {
	p      provisioner
	logger *slog.Logger
}

func NewCustomResourceHandler(p provisioner, logger *slog.Logger) (*CustomResourceHandler, error) {
	if p == nil {
		return nil, errors.New("handler: provisioner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomResourceHandler{p: p, logger: logger}, nil
}

var _ cfn.CustomResourceFunction = (*CustomResourceHandler)(nil).Handle

func (h *CustomResourceHandler) Handle(ctx context.Context, event cfn.Event) (string, map[string]interface{}, error) {
	log := h.logger.With(
		"request_id", event.RequestID,
		"request_type", event.RequestType,
		"resource_type", event.ResourceType,
		"logical_id", event.LogicalResourceID,
	)
	res, err := h.p.Apply(ctx, provisioning.Request{
		Type:               provisioning.RequestType(event.RequestType),
		ResourceType:       event.ResourceType,
		PhysicalResourceID: event.PhysicalResourceID,
		Properties:         event.ResourceProperties,
		OldProperties:      event.OldResourceProperties,
	})
	if err != nil {
		log.Error("custom resource failed", "err", err)
		physicalID := res.PhysicalResourceID
		if physicalID == "" {
			physicalID = event.PhysicalResourceID
		}
		return physicalID, nil, err
	}
	log.Info("custom resource applied", "physical_id", res.PhysicalResourceID)
	return res.PhysicalResourceID, res.Data, nil
}
