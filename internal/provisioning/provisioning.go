// Package provisioning implements the deployment-time custom resources: enabling
// two-way SMS on the origination number and seeding the knowledge base with a
// web crawler data source.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const (
	ResourceEUMConfig           = "Custom::EUMConfig"
	ResourceCreateWebDatasource = "Custom::CreateWebDatasource"

	physicalIDPrefix = "vce.eum-config."
)

type RequestType string

const (
	RequestCreate RequestType = "Create"
	RequestUpdate RequestType = "Update"
	RequestDelete RequestType = "Delete"
)

// Request is a custom resource lifecycle event, independent of the transport
// that delivered it.
type Request struct {
	Type               RequestType
	ResourceType       string
	PhysicalResourceID string
	Properties         map[string]any
	// OldProperties holds the previous properties on Update.
	OldProperties      map[string]any
}

// ErrDataSourceExists reports that the knowledge base already has the web data
// source this package manages.
var ErrDataSourceExists = errors.New("provisioning: web data source already exists")

// Result is reported back to the stack as the resource's physical id and
// attributes.
type Result struct {
	PhysicalResourceID string
	Data               map[string]any
}

// PhoneNumberConfigurer enables two-way messaging on an origination number.
type PhoneNumberConfigurer interface {
	EnableTwoWay(ctx context.Context, cfg TwoWayConfig) error
}

// KnowledgeBaseSeeder creates a web data source and starts its first ingestion.
// CreateWebDataSource returns ErrDataSourceExists when the data source is
// already there. FindWebDataSource returns "" when it is not.
type KnowledgeBaseSeeder interface {
	CreateWebDataSource(ctx context.Context, knowledgeBaseID, crawlURL string) (string, error)
	FindWebDataSource(ctx context.Context, knowledgeBaseID string) (string, error)
	StartIngestion(ctx context.Context, knowledgeBaseID, dataSourceID string) (string, error)
}

type TwoWayConfig struct {
	PhoneNumberID string
	TopicARN      string
	RoleARN       string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

type Service struct {
	phones PhoneNumberConfigurer
	kb     KnowledgeBaseSeeder
	logger *slog.Logger
	newID  func() string
}

func NewService(phones PhoneNumberConfigurer, kb KnowledgeBaseSeeder, opts ...Option) (*Service, error) {
	if phones == nil {
		return nil, errors.New("provisioning: phone number configurer must not be nil")
	}
	if kb == nil {
		return nil, errors.New("provisioning: knowledge base seeder must not be nil")
	}
	s := &Service{
		phones: phones,
		kb:     kb,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Apply runs one lifecycle event. Unknown resource types and Delete requests
// succeed without side effects.
func (s *Service) Apply(ctx context.Context, req Request) (Result, error) {
	physicalID := req.PhysicalResourceID
	if req.Type == RequestCreate {
		physicalID = physicalIDPrefix + s.newID()
	} else if physicalID == "" {
		return Result{}, fmt.Errorf("provisioning: invalid request: request type is %q but physical resource id is not defined", req.Type)
	}
	res := Result{PhysicalResourceID: physicalID, Data: map[string]any{}}

	if req.Type != RequestCreate && req.Type != RequestUpdate {
		s.logger.Info("custom resource no-op", "resource_type", req.ResourceType, "request_type", req.Type)
		return res, nil
	}

	switch req.ResourceType {
	case ResourceEUMConfig:
		cfg, err := twoWayConfigFrom(req.Properties)
		if err != nil {
			return res, err
		}
		if err := s.phones.EnableTwoWay(ctx, cfg); err != nil {
			return res, fmt.Errorf("provisioning: enable two-way: %w", err)
		}
		s.logger.Info("two-way messaging enabled", "phone_number_id", cfg.PhoneNumberID)
	case ResourceCreateWebDatasource:
		if err := s.seedKnowledgeBase(ctx, req, res.Data); err != nil {
			return res, err
		}
	default:
		s.logger.Info("custom resource no-op", "resource_type", req.ResourceType, "request_type", req.Type)
	}
	return res, nil
}

// seedKnowledgeBase creates the web data source and starts an ingestion job.
// An Update that leaves the knowledge base and URL unchanged only reports the
// existing data source. A data source that already exists is reused.
func (s *Service) seedKnowledgeBase(ctx context.Context, req Request, data map[string]any) error {
	kbID, err := requiredProperty(req.Properties, "KnowledgeBaseId")
	if err != nil {
		return err
	}
	crawlURL, err := requiredProperty(req.Properties, "CrawlURL")
	if err != nil {
		return err
	}
	log := s.logger.With("knowledge_base_id", kbID)

	if req.Type == RequestUpdate && unchanged(req.OldProperties, req.Properties, "KnowledgeBaseId", "CrawlURL") {
		dsID, err := s.kb.FindWebDataSource(ctx, kbID)
		if err != nil {
			log.Warn("web data source lookup failed on unchanged update", "err", err)
			return nil
		}
		if dsID != "" {
			data["DataSourceId"] = dsID
		}
		log.Info("web data source unchanged", "data_source_id", dsID)
		return nil
	}

	dsID, err := s.kb.CreateWebDataSource(ctx, kbID, crawlURL)
	if errors.Is(err, ErrDataSourceExists) {
		dsID, err = s.kb.FindWebDataSource(ctx, kbID)
		if err == nil && dsID == "" {
			err = errors.New("conflicting data source not found")
		}
		if err != nil {
			return fmt.Errorf("provisioning: find existing data source: %w", err)
		}
		log.Info("reusing existing web data source", "data_source_id", dsID)
	} else if err != nil {
		return fmt.Errorf("provisioning: create data source: %w", err)
	}

	jobID, err := s.kb.StartIngestion(ctx, kbID, dsID)
	if err != nil {
		return fmt.Errorf("provisioning: start ingestion: %w", err)
	}
	data["DataSourceId"] = dsID
	data["IngestionJobId"] = jobID
	log.Info("web data source ingesting", "data_source_id", dsID, "ingestion_job_id", jobID)
	return nil
}

// unchanged reports whether every key has the same string value in old and cur.
func unchanged(old, cur map[string]any, keys ...string) bool {
	if old == nil {
		return false
	}
	for _, key := range keys {
		o, _ := old[key].(string)
		c, _ := cur[key].(string)
		if strings.TrimSpace(o) != strings.TrimSpace(c) {
			return false
		}
	}
	return true
}

func twoWayConfigFrom(props map[string]any) (TwoWayConfig, error) {
	var cfg TwoWayConfig
	var err error
	if cfg.PhoneNumberID, err = requiredProperty(props, "OriginationNumberId"); err != nil {
		return cfg, err
	}
	if cfg.TopicARN, err = requiredProperty(props, "ChatSNSTopicARN"); err != nil {
		return cfg, err
	}
	if cfg.RoleARN, err = requiredProperty(props, "SNSRoleARN"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func requiredProperty(props map[string]any, key string) (string, error) {
	v, ok := props[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("provisioning: property %s is required", key)
	}
	return strings.TrimSpace(v), nil
}
