package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/pinpointsmsvoicev2"
)

const (
	webDataSourceName        = "web-datasource-created-by-kb-assistant"
	webDataSourceDescription = "Web crawler data source created at deployment"
	crawlRateLimit           = 30
)

// phoneNumberAPI is the minimal Pinpoint SMS Voice v2 interface required by PhoneNumbers.
type phoneNumberAPI interface {
	UpdatePhoneNumber(ctx context.Context, in *pinpointsmsvoicev2.UpdatePhoneNumberInput, optFns ...func(*pinpointsmsvoicev2.Options)) (*pinpointsmsvoicev2.UpdatePhoneNumberOutput, error)
}

// agentAPI is the minimal Bedrock Agent interface required by KnowledgeBases.
type agentAPI interface {
	ListDataSources(ctx context.Context, in *bedrockagent.ListDataSourcesInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.ListDataSourcesOutput, error)
	CreateDataSource(ctx context.Context, in *bedrockagent.CreateDataSourceInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.CreateDataSourceOutput, error)
	StartIngestionJob(ctx context.Context, in *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
}

type PhoneNumbers struct {
	api phoneNumberAPI
}

func NewPhoneNumbers(api phoneNumberAPI) (*PhoneNumbers, error) {
	if api == nil {
		return nil, errors.New("provisioning: sms voice api must not be nil")
	}
	return &PhoneNumbers{api: api}, nil
}

// EnableTwoWay routes inbound messages for the number to the SNS topic.
func (p *PhoneNumbers) EnableTwoWay(ctx context.Context, cfg TwoWayConfig) error {
	_, err := p.api.UpdatePhoneNumber(ctx, &pinpointsmsvoicev2.UpdatePhoneNumberInput{
		PhoneNumberId:             aws.String(cfg.PhoneNumberID),
		TwoWayEnabled:             aws.Bool(true),
		TwoWayChannelArn:          aws.String(cfg.TopicARN),
		TwoWayChannelRole:         aws.String(cfg.RoleARN),
		SelfManagedOptOutsEnabled: aws.Bool(false),
		DeletionProtectionEnabled: aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("provisioning: UpdatePhoneNumber: %w", err)
	}
	return nil
}

type KnowledgeBases struct {
	api agentAPI
}

func NewKnowledgeBases(api agentAPI) (*KnowledgeBases, error) {
	if api == nil {
		return nil, errors.New("provisioning: bedrock agent api must not be nil")
	}
	return &KnowledgeBases{api: api}, nil
}

func (k *KnowledgeBases) CreateWebDataSource(ctx context.Context, knowledgeBaseID, crawlURL string) (string, error) {
	out, err := k.api.CreateDataSource(ctx, &bedrockagent.CreateDataSourceInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		Name:            aws.String(webDataSourceName),
		Description:     aws.String(webDataSourceDescription),
		DataSourceConfiguration: &agenttypes.DataSourceConfiguration{
			Type: agenttypes.DataSourceTypeWeb,
			WebConfiguration: &agenttypes.WebDataSourceConfiguration{
				SourceConfiguration: &agenttypes.WebSourceConfiguration{
					UrlConfiguration: &agenttypes.UrlConfiguration{
						SeedUrls: []agenttypes.SeedUrl{{Url: aws.String(crawlURL)}},
					},
				},
				CrawlerConfiguration: &agenttypes.WebCrawlerConfiguration{
					CrawlerLimits: &agenttypes.WebCrawlerLimits{RateLimit: aws.Int32(crawlRateLimit)},
				},
			},
		},
		DataDeletionPolicy: agenttypes.DataDeletionPolicyDelete,
	})
	if err != nil {
		var conflict *agenttypes.ConflictException
		if errors.As(err, &conflict) {
			return "", fmt.Errorf("provisioning: CreateDataSource: %w: %v", ErrDataSourceExists, err)
		}
		return "", fmt.Errorf("provisioning: CreateDataSource: %w", err)
	}
	if out == nil || out.DataSource == nil || out.DataSource.DataSourceId == nil {
		return "", errors.New("provisioning: CreateDataSource: missing data source id")
	}
	return *out.DataSource.DataSourceId, nil
}

// FindWebDataSource returns the id of the data source created by
// CreateWebDataSource, or "" if the knowledge base has none.
func (k *KnowledgeBases) FindWebDataSource(ctx context.Context, knowledgeBaseID string) (string, error) {
	p := bedrockagent.NewListDataSourcesPaginator(k.api, &bedrockagent.ListDataSourcesInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("provisioning: ListDataSources: %w", err)
		}
		for _, ds := range page.DataSourceSummaries {
			if aws.ToString(ds.Name) == webDataSourceName {
				return aws.ToString(ds.DataSourceId), nil
			}
		}
	}
	return "", nil
}

func (k *KnowledgeBases) StartIngestion(ctx context.Context, knowledgeBaseID, dataSourceID string) (string, error) {
	out, err := k.api.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(knowledgeBaseID),
		DataSourceId:    aws.String(dataSourceID),
	})
	if err != nil {
		return "", fmt.Errorf("provisioning: StartIngestionJob: %w", err)
	}
	if out == nil || out.IngestionJob == nil {
		return "", errors.New("provisioning: StartIngestionJob: missing ingestion job")
	}
	return aws.ToString(out.IngestionJob.IngestionJobId), nil
}
