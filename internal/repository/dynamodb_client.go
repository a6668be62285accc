package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"kb-messaging-assistant/internal/domain"
)

const (
	attrPK = "phoneNumber"
	attrSK = "messageId"

	// SenderIndex orders a sender's turns by timestamp.
	SenderIndex = "PhoneIndex"

	deleteQueryLimit   = 100
	batchWriteMaxItems = 25
	maxBatchAttempts   = 5
	maxRetryBackoff    = 2 * time.Second
)

// ErrPartialDelete reports that some items were still unprocessed after the
// bounded number of BatchWriteItem retries.
var ErrPartialDelete = errors.New("repository: bulk delete left unprocessed items")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// ReadWriter defines the conversation store operations consumed by the orchestrator.
type ReadWriter interface {
	Put(ctx context.Context, turn domain.Turn) error
	QueryBySender(ctx context.Context, sender string, channel domain.Channel) ([]domain.Turn, error)
	DeleteAllForSender(ctx context.Context, sender string) (int, error)
}

var _ ReadWriter = (*Client)(nil)

// Client wraps a DynamoDB table for conversation turns.
type Client struct {
	api       dynamodbAPI
	tableName string
	backoff   retry.BackoffDelayer
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		backoff:   retry.NewExponentialJitterBackoff(maxRetryBackoff),
		sleep:     sleepCtx,
	}, nil
}

// Put writes a new turn. Turns are never overwritten.
func (c *Client) Put(ctx context.Context, turn domain.Turn) error {
	if turn.Sender == "" || turn.MessageID == "" {
		return errors.New("repository: Put: sender and message id are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn),
		ConditionExpression: aws.String("attribute_not_exists(phoneNumber) AND attribute_not_exists(messageId)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// QueryBySender returns every turn for sender on channel, oldest first.
func (c *Client) QueryBySender(ctx context.Context, sender string, channel domain.Channel) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(SenderIndex),
		KeyConditionExpression: aws.String("#pk = :pk"),
		FilterExpression:       aws.String("#channel = :channel"),
		ExpressionAttributeNames: map[string]string{
			"#pk":      attrPK,
			"#channel": "channel",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":      &types.AttributeValueMemberS{Value: sender},
			":channel": &types.AttributeValueMemberS{Value: string(channel)},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var turns []domain.Turn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryBySender query: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: QueryBySender unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// DeleteAllForSender removes every turn stored for sender and returns how many
// were deleted. Keys are read page by page and deleted in batches; writes that
// land while the delete is running may or may not survive.
func (c *Client) DeleteAllForSender(ctx context.Context, sender string) (int, error) {
	keys, err := c.senderKeys(ctx, sender)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var partial bool
	for start := 0; start < len(keys); start += batchWriteMaxItems {
		end := min(start+batchWriteMaxItems, len(keys))
		n, err := c.deleteBatch(ctx, keys[start:end])
		deleted += n
		if errors.Is(err, ErrPartialDelete) {
			partial = true
			continue
		}
		if err != nil {
			return deleted, err
		}
	}
	if partial {
		return deleted, fmt.Errorf("repository: DeleteAllForSender: %d of %d deleted: %w", deleted, len(keys), ErrPartialDelete)
	}
	return deleted, nil
}

func (c *Client) senderKeys(ctx context.Context, sender string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ProjectionExpression:   aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
			"#sk": attrSK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sender},
		},
		Limit: aws.Int32(deleteQueryLimit),
	}

	var keys []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: DeleteAllForSender query: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, map[string]types.AttributeValue{
				attrPK: item[attrPK],
				attrSK: item[attrSK],
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// deleteBatch deletes up to 25 keys, retrying unprocessed items with
// exponential jittered backoff.
func (c *Client) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) (int, error) {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}

	for attempt := 1; ; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: requests},
		})
		if err != nil {
			return len(keys) - len(requests), fmt.Errorf("repository: DeleteAllForSender batch write: %w", err)
		}

		var unprocessed []types.WriteRequest
		if out != nil {
			unprocessed = out.UnprocessedItems[c.tableName]
		}
		if len(unprocessed) == 0 {
			return len(keys), nil
		}
		requests = unprocessed
		if attempt == maxBatchAttempts {
			return len(keys) - len(requests), ErrPartialDelete
		}
		delay, err := c.backoff.BackoffDelay(attempt, nil)
		if err != nil {
			return len(keys) - len(requests), fmt.Errorf("repository: DeleteAllForSender backoff: %w", err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return len(keys) - len(requests), fmt.Errorf("repository: DeleteAllForSender retry: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sender, err := strAttr(item, attrPK)
	if err != nil {
		return domain.Turn{}, err
	}
	messageID, err := strAttr(item, attrSK)
	if err != nil {
		return domain.Turn{}, err
	}
	direction, err := strAttr(item, "direction")
	if err != nil {
		return domain.Turn{}, err
	}
	timestamp, err := intAttr(item, "timestamp")
	if err != nil {
		return domain.Turn{}, err
	}
	ttl, _ := intAttr(item, "ttl") // allow missing

	return domain.Turn{
		Sender:                     sender,
		MessageID:                  messageID,
		Channel:                    domain.Channel(optStrAttr(item, "channel")),
		Direction:                  domain.Direction(direction),
		Text:                       optStrAttr(item, "message"),
		Timestamp:                  timestamp,
		OriginationNumberID:        optStrAttr(item, "originationNumberId"),
		PreviousPublishedMessageID: optStrAttr(item, "previousPublishedMessageId"),
		SessionID:                  optStrAttr(item, "sessionId"),
		Source:                     domain.Source(optStrAttr(item, "source")),
		KnowledgeBaseID:            optStrAttr(item, "knowledgeBaseId"),
		TTL:                        ttl,
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrPK:      &types.AttributeValueMemberS{Value: turn.Sender},
		attrSK:      &types.AttributeValueMemberS{Value: turn.MessageID},
		"channel":   &types.AttributeValueMemberS{Value: string(turn.Channel)},
		"direction": &types.AttributeValueMemberS{Value: string(turn.Direction)},
		"message":   &types.AttributeValueMemberS{Value: turn.Text},
		"timestamp": &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.Timestamp, 10)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
	putOpt(item, "originationNumberId", turn.OriginationNumberID)
	putOpt(item, "previousPublishedMessageId", turn.PreviousPublishedMessageID)
	putOpt(item, "sessionId", turn.SessionID)
	putOpt(item, "source", string(turn.Source))
	putOpt(item, "knowledgeBaseId", turn.KnowledgeBaseID)
	return item
}

func putOpt(item map[string]types.AttributeValue, key, value string) {
	if value == "" {
		return
	}
	item[key] = &types.AttributeValueMemberS{Value: value}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	// TTL values written by other producers may carry a fractional part.
	whole, _, _ := strings.Cut(n.Value, ".")
	parsed, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
