package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/harborfin/ledger/pkg/domain"
)

// AggregateVersionIndex is the GSI on the events table ordering each
// aggregate's events by version.
const AggregateVersionIndex = "aggregate-version-index"

// eventRow is the storage shape of one event. event_data carries the
// canonical encoding; the remaining columns are denormalized for the GSI and
// the change stream.
type eventRow struct {
	EventID     string `dynamodbav:"event_id"`
	AggregateID string `dynamodbav:"aggregate_id"`
	EventType   string `dynamodbav:"event_type"`
	Version     int64  `dynamodbav:"version"`
	Timestamp   int64  `dynamodbav:"timestamp"`
	EventData   string `dynamodbav:"event_data"`
}

// DynamoEventLog implements domain.EventLog on DynamoDB. Appends are a
// single TransactWriteItems call: one conditional put per event (event-id
// uniqueness) plus one conditional update per aggregate on a version-head
// row (the version-slot safeguard). Either every condition holds and the
// whole batch commits, or nothing does.
type DynamoEventLog struct {
	client        DynamoAPI
	eventsTable   string
	versionsTable string
	logger        domain.Logger
}

// NewDynamoEventLog creates the event log over the given tables.
func NewDynamoEventLog(client DynamoAPI, eventsTable, versionsTable string, logger domain.Logger) *DynamoEventLog {
	return &DynamoEventLog{
		client:        client,
		eventsTable:   eventsTable,
		versionsTable: versionsTable,
		logger:        logger,
	}
}

// AppendAtomic implements domain.EventLog.
func (l *DynamoEventLog) AppendAtomic(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("append batch must not be empty")
	}

	heads, err := batchHeads(events)
	if err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(events)+len(heads))
	for _, event := range events {
		data, err := domain.EncodeEvent(event)
		if err != nil {
			return err
		}
		item, err := attributevalue.MarshalMap(eventRow{
			EventID:     event.EventID(),
			AggregateID: event.AggregateID(),
			EventType:   event.EventType(),
			Version:     event.Version(),
			Timestamp:   event.OccurredAt().UnixMilli(),
			EventData:   string(data),
		})
		if err != nil {
			return domain.NewSerializationError("marshal event row", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(l.eventsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(event_id)"),
			},
		})
	}

	// Deterministic item order keeps retried transactions identical.
	aggregateIDs := make([]string, 0, len(heads))
	for aggregateID := range heads {
		aggregateIDs = append(aggregateIDs, aggregateID)
	}
	sort.Strings(aggregateIDs)

	for _, aggregateID := range aggregateIDs {
		head := heads[aggregateID]
		update := &types.Update{
			TableName: aws.String(l.versionsTable),
			Key: map[string]types.AttributeValue{
				"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
			},
			UpdateExpression: aws.String("SET current_version = :head"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":head": &types.AttributeValueMemberN{Value: strconv.FormatInt(head.high, 10)},
			},
		}
		if head.low == 1 {
			update.ConditionExpression = aws.String("attribute_not_exists(current_version)")
		} else {
			update.ConditionExpression = aws.String("current_version = :expected")
			update.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberN{
				Value: strconv.FormatInt(head.low-1, 10),
			}
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}

	_, err = l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return l.classifyAppendError(err, events)
	}
	return nil
}

// versionSpan is the contiguous version range an append claims for one
// aggregate.
type versionSpan struct {
	low, high int64
}

// batchHeads groups the batch per aggregate and verifies each group's
// versions are consecutive. Cross-aggregate batches (transfers) yield one
// span per aggregate.
func batchHeads(events []domain.Event) (map[string]versionSpan, error) {
	perAggregate := make(map[string][]int64)
	for _, event := range events {
		if event.Version() < 1 {
			return nil, fmt.Errorf("event %s has invalid version %d", event.EventID(), event.Version())
		}
		perAggregate[event.AggregateID()] = append(perAggregate[event.AggregateID()], event.Version())
	}

	heads := make(map[string]versionSpan, len(perAggregate))
	for aggregateID, versions := range perAggregate {
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		for i := 1; i < len(versions); i++ {
			if versions[i] != versions[i-1]+1 {
				return nil, fmt.Errorf("batch versions for aggregate %q are not consecutive: %v", aggregateID, versions)
			}
		}
		heads[aggregateID] = versionSpan{low: versions[0], high: versions[len(versions)-1]}
	}
	return heads, nil
}

func (l *DynamoEventLog) classifyAppendError(err error, events []domain.Event) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				first := events[0]
				l.logger.Debug("append lost optimistic-concurrency race",
					"aggregate_id", first.AggregateID(), "version", first.Version())
				return domain.NewConflictError(first.AggregateID(), first.Version())
			}
		}
	}

	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		first := events[0]
		return domain.NewConflictError(first.AggregateID(), first.Version())
	}

	return domain.NewTransportError("event log append", err)
}

// ReadStream implements domain.EventLog. It pages through the aggregate's
// GSI partition in version order and decodes each stored event.
func (l *DynamoEventLog) ReadStream(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	var events []domain.Event
	var startKey map[string]types.AttributeValue

	for {
		out, err := l.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(l.eventsTable),
			IndexName:              aws.String(AggregateVersionIndex),
			KeyConditionExpression: aws.String("aggregate_id = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": &types.AttributeValueMemberS{Value: aggregateID},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, domain.NewTransportError("event log read", err)
		}

		for _, item := range out.Items {
			var row eventRow
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, domain.NewSerializationError("unmarshal event row", err)
			}
			event, err := domain.DecodeEvent([]byte(row.EventData))
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return events, nil
}

// HighestVersion implements domain.EventLog with a consistent read of the
// aggregate's version-head row.
func (l *DynamoEventLog) HighestVersion(ctx context.Context, aggregateID string) (int64, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.versionsTable),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, domain.NewTransportError("event log head read", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}

	var head struct {
		CurrentVersion int64 `dynamodbav:"current_version"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &head); err != nil {
		return 0, domain.NewSerializationError("unmarshal version head", err)
	}
	return head.CurrentVersion, nil
}
