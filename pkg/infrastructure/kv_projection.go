package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/harborfin/ledger/pkg/domain"
)

// Transaction type tags recorded in the history table.
const (
	TxTypeOpeningDeposit = "OPENING_DEPOSIT"
	TxTypeDeposit        = "DEPOSIT"
	TxTypeWithdrawal     = "WITHDRAWAL"
)

// AccountTimestampIndex is the GSI on the history table serving "recent
// transactions by account, newest first".
const AccountTimestampIndex = "account-timestamp-index"

// KVProjection maintains the point-lookup read model in DynamoDB: one
// balance row per account and one history row per monetary event.
//
// Idempotency: history puts are conditional on the transaction ID (the
// event ID) not existing, and every balance write carries a last_version
// guard. A re-delivered event trips one of the conditions and becomes a
// no-op.
type KVProjection struct {
	client       DynamoAPI
	balanceTable string
	historyTable string
	logger       domain.Logger
}

// NewKVProjection creates the key-value projection target.
func NewKVProjection(client DynamoAPI, balanceTable, historyTable string, logger domain.Logger) *KVProjection {
	return &KVProjection{
		client:       client,
		balanceTable: balanceTable,
		historyTable: historyTable,
		logger:       logger,
	}
}

// Name implements application.ProjectionTarget.
func (p *KVProjection) Name() string { return "kv" }

// Apply implements application.ProjectionTarget.
func (p *KVProjection) Apply(ctx context.Context, event domain.Event) error {
	switch e := event.(type) {
	case domain.AccountOpened:
		return p.applyOpened(ctx, e)
	case domain.FundsDeposited:
		return p.applyMovement(ctx, e, TxTypeDeposit, e.Amount)
	case domain.FundsWithdrawn:
		return p.applyMovement(ctx, e, TxTypeWithdrawal, e.Amount.Neg())
	case domain.AccountClosed:
		return p.applyClosed(ctx, e)
	default:
		return fmt.Errorf("unknown event type %T", event)
	}
}

func (p *KVProjection) applyOpened(ctx context.Context, e domain.AccountOpened) error {
	_, err := p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(p.balanceTable),
		Key:       accountKey(e.AggregateID()),
		UpdateExpression: aws.String(
			"SET balance = :balance, #status = :status, holder = :holder, #type = :type, last_updated = :now, last_version = :version"),
		ConditionExpression: aws.String("attribute_not_exists(last_version) OR last_version < :version"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#type":   "type",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":balance": numberAttr(e.OpeningBalance),
			":status":  &types.AttributeValueMemberS{Value: string(domain.AccountStatusActive)},
			":holder":  &types.AttributeValueMemberS{Value: e.Holder},
			":type":    &types.AttributeValueMemberS{Value: string(e.Type)},
			":now":     millisAttr(e.OccurredAt()),
			":version": versionAttr(e.Version()),
		},
	})
	if err != nil && !isConditionalFailure(err) {
		return domain.NewTransportError("kv balance write", err)
	}

	// The transaction put is attempted even when the balance write was a
	// replayed no-op, so a crash between the two writes heals on
	// re-delivery. A zero opening balance records no opening transaction.
	if e.OpeningBalance.IsPositive() {
		if _, err := p.putTransaction(ctx, e, TxTypeOpeningDeposit, e.OpeningBalance); err != nil {
			return err
		}
	}
	return nil
}

func (p *KVProjection) applyMovement(ctx context.Context, e domain.Event, txType string, delta decimal.Decimal) error {
	inserted, err := p.putTransaction(ctx, e, txType, delta.Abs())
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.Debug("duplicate delivery of transaction row",
			"event_id", e.EventID(), "account_id", e.AggregateID())
	}

	// The last_version guard is the authoritative duplicate gate for the
	// balance: it makes the ADD a no-op on replay even when the history row
	// landed but the balance write did not.
	_, err = p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(p.balanceTable),
		Key:                 accountKey(e.AggregateID()),
		UpdateExpression:    aws.String("ADD balance :delta SET last_updated = :now, last_version = :version"),
		ConditionExpression: aws.String("attribute_exists(account_id) AND last_version < :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta":   numberAttr(delta),
			":now":     millisAttr(e.OccurredAt()),
			":version": versionAttr(e.Version()),
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil
		}
		return domain.NewTransportError("kv balance write", err)
	}
	return nil
}

func (p *KVProjection) applyClosed(ctx context.Context, e domain.AccountClosed) error {
	_, err := p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(p.balanceTable),
		Key:                 accountKey(e.AggregateID()),
		UpdateExpression:    aws.String("SET #status = :status, last_updated = :now, last_version = :version"),
		ConditionExpression: aws.String("attribute_exists(account_id) AND last_version < :version"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(domain.AccountStatusClosed)},
			":now":     millisAttr(e.OccurredAt()),
			":version": versionAttr(e.Version()),
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil
		}
		return domain.NewTransportError("kv balance write", err)
	}
	return nil
}

// putTransaction appends one history row keyed on the event ID. It returns
// false without error when the row already exists, which is the signal that
// this delivery is a duplicate.
func (p *KVProjection) putTransaction(ctx context.Context, e domain.Event, txType string, amount decimal.Decimal) (bool, error) {
	_, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.historyTable),
		Item: map[string]types.AttributeValue{
			"transaction_id":   &types.AttributeValueMemberS{Value: e.EventID()},
			"account_id":       &types.AttributeValueMemberS{Value: e.AggregateID()},
			"transaction_type": &types.AttributeValueMemberS{Value: txType},
			"amount":           numberAttr(amount),
			"timestamp":        millisAttr(e.OccurredAt()),
		},
		ConditionExpression: aws.String("attribute_not_exists(transaction_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return false, nil
		}
		return false, domain.NewTransportError("kv history write", err)
	}
	return true, nil
}

func accountKey(accountID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: accountID},
	}
}

func numberAttr(d decimal.Decimal) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: d.String()}
}

func millisAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func versionAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func isConditionalFailure(err error) bool {
	var conditional *types.ConditionalCheckFailedException
	return errors.As(err, &conditional)
}
