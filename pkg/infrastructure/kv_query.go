package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/domain"
)

// KVReader implements application.BalanceReader over the DynamoDB
// projection tables.
type KVReader struct {
	client       DynamoAPI
	balanceTable string
	historyTable string
}

// NewKVReader creates the point-lookup reader.
func NewKVReader(client DynamoAPI, balanceTable, historyTable string) *KVReader {
	return &KVReader{client: client, balanceTable: balanceTable, historyTable: historyTable}
}

// GetBalance implements application.BalanceReader.
func (r *KVReader) GetBalance(ctx context.Context, accountID string) (*application.AccountBalanceView, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.balanceTable),
		Key:       accountKey(accountID),
	})
	if err != nil {
		return nil, domain.NewTransportError("kv balance read", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	balance, err := attrDecimal(out.Item, "balance")
	if err != nil {
		return nil, err
	}
	return &application.AccountBalanceView{
		AccountID:   attrString(out.Item, "account_id"),
		Holder:      attrString(out.Item, "holder"),
		Type:        attrString(out.Item, "type"),
		Balance:     balance,
		Status:      attrString(out.Item, "status"),
		LastUpdated: attrMillis(out.Item, "last_updated"),
	}, nil
}

// RecentTransactions implements application.BalanceReader with a
// newest-first query on the account-timestamp index.
func (r *KVReader) RecentTransactions(ctx context.Context, accountID string, limit int) ([]application.TransactionView, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.historyTable),
		IndexName:              aws.String(AccountTimestampIndex),
		KeyConditionExpression: aws.String("account_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: accountID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, domain.NewTransportError("kv history read", err)
	}

	views := make([]application.TransactionView, 0, len(out.Items))
	for _, item := range out.Items {
		amount, err := attrDecimal(item, "amount")
		if err != nil {
			return nil, err
		}
		views = append(views, application.TransactionView{
			TransactionID: attrString(item, "transaction_id"),
			AccountID:     attrString(item, "account_id"),
			Type:          attrString(item, "transaction_type"),
			Amount:        amount,
			Timestamp:     attrMillis(item, "timestamp"),
		})
	}
	return views, nil
}

func attrString(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func attrDecimal(item map[string]types.AttributeValue, name string) (decimal.Decimal, error) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, domain.NewSerializationError("missing numeric attribute "+name, nil)
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return decimal.Zero, domain.NewSerializationError("parse numeric attribute "+name, err)
	}
	return d, nil
}

func attrMillis(item map[string]types.AttributeValue, name string) time.Time {
	if n, ok := item[name].(*types.AttributeValueMemberN); ok {
		if ms, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
