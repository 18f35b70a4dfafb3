package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// fakeDynamo is a minimal in-memory DynamoDB double. It understands the
// condition and update expressions this codebase issues, enough to exercise
// the event log and the KV projection against real conflict semantics.
type fakeDynamo struct {
	mu       sync.Mutex
	tables   map[string]*fakeTable
	pageSize int // Query page size; 0 means everything in one page

	transactErr  error // injected TransactWriteItems failure
	transactCall int
	lastTransact *dynamodb.TransactWriteItemsInput
}

type fakeTable struct {
	keyAttr string
	items   map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: map[string]*fakeTable{}}
}

func (f *fakeDynamo) addTable(name, keyAttr string) {
	f.tables[name] = &fakeTable{keyAttr: keyAttr, items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) table(name string) *fakeTable {
	table, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("fake: unknown table %q", name))
	}
	return table
}

func (f *fakeDynamo) item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table(tableName).items[key]
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if item == nil {
		return ""
	}
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numberAttrValue(item map[string]types.AttributeValue, name string) (decimal.Decimal, bool) {
	if item == nil {
		return decimal.Zero, false
	}
	if n, ok := item[name].(*types.AttributeValueMemberN); ok {
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			panic(err)
		}
		return d, true
	}
	return decimal.Zero, false
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// checkCondition evaluates the condition expressions used by the event log
// and the KV projection against the current item (nil when absent).
func checkCondition(cond string, item map[string]types.AttributeValue,
	values map[string]types.AttributeValue) bool {
	switch {
	case cond == "":
		return true
	case strings.Contains(cond, "attribute_not_exists(event_id)"):
		return item == nil
	case strings.Contains(cond, "attribute_not_exists(transaction_id)"):
		return item == nil
	case strings.Contains(cond, "attribute_not_exists(current_version)"):
		_, has := numberAttrValue(item, "current_version")
		return item == nil || !has
	case strings.Contains(cond, "current_version = :expected"):
		current, has := numberAttrValue(item, "current_version")
		expected, _ := numberAttrValue(values, ":expected")
		return has && current.Equal(expected)
	case strings.Contains(cond, "attribute_not_exists(last_version) OR last_version < :version"):
		last, has := numberAttrValue(item, "last_version")
		version, _ := numberAttrValue(values, ":version")
		return !has || last.LessThan(version)
	case strings.Contains(cond, "attribute_exists(account_id) AND last_version < :version"):
		if item == nil {
			return false
		}
		last, has := numberAttrValue(item, "last_version")
		version, _ := numberAttrValue(values, ":version")
		return has && last.LessThan(version)
	default:
		panic(fmt.Sprintf("fake: unsupported condition %q", cond))
	}
}

// applyUpdate interprets the "ADD ... SET ..." expressions this codebase
// issues against one item.
func applyUpdate(expr string, item map[string]types.AttributeValue,
	names map[string]string, values map[string]types.AttributeValue) {
	rest := expr
	if strings.HasPrefix(rest, "ADD ") {
		addPart := rest[len("ADD "):]
		if idx := strings.Index(addPart, " SET "); idx >= 0 {
			rest = addPart[idx+1:]
			addPart = addPart[:idx]
		} else {
			rest = ""
		}
		fields := strings.Fields(addPart) // e.g. ["balance", ":delta"]
		current, _ := numberAttrValue(item, fields[0])
		delta, _ := numberAttrValue(values, fields[1])
		item[fields[0]] = &types.AttributeValueMemberN{Value: current.Add(delta).String()}
	}
	rest = strings.TrimPrefix(rest, "SET ")
	if rest == "" {
		return
	}
	for _, assignment := range strings.Split(rest, ",") {
		parts := strings.SplitN(strings.TrimSpace(assignment), " = ", 2)
		name := parts[0]
		if alias, ok := names[name]; ok {
			name = alias
		}
		item[name] = values[parts[1]]
	}
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.table(*params.TableName)
	key := stringAttr(params.Item, table.keyAttr)
	existing := table.items[key]

	cond := aws.ToString(params.ConditionExpression)
	if !checkCondition(cond, existing, params.ExpressionAttributeValues) {
		return nil, conditionalFailed()
	}
	table.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.table(*params.TableName)
	key := stringAttr(params.Key, table.keyAttr)
	existing := table.items[key]

	cond := aws.ToString(params.ConditionExpression)
	if !checkCondition(cond, existing, params.ExpressionAttributeValues) {
		return nil, conditionalFailed()
	}

	if existing == nil {
		existing = map[string]types.AttributeValue{table.keyAttr: params.Key[table.keyAttr]}
		table.items[key] = existing
	}
	applyUpdate(aws.ToString(params.UpdateExpression), existing,
		params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.table(*params.TableName)
	key := stringAttr(params.Key, table.keyAttr)
	return &dynamodb.GetItemOutput{Item: table.items[key]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := f.table(*params.TableName)
	want := stringAttr(params.ExpressionAttributeValues, ":id")

	if aws.ToString(params.IndexName) == AccountTimestampIndex {
		return f.queryHistory(table, want, params)
	}

	var matches []map[string]types.AttributeValue
	for _, item := range table.items {
		if stringAttr(item, "aggregate_id") == want {
			matches = append(matches, item)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, _ := numberAttrValue(matches[i], "version")
		b, _ := numberAttrValue(matches[j], "version")
		return a.LessThan(b)
	})

	start := 0
	if params.ExclusiveStartKey != nil {
		afterVersion, _ := numberAttrValue(params.ExclusiveStartKey, "version")
		for i, item := range matches {
			v, _ := numberAttrValue(item, "version")
			if v.GreaterThan(afterVersion) {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := len(matches)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &dynamodb.QueryOutput{Items: matches[start:end]}
	if end < len(matches) {
		last := matches[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"event_id":     last["event_id"],
			"aggregate_id": last["aggregate_id"],
			"version":      last["version"],
		}
	}
	return out, nil
}

// queryHistory serves the newest-first transaction lookup on the history
// table's account-timestamp index.
func (f *fakeDynamo) queryHistory(table *fakeTable, accountID string, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	var matches []map[string]types.AttributeValue
	for _, item := range table.items {
		if stringAttr(item, "account_id") == accountID {
			matches = append(matches, item)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, _ := numberAttrValue(matches[i], "timestamp")
		b, _ := numberAttrValue(matches[j], "timestamp")
		return a.LessThan(b)
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}
	if limit := int(aws.ToInt32(params.Limit)); limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return &dynamodb.QueryOutput{Items: matches}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transactCall++
	f.lastTransact = params
	if f.transactErr != nil {
		return nil, f.transactErr
	}

	// first pass: every condition must hold against the pre-image
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, item := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		switch {
		case item.Put != nil:
			table := f.table(*item.Put.TableName)
			key := stringAttr(item.Put.Item, table.keyAttr)
			if !checkCondition(aws.ToString(item.Put.ConditionExpression),
				table.items[key], item.Put.ExpressionAttributeValues) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		case item.Update != nil:
			table := f.table(*item.Update.TableName)
			key := stringAttr(item.Update.Key, table.keyAttr)
			if !checkCondition(aws.ToString(item.Update.ConditionExpression),
				table.items[key], item.Update.ExpressionAttributeValues) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	// second pass: apply all writes
	for _, item := range params.TransactItems {
		switch {
		case item.Put != nil:
			table := f.table(*item.Put.TableName)
			key := stringAttr(item.Put.Item, table.keyAttr)
			table.items[key] = item.Put.Item
		case item.Update != nil:
			table := f.table(*item.Update.TableName)
			key := stringAttr(item.Update.Key, table.keyAttr)
			existing := table.items[key]
			if existing == nil {
				existing = map[string]types.AttributeValue{table.keyAttr: item.Update.Key[table.keyAttr]}
				table.items[key] = existing
			}
			applyUpdate(aws.ToString(item.Update.UpdateExpression), existing,
				item.Update.ExpressionAttributeNames, item.Update.ExpressionAttributeValues)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
