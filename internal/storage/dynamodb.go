// Package storage provides persistence implementations for the sync service.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/donorsync/internal/sync"
)

// DynamoDBAPI defines the DynamoDB operations used by the stores.
type DynamoDBAPI interface {
	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// Query retrieves items matching a key condition from DynamoDB.
	Query(
		ctx context.Context,
		params *dynamodb.QueryInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.QueryOutput, error)
}

// MappingStore persists donor/contact mappings in DynamoDB.
// Items are keyed by account_id (partition) and donor_id (sort).
type MappingStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewMappingStore creates a new DynamoDB-backed mapping store.
func NewMappingStore(client DynamoDBAPI, tableName string) (*MappingStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &MappingStore{
		client:    client,
		tableName: tableName,
	}, nil
}

// Mappings returns every mapping for the account.
func (s *MappingStore) Mappings(ctx context.Context, accountID string) ([]sync.Mapping, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}

	items, err := queryAll(ctx, s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("account_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: accountID},
		},
	})
	if err != nil {
		return nil, err
	}

	mappings := make([]sync.Mapping, 0, len(items))
	for _, item := range items {
		m, err := parseMapping(item)
		if err != nil {
			return nil, fmt.Errorf("parsing item: %w", err)
		}
		mappings = append(mappings, m)
	}

	return mappings, nil
}

// SaveMapping creates or replaces the mapping for its (account, donor) pair.
func (s *MappingStore) SaveMapping(ctx context.Context, m sync.Mapping) error {
	if m.AccountID == "" {
		return errors.New("account ID is required")
	}
	if m.DonorID == "" {
		return errors.New("donor ID is required")
	}

	item := map[string]types.AttributeValue{
		"account_id":    &types.AttributeValueMemberS{Value: m.AccountID},
		"donor_id":      &types.AttributeValueMemberS{Value: m.DonorID},
		"status":        &types.AttributeValueMemberS{Value: string(m.Status)},
		"platform_hash": &types.AttributeValueMemberS{Value: m.PlatformHash},
		"external_hash": &types.AttributeValueMemberS{Value: m.ExternalHash},
	}
	putString(item, "resource_name", m.ResourceName)
	putString(item, "etag", m.ETag)
	putTime(item, "last_synced_at", m.LastSyncedAt)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting mapping to DynamoDB: %w", err)
	}

	return nil
}

func parseMapping(item map[string]types.AttributeValue) (sync.Mapping, error) {
	m := sync.Mapping{
		AccountID:    stringAttr(item, "account_id"),
		DonorID:      stringAttr(item, "donor_id"),
		ETag:         stringAttr(item, "etag"),
		ExternalHash: stringAttr(item, "external_hash"),
		PlatformHash: stringAttr(item, "platform_hash"),
		ResourceName: stringAttr(item, "resource_name"),
		Status:       sync.MappingStatus(stringAttr(item, "status")),
	}

	syncedAt, err := timeAttr(item, "last_synced_at")
	if err != nil {
		return m, err
	}
	m.LastSyncedAt = syncedAt

	return m, nil
}

// queryAll runs the query and follows pagination until every page is read.
func queryAll(ctx context.Context, client DynamoDBAPI, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		output, err := client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying DynamoDB: %w", err)
		}
		items = append(items, output.Items...)

		if len(output.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// putString sets a string attribute, omitting empty values.
func putString(item map[string]types.AttributeValue, name string, value string) {
	if value != "" {
		item[name] = &types.AttributeValueMemberS{Value: value}
	}
}

// putTime sets an RFC 3339 timestamp attribute, omitting the zero time.
func putTime(item map[string]types.AttributeValue, name string, value time.Time) {
	if !value.IsZero() {
		item[name] = &types.AttributeValueMemberS{Value: value.UTC().Format(time.RFC3339Nano)}
	}
}

// putInt sets a number attribute.
func putInt(item map[string]types.AttributeValue, name string, value int64) {
	item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, name string) (time.Time, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	return t, nil
}

func intAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return n, nil
}
