package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/peteski22/donorsync/internal/sync"
)

const (
	// maxErrorDetailLength bounds each stored error detail, in bytes.
	maxErrorDetailLength = 1024

	// maxStoredErrorDetails bounds the stored error details, keeping items well under
	// DynamoDB's 400 KB item limit.
	maxStoredErrorDetails = 100

	// runKeyLayout is a fixed-width UTC timestamp so run keys sort chronologically.
	runKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// SyncLogStore persists sync run logs in DynamoDB.
// Items are keyed by account_id (partition) and run_key, the start time and log ID (sort).
type SyncLogStore struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewSyncLogStore creates a new DynamoDB-backed sync log store.
func NewSyncLogStore(client DynamoDBAPI, tableName string) (*SyncLogStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &SyncLogStore{
		client:    client,
		tableName: tableName,
	}, nil
}

// FinishLog records the final state of a run, replacing the started record.
func (s *SyncLogStore) FinishLog(ctx context.Context, log sync.Log) error {
	return s.put(ctx, log)
}

// RecentLogs returns up to limit logs for the account, newest first.
func (s *SyncLogStore) RecentLogs(ctx context.Context, accountID string, limit int) ([]sync.Log, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}
	if limit < 1 {
		return nil, errors.New("limit must be positive")
	}

	output, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("account_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: accountID},
		},
		Limit:            aws.Int32(int32(min(limit, 1000))),
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	logs := make([]sync.Log, 0, len(output.Items))
	for _, item := range output.Items {
		log, err := parseLog(item)
		if err != nil {
			return nil, fmt.Errorf("parsing item: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, nil
}

// StartLog records the start of a run.
func (s *SyncLogStore) StartLog(ctx context.Context, log sync.Log) error {
	return s.put(ctx, log)
}

func (s *SyncLogStore) put(ctx context.Context, log sync.Log) error {
	if log.AccountID == "" {
		return errors.New("account ID is required")
	}
	if log.ID == "" {
		return errors.New("log ID is required")
	}
	if log.StartedAt.IsZero() {
		return errors.New("start time is required")
	}

	item := map[string]types.AttributeValue{
		"account_id": &types.AttributeValueMemberS{Value: log.AccountID},
		"run_key":    &types.AttributeValueMemberS{Value: runKey(log)},
		"id":         &types.AttributeValueMemberS{Value: log.ID},
		"status":     &types.AttributeValueMemberS{Value: string(log.Status)},
		"trigger":    &types.AttributeValueMemberS{Value: string(log.Trigger)},
	}
	putTime(item, "started_at", log.StartedAt)
	putTime(item, "finished_at", log.FinishedAt)
	putInt(item, "donors_pushed", int64(log.DonorsPushed))
	putInt(item, "contacts_pulled", int64(log.ContactsPulled))
	putInt(item, "conflicts", int64(log.Conflicts))
	putInt(item, "errors", int64(log.Errors))
	putInt(item, "duration_ms", log.DurationMS)

	if len(log.ErrorDetails) > 0 {
		capped := capErrorDetails(log.ErrorDetails)
		details := make([]types.AttributeValue, 0, len(capped))
		for _, d := range capped {
			details = append(details, &types.AttributeValueMemberS{Value: d})
		}
		item["error_details"] = &types.AttributeValueMemberL{Value: details}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting sync log to DynamoDB: %w", err)
	}

	return nil
}

// capErrorDetails keeps the first maxStoredErrorDetails entries, each cut to maxErrorDetailLength
// bytes, and appends a marker counting the rest.
func capErrorDetails(details []string) []string {
	kept := details[:min(len(details), maxStoredErrorDetails)]

	out := make([]string, 0, len(kept)+1)
	for _, d := range kept {
		if len(d) > maxErrorDetailLength {
			d = strings.ToValidUTF8(d[:maxErrorDetailLength], "") + "..."
		}
		out = append(out, d)
	}
	if dropped := len(details) - len(kept); dropped > 0 {
		out = append(out, fmt.Sprintf("... %d more errors", dropped))
	}
	return out
}

// runKey orders runs by start time, with the log ID breaking ties.
func runKey(log sync.Log) string {
	return log.StartedAt.UTC().Format(runKeyLayout) + "#" + log.ID
}

func parseLog(item map[string]types.AttributeValue) (sync.Log, error) {
	log := sync.Log{
		AccountID:    stringAttr(item, "account_id"),
		ErrorDetails: []string{},
		ID:           stringAttr(item, "id"),
		Status:       sync.LogStatus(stringAttr(item, "status")),
		Trigger:      sync.Trigger(stringAttr(item, "trigger")),
	}

	var err error
	if log.StartedAt, err = timeAttr(item, "started_at"); err != nil {
		return log, err
	}
	if log.FinishedAt, err = timeAttr(item, "finished_at"); err != nil {
		return log, err
	}
	if log.DurationMS, err = intAttr(item, "duration_ms"); err != nil {
		return log, err
	}

	counters := map[string]*int{
		"conflicts":       &log.Conflicts,
		"contacts_pulled": &log.ContactsPulled,
		"donors_pushed":   &log.DonorsPushed,
		"errors":          &log.Errors,
	}
	for name, dst := range counters {
		n, err := intAttr(item, name)
		if err != nil {
			return log, err
		}
		*dst = int(n)
	}

	if v, ok := item["error_details"].(*types.AttributeValueMemberL); ok {
		for _, d := range v.Value {
			if s, ok := d.(*types.AttributeValueMemberS); ok {
				log.ErrorDetails = append(log.ErrorDetails, s.Value)
			}
		}
	}

	return log, nil
}
