package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/devices"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
)

const maxRemoveAttempts = 5

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store serves the device directory, subscriber lookups, token hygiene and
// the event ledger from DynamoDB tables.
type Store struct {
	client     API
	tables     config.Tables
	newBackoff func() backoff.BackOff
}

func NewStore(client API, tables config.Tables) *Store {
	return &Store{
		client: client,
		tables: tables,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
}

type deviceItem struct {
	DeviceID string `dynamodbav:"deviceId"`
	Name     string `dynamodbav:"name"`
	Location string `dynamodbav:"location"`
}

type userDeviceItem struct {
	UserID   string `dynamodbav:"userId"`
	DeviceID string `dynamodbav:"deviceId"`
}

type userTokensItem struct {
	UserID    string   `dynamodbav:"userId"`
	FCMTokens []string `dynamodbav:"fcmTokens"`
}

// Lookup implements devices.Directory.
func (s *Store) Lookup(ctx context.Context, deviceID string) (*devices.DeviceInfo, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Devices),
		Key:       map[string]types.AttributeValue{"deviceId": &types.AttributeValueMemberS{Value: deviceID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	if len(out.Item) == 0 {
		return nil, devices.ErrDeviceNotFound
	}

	var item deviceItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device %s: %w", deviceID, err)
	}

	return &devices.DeviceInfo{
		DeviceID: deviceID,
		Name:     item.Name,
		Location: item.Location,
	}, nil
}

// UsersForDevice implements devices.SubscriberIndex by querying the deviceId GSI.
func (s *Store) UsersForDevice(ctx context.Context, deviceID string) ([]string, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.UserDevices),
		IndexName:              aws.String(s.tables.UserDevicesIndex),
		KeyConditionExpression: aws.String("deviceId = :deviceId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deviceId": &types.AttributeValueMemberS{Value: deviceID},
		},
	})

	var userIDs []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query subscribers of %s: %w", deviceID, err)
		}

		var items []userDeviceItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscribers of %s: %w", deviceID, err)
		}
		for _, item := range items {
			if item.UserID != "" {
				userIDs = append(userIDs, item.UserID)
			}
		}
	}
	return userIDs, nil
}

// TokensForUser implements devices.TokenSource. A missing item means no tokens.
func (s *Store) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	item, _, err := s.getUserTokens(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	return item.FCMTokens, nil
}

func (s *Store) getUserTokens(ctx context.Context, userID string, consistent bool) (*userTokensItem, types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.UserTokens),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get tokens of user %s: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil, nil
	}

	var item userTokensItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal tokens of user %s: %w", userID, err)
	}
	return &item, out.Item["fcmTokens"], nil
}

// RemoveToken implements tokens.Store. Every holder is found with a scan and
// rewritten with a conditional update on the list it was read with; a
// concurrent write makes the update fail, the item is re-read and the update
// retried.
func (s *Store) RemoveToken(ctx context.Context, token string) (int, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:            aws.String(s.tables.UserTokens),
		FilterExpression:     aws.String("contains(fcmTokens, :token)"),
		ProjectionExpression: aws.String("userId, fcmTokens"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})

	updated := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return updated, fmt.Errorf("failed to scan for token holders: %w", err)
		}

		for _, raw := range page.Items {
			var item userTokensItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return updated, fmt.Errorf("failed to unmarshal token holder: %w", err)
			}

			changed, err := s.removeFromUser(ctx, item, raw["fcmTokens"], token)
			if err != nil {
				return updated, err
			}
			if changed {
				updated++
			}
		}
	}
	return updated, nil
}

func (s *Store) removeFromUser(ctx context.Context, item userTokensItem, prev types.AttributeValue, token string) (bool, error) {
	current := item.FCMTokens
	changed := false

	op := func() error {
		next := without(current, token)
		if len(next) == len(current) {
			return nil
		}

		nextAV, err := attributevalue.Marshal(next)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal tokens: %w", err))
		}

		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.tables.UserTokens),
			Key:                 userKey(item.UserID),
			UpdateExpression:    aws.String("SET fcmTokens = :next"),
			ConditionExpression: aws.String("fcmTokens = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":next": nextAV,
				":prev": prev,
			},
		})
		if err == nil {
			changed = true
			return nil
		}

		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			return backoff.Permanent(fmt.Errorf("failed to update tokens of user %s: %w", item.UserID, err))
		}

		fresh, freshAV, err := s.getUserTokens(ctx, item.UserID, true)
		if err != nil {
			return err
		}
		if fresh == nil {
			current = nil
			return nil
		}
		current, prev = fresh.FCMTokens, freshAV
		return fmt.Errorf("tokens of user %s changed concurrently", item.UserID)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), maxRemoveAttempts), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return false, err
	}
	return changed, nil
}

// PutEvent implements ledger.Store. Replaying an event id is a no-op.
func (s *Store) PutEvent(ctx context.Context, entry ledger.Entry) error {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Events),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(eventId)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return nil
		}
		return fmt.Errorf("failed to store event in dynamodb: %w", err)
	}
	return nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"userId": &types.AttributeValueMemberS{Value: userID}}
}

func without(tokens []string, token string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != token {
			out = append(out, t)
		}
	}
	return out
}
