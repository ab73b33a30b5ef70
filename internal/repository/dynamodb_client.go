package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"feedback-relay/internal/domain"
)

// State items carry no TTL attribute: a pending reason request never expires.
const skState = "STATE#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps one conversation state item per user in a DynamoDB table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a new DynamoDB backed state store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// userPK returns the DynamoDB partition key for a user.
func userPK(userID string) string {
	return "USER#" + userID
}

// Get reads the state item of a user with a strongly consistent read.
func (c *DynamoStore) Get(ctx context.Context, userID string) (domain.ConversationState, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, false, nil
	}

	state, err := itemToState(userID, out.Item)
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get decode: %w", err)
	}
	return state, true, nil
}

// Set replaces the state item of a user. Mode and last question are written
// in a single item so they always change together.
func (c *DynamoStore) Set(ctx context.Context, state domain.ConversationState) error {
	if strings.TrimSpace(state.UserID) == "" {
		return errors.New("repository: Set: user ID is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      stateItem(state, time.Now().UTC()),
	})
	if err != nil {
		return fmt.Errorf("repository: Set: %w", err)
	}
	return nil
}

func stateItem(state domain.ConversationState, now time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(state.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"userId":    &types.AttributeValueMemberS{Value: state.UserID},
		"mode":      &types.AttributeValueMemberS{Value: string(state.Mode)},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if state.LastQuestion != "" {
		item["lastQuestion"] = &types.AttributeValueMemberS{Value: state.LastQuestion}
	}
	return item
}

// itemToState converts a DynamoDB attribute map to a ConversationState.
func itemToState(userID string, item map[string]types.AttributeValue) (domain.ConversationState, error) {
	mode, err := strAttr(item, "mode")
	if err != nil {
		return domain.ConversationState{}, err
	}
	lastQuestion, _ := strAttr(item, "lastQuestion") // absent in normal mode

	return domain.ConversationState{
		UserID:       userID,
		Mode:         domain.Mode(mode),
		LastQuestion: lastQuestion,
	}, nil
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
