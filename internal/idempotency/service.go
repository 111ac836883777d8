// Package idempotency deduplicates generate requests so a double-submitted
// prompt is charged and executed once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
	statusFailed    = "failed"

	recordTTL = 24 * time.Hour
)

type Service struct {
	client    *dynamodb.Client
	tableName string
}

type record struct {
	Key       string `dynamodbav:"key"`
	UserID    string `dynamodbav:"user_id"`
	Response  string `dynamodbav:"response"`
	Status    string `dynamodbav:"status"`
	CreatedAt string `dynamodbav:"created_at"`
	TTL       int64  `dynamodbav:"ttl"`
}

func NewService(ctx context.Context) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}

	tableName := "profiler-idempotency"
	if envTable := os.Getenv("IDEMPOTENCY_TABLE_NAME"); envTable != "" {
		tableName = envTable
	}

	return &Service{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

// RequestKey derives the dedupe key from who asked what on which endpoint.
func RequestKey(userID, endpoint, body string) string {
	sum := sha256.Sum256([]byte(userID + ":" + endpoint + ":" + body))
	return hex.EncodeToString(sum[:])
}

// Run executes fn once per key. A replayed completed request returns the
// cached response without calling fn; a request still in flight is rejected.
// Failed runs leave a failed record so the client may retry.
func (s *Service) Run(ctx context.Context, key, userID string, fn func() (interface{}, error)) (interface{}, error) {
	claimed, existing, err := s.claim(ctx, key, userID)
	if err != nil {
		return nil, err
	}

	if !claimed {
		switch existing.Status {
		case statusCompleted:
			var cached interface{}
			if err := json.Unmarshal([]byte(existing.Response), &cached); err != nil {
				return nil, fmt.Errorf("failed to decode cached response: %v", err)
			}
			return cached, nil
		case statusPending:
			return nil, fmt.Errorf("request is already being processed")
		default:
			// Previous run failed; let this one proceed.
			if err := s.setStatus(ctx, key, "", statusPending); err != nil {
				return nil, err
			}
		}
	}

	result, err := fn()
	if err != nil {
		if updErr := s.setStatus(ctx, key, "", statusFailed); updErr != nil {
			log.Printf("idempotency: mark failed for key %s: %v", key, updErr)
		}
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %v", err)
	}
	if err := s.setStatus(ctx, key, string(encoded), statusCompleted); err != nil {
		// The work is done; losing the cache entry only costs dedupe.
		log.Printf("idempotency: store response for key %s: %v", key, err)
	}
	return result, nil
}

// claim conditionally inserts a pending record. claimed is false when a
// record for the key already exists, in which case it is returned.
func (s *Service) claim(ctx context.Context, key, userID string) (claimed bool, existing *record, err error) {
	now := time.Now().UTC()
	item, err := attributevalue.MarshalMap(record{
		Key:       key,
		UserID:    userID,
		Status:    statusPending,
		CreatedAt: now.Format(time.RFC3339),
		TTL:       now.Add(recordTTL).Unix(),
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal idempotency record: %v", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]string{
			"#key": "key",
		},
	})
	if err == nil {
		return true, nil, nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return false, nil, fmt.Errorf("failed to claim idempotency key: %v", err)
	}

	existing, err = s.get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		// Record expired between the put and the read; treat as claimed.
		return true, nil, nil
	}
	return false, existing, nil
}

func (s *Service) get(ctx context.Context, key string) (*record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %v", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %v", err)
	}
	return &rec, nil
}

func (s *Service) setStatus(ctx context.Context, key, response, status string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET #response = :response, #status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#response": "response",
			"#status":   "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":response": &types.AttributeValueMemberS{Value: response},
			":status":   &types.AttributeValueMemberS{Value: status},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update idempotency record: %v", err)
	}
	return nil
}
