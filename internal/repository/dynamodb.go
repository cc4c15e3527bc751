package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Kartavya-AI/SRS-Generator/internal/domain"
)

const (
	skState     = "STATE#"
	ttlDuration = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore persists one item per conversation session with a version
// attribute for optimistic concurrency.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore over the given table.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(id string) string {
	return "SESSION#" + id
}

// ttlValue returns the Unix timestamp after which a stale session may be
// reclaimed by the table's TTL policy.
func ttlValue(createdAt time.Time) int64 {
	return createdAt.Add(ttlDuration).Unix()
}

// Create writes a new session, refusing to overwrite an existing one.
func (s *DynamoStore) Create(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("repository: session id is required")
	}
	item, err := sessionItem(session)
	if err != nil {
		return fmt.Errorf("repository: Create marshal: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Get reads a session with a consistent read. Absent sessions return ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	sess, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return sess, nil
}

// Update replaces the stored session iff its version still matches the one
// the caller read, then bumps the caller's copy. A conditional-check failure
// maps to ErrVersionConflict.
func (s *DynamoStore) Update(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("repository: session id is required")
	}
	next := session.Clone()
	next.Version = session.Version + 1
	item, err := sessionItem(next)
	if err != nil {
		return fmt.Errorf("repository: Update marshal: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(session.Version, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("repository: Update: %w", err)
	}
	session.Version = next.Version
	return nil
}

// Delete removes a session. Deleting an absent session returns ErrNotFound.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func sessionItem(sess *domain.Session) (map[string]types.AttributeValue, error) {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	questions := make([]types.AttributeValue, 0, len(sess.Questions))
	for _, q := range sess.Questions {
		questions = append(questions, &types.AttributeValueMemberS{Value: q})
	}
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(sess.ID)},
		"SK":         &types.AttributeValueMemberS{Value: skState},
		"sessionId":  &types.AttributeValueMemberS{Value: sess.ID},
		"specialist": &types.AttributeValueMemberS{Value: sess.Specialist},
		"transcript": &types.AttributeValueMemberS{Value: string(transcript)},
		"questions":  &types.AttributeValueMemberL{Value: questions},
		"cursor":     &types.AttributeValueMemberN{Value: strconv.Itoa(sess.Cursor)},
		"status":     &types.AttributeValueMemberS{Value: string(sess.Status)},
		"result":     &types.AttributeValueMemberS{Value: sess.Result},
		"version":    &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.Version, 10)},
		"createdAt":  &types.AttributeValueMemberS{Value: sess.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(sess.CreatedAt), 10)},
	}, nil
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return nil, err
	}
	specialist, err := strAttr(item, "specialist")
	if err != nil {
		return nil, err
	}
	rawTranscript, err := strAttr(item, "transcript")
	if err != nil {
		return nil, err
	}
	var transcript []domain.TranscriptEntry
	if err := json.Unmarshal([]byte(rawTranscript), &transcript); err != nil {
		return nil, fmt.Errorf("repository: decode transcript: %w", err)
	}
	questions, err := strListAttr(item, "questions")
	if err != nil {
		return nil, err
	}
	cursor, err := intAttr(item, "cursor")
	if err != nil {
		return nil, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return nil, err
	}
	result, _ := strAttr(item, "result") // allow empty
	version, err := int64Attr(item, "version")
	if err != nil {
		return nil, err
	}
	rawCreated, err := strAttr(item, "createdAt")
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreated)
	if err != nil {
		return nil, fmt.Errorf("repository: parse createdAt: %w", err)
	}

	return &domain.Session{
		ID:         id,
		Specialist: specialist,
		Transcript: transcript,
		Questions:  questions,
		Cursor:     cursor,
		Status:     domain.Status(status),
		Result:     result,
		Version:    version,
		CreatedAt:  createdAt,
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

func strListAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]string, 0, len(l.Value))
	for i, member := range l.Value {
		s, ok := member.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q[%d] is not a string", key, i)
		}
		out = append(out, s.Value)
	}
	return out, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	n, err := int64Attr(item, key)
	return int(n), err
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
