package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

const deadLetterTTL = 30 * 24 * time.Hour

// ErrDeadLetterNotFound indicates the requested dead letter does not exist.
var ErrDeadLetterNotFound = errors.New("audit: dead letter not found")

// DeadLetter is a job that exhausted its delivery attempts.
type DeadLetter struct {
	ID          string    `json:"id" dynamodbav:"id"`
	WorkspaceID string    `json:"workspace_id" dynamodbav:"workspaceId"`
	RunID       string    `json:"run_id,omitempty" dynamodbav:"runId,omitempty"`
	QueueName   string    `json:"queue_name" dynamodbav:"queueName"`
	Payload     string    `json:"payload" dynamodbav:"payload"`
	Reason      string    `json:"reason" dynamodbav:"reason"`
	Attempts    int       `json:"attempts" dynamodbav:"attempts"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"-"`
	ExpiresAt   int64     `json:"-" dynamodbav:"expiresAt,omitempty"`
}

// DeadLetterStore persists dead letters for operator triage.
type DeadLetterStore interface {
	Store(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context, workspaceID string, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, id string) (*DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGDeadLetterStore keeps dead letters in PostgreSQL.
type PGDeadLetterStore struct {
	pool pgQuerier
}

// NewPGDeadLetterStore builds a Postgres-backed dead-letter store.
func NewPGDeadLetterStore(pool *pgxpool.Pool) *PGDeadLetterStore {
	if pool == nil {
		panic("audit: pgx pool cannot be nil")
	}
	return &PGDeadLetterStore{pool: pool}
}

func newPGDeadLetterStoreWithQuerier(q pgQuerier) *PGDeadLetterStore {
	if q == nil {
		panic("audit: querier cannot be nil")
	}
	return &PGDeadLetterStore{pool: q}
}

var _ DeadLetterStore = (*PGDeadLetterStore)(nil)

// Store inserts one dead letter.
func (s *PGDeadLetterStore) Store(ctx context.Context, letter DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, workspace_id, run_id, queue_name, payload, reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, letter.ID, letter.WorkspaceID, letter.RunID, letter.QueueName, letter.Payload, letter.Reason, letter.Attempts, letter.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: failed to store dead letter: %w", err)
	}
	return nil
}

// List returns a workspace's dead letters, newest first.
func (s *PGDeadLetterStore) List(ctx context.Context, workspaceID string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, COALESCE(run_id, ''), queue_name, payload, reason, attempts, created_at
		FROM dead_letters
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var letter DeadLetter
		if err := rows.Scan(&letter.ID, &letter.WorkspaceID, &letter.RunID, &letter.QueueName,
			&letter.Payload, &letter.Reason, &letter.Attempts, &letter.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: dead letter rows: %w", err)
	}
	return letters, nil
}

// Get fetches one dead letter by id.
func (s *PGDeadLetterStore) Get(ctx context.Context, id string) (*DeadLetter, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, COALESCE(run_id, ''), queue_name, payload, reason, attempts, created_at
		FROM dead_letters
		WHERE id = $1
	`, id)

	var letter DeadLetter
	err := row.Scan(&letter.ID, &letter.WorkspaceID, &letter.RunID, &letter.QueueName,
		&letter.Payload, &letter.Reason, &letter.Attempts, &letter.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("audit: failed to load dead letter: %w", err)
	}
	return &letter, nil
}

// Delete removes a dead letter, typically after a requeue.
func (s *PGDeadLetterStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("audit: failed to delete dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDeadLetterStore keeps dead letters in DynamoDB with a TTL, for
// deployments that run the worker on Lambda without a Postgres hop.
type DynamoDeadLetterStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ DeadLetterStore = (*DynamoDeadLetterStore)(nil)

// NewDynamoDeadLetterStore builds a store backed by the provided DynamoDB client.
func NewDynamoDeadLetterStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoDeadLetterStore {
	if client == nil {
		panic("audit: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("audit: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoDeadLetterStore{client: client, tableName: tableName, logger: logger}
}

// Store inserts one dead letter with a 30-day TTL.
func (s *DynamoDeadLetterStore) Store(ctx context.Context, letter DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = now
	}
	if letter.ExpiresAt == 0 {
		letter.ExpiresAt = now.Add(deadLetterTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(letter)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal dead letter: %w", err)
	}
	item["createdAt"] = &types.AttributeValueMemberS{Value: letter.CreatedAt.Format(time.RFC3339Nano)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("audit: failed to persist dead letter: %w", err)
	}
	return nil
}

// List queries the workspace index, newest first.
func (s *DynamoDeadLetterStore) List(ctx context.Context, workspaceID string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("workspaceId-createdAt-index"),
		KeyConditionExpression: aws.String("workspaceId = :ws"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ws": &types.AttributeValueMemberS{Value: workspaceID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(out.Items))
	for _, item := range out.Items {
		letter, err := decodeDynamoDeadLetter(item)
		if err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Get fetches one dead letter by id.
func (s *DynamoDeadLetterStore) Get(ctx context.Context, id string) (*DeadLetter, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to fetch dead letter: %w", err)
	}
	if out.Item == nil {
		return nil, ErrDeadLetterNotFound
	}
	letter, err := decodeDynamoDeadLetter(out.Item)
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// Delete removes a dead letter.
func (s *DynamoDeadLetterStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("audit: failed to delete dead letter: %w", err)
	}
	return nil
}

func decodeDynamoDeadLetter(item map[string]types.AttributeValue) (DeadLetter, error) {
	var letter DeadLetter
	if err := attributevalue.UnmarshalMap(item, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("audit: failed to decode dead letter: %w", err)
	}
	if attr, ok := item["createdAt"].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, attr.Value); err == nil {
			letter.CreatedAt = ts
		}
	}
	return letter, nil
}
