package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGConversationStore persists conversations in PostgreSQL.
type PGConversationStore struct {
	pool querier
}

// NewPGConversationStore builds a Postgres-backed conversation store.
func NewPGConversationStore(pool *pgxpool.Pool) *PGConversationStore {
	if pool == nil {
		panic("triage: pgx pool cannot be nil")
	}
	return &PGConversationStore{pool: pool}
}

func newPGConversationStoreWithQuerier(q querier) *PGConversationStore {
	if q == nil {
		panic("triage: querier cannot be nil")
	}
	return &PGConversationStore{pool: q}
}

// Get loads one conversation scoped to its workspace.
func (s *PGConversationStore) Get(ctx context.Context, workspaceID, conversationID string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, channel, status, bucket, lane, category,
		       requires_reply, confidence,
		       COALESCE(last_inbound_message_id, ''),
		       COALESCE(last_classified_message_id, ''),
		       COALESCE(last_draft_enqueued_message_id, ''),
		       COALESCE(metadata, '{}'::jsonb),
		       updated_at
		FROM conversations
		WHERE id = $1 AND workspace_id = $2
	`, conversationID, workspaceID)

	var (
		conv        Conversation
		status      string
		bucket      string
		lane        string
		category    string
		metadataRaw []byte
	)
	err := row.Scan(&conv.ID, &conv.WorkspaceID, &conv.Channel, &status, &bucket, &lane, &category,
		&conv.RequiresReply, &conv.Confidence,
		&conv.LastInboundMessageID, &conv.LastClassifiedMessageID, &conv.LastDraftEnqueuedMessageID,
		&metadataRaw, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("triage: failed to load conversation: %w", err)
	}

	conv.Status = Status(status)
	conv.Bucket = Bucket(bucket)
	conv.Lane = Lane(lane)
	conv.Category = Category(category)
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("triage: failed to decode conversation metadata: %w", err)
		}
	}
	return &conv, nil
}

// ApplyDecision writes the routing decision, guarded on the inbound
// pointer still matching the target message. Zero rows affected means
// another writer advanced the conversation first.
func (s *PGConversationStore) ApplyDecision(ctx context.Context, params ApplyDecisionParams) (bool, error) {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return false, fmt.Errorf("triage: failed to encode decision metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET category = $3,
		    requires_reply = $4,
		    confidence = $5,
		    bucket = $6,
		    status = $7,
		    lane = $8,
		    last_classified_message_id = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $9::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND last_inbound_message_id = $2
	`, params.ConversationID, params.TargetMessageID,
		string(params.Category), params.RequiresReply, params.Confidence,
		string(params.Bucket), string(params.Status), string(params.Lane),
		metadata)
	if err != nil {
		return false, fmt.Errorf("triage: failed to apply decision: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimDraftSlot compare-and-sets the draft pointer so at most one
// draft job is ever enqueued per inbound message.
func (s *PGConversationStore) ClaimDraftSlot(ctx context.Context, conversationID, targetMessageID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET last_draft_enqueued_message_id = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND last_inbound_message_id = $2
		  AND last_draft_enqueued_message_id IS DISTINCT FROM $2
	`, conversationID, targetMessageID)
	if err != nil {
		return false, fmt.Errorf("triage: failed to claim draft slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PGMessageStore persists message events in PostgreSQL.
type PGMessageStore struct {
	pool querier
}

// NewPGMessageStore builds a Postgres-backed message store.
func NewPGMessageStore(pool *pgxpool.Pool) *PGMessageStore {
	if pool == nil {
		panic("triage: pgx pool cannot be nil")
	}
	return &PGMessageStore{pool: pool}
}

func newPGMessageStoreWithQuerier(q querier) *PGMessageStore {
	if q == nil {
		panic("triage: querier cannot be nil")
	}
	return &PGMessageStore{pool: q}
}

// Get loads one message event.
func (s *PGMessageStore) Get(ctx context.Context, eventID string) (*MessageEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, conversation_id, from_identifier,
		       COALESCE(subject, ''), body, channel, status,
		       COALESCE(last_error, ''), created_at
		FROM message_events
		WHERE id = $1
	`, eventID)

	var msg MessageEvent
	err := row.Scan(&msg.ID, &msg.WorkspaceID, &msg.ConversationID, &msg.FromIdentifier,
		&msg.Subject, &msg.Body, &msg.Channel, &msg.Status, &msg.LastError, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("triage: failed to load message event: %w", err)
	}
	return &msg, nil
}

// MarkDecided advances pending -> decided. A message the draft pipeline
// already moved to "drafted" is left untouched.
func (s *PGMessageStore) MarkDecided(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_events
		SET status = 'decided', last_error = NULL
		WHERE id = $1 AND status = 'pending'
	`, eventID)
	if err != nil {
		return fmt.Errorf("triage: failed to mark message decided: %w", err)
	}
	return nil
}

// RecordError stores the most recent processing error on the event.
func (s *PGMessageStore) RecordError(ctx context.Context, eventID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_events
		SET last_error = $2
		WHERE id = $1
	`, eventID, message)
	if err != nil {
		return fmt.Errorf("triage: failed to record message error: %w", err)
	}
	return nil
}

// RecentThread returns the newest messages of a conversation, oldest
// first, for oracle context.
func (s *PGMessageStore) RecentThread(ctx context.Context, conversationID string, limit int) ([]ThreadMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT direction, body, created_at
		FROM (
			SELECT direction, body, created_at
			FROM message_events
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("triage: failed to load thread: %w", err)
	}
	defer rows.Close()

	var thread []ThreadMessage
	for rows.Next() {
		var msg ThreadMessage
		if err := rows.Scan(&msg.Direction, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("triage: failed to scan thread message: %w", err)
		}
		thread = append(thread, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("triage: thread rows: %w", err)
	}
	return thread, nil
}

// PGRuleStore loads sender rules from PostgreSQL.
type PGRuleStore struct {
	pool querier
}

// NewPGRuleStore builds a Postgres-backed rule store.
func NewPGRuleStore(pool *pgxpool.Pool) *PGRuleStore {
	if pool == nil {
		panic("triage: pgx pool cannot be nil")
	}
	return &PGRuleStore{pool: pool}
}

func newPGRuleStoreWithQuerier(q querier) *PGRuleStore {
	if q == nil {
		panic("triage: querier cannot be nil")
	}
	return &PGRuleStore{pool: q}
}

// ListByWorkspace returns the workspace's enabled rules in priority order.
func (s *PGRuleStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]SenderRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pattern, pattern_type, category, requires_reply,
		       COALESCE(force_bucket, ''), COALESCE(force_status, '')
		FROM sender_rules
		WHERE workspace_id = $1 AND enabled
		ORDER BY priority ASC, created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("triage: failed to load sender rules: %w", err)
	}
	defer rows.Close()

	var rules []SenderRule
	for rows.Next() {
		var (
			rule        SenderRule
			category    string
			forceBucket string
			forceStatus string
		)
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.PatternType, &category,
			&rule.RequiresReply, &forceBucket, &forceStatus); err != nil {
			return nil, fmt.Errorf("triage: failed to scan sender rule: %w", err)
		}
		rule.Category = Category(category)
		rule.ForceBucket = Bucket(forceBucket)
		rule.ForceStatus = Status(forceStatus)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("triage: sender rule rows: %w", err)
	}
	return rules, nil
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{8,}\d`)
)

// PGIdentityStore harvests contact identities out of message bodies
// into a side table keyed by workspace.
type PGIdentityStore struct {
	pool querier
}

// NewPGIdentityStore builds a Postgres-backed identity store.
func NewPGIdentityStore(pool *pgxpool.Pool) *PGIdentityStore {
	if pool == nil {
		panic("triage: pgx pool cannot be nil")
	}
	return &PGIdentityStore{pool: pool}
}

func newPGIdentityStoreWithQuerier(q querier) *PGIdentityStore {
	if q == nil {
		panic("triage: querier cannot be nil")
	}
	return &PGIdentityStore{pool: q}
}

// Harvest extracts email addresses and phone numbers from the body and
// upserts them. Duplicates are ignored at the database level.
func (s *PGIdentityStore) Harvest(ctx context.Context, workspaceID, conversationID, body string) error {
	type identity struct {
		kind  string
		value string
	}
	var found []identity

	for _, email := range emailPattern.FindAllString(body, 5) {
		found = append(found, identity{kind: "email", value: strings.ToLower(email)})
	}
	for _, phone := range phonePattern.FindAllString(body, 5) {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' || r == '+' {
				return r
			}
			return -1
		}, phone)
		if len(digits) < 10 {
			continue
		}
		found = append(found, identity{kind: "phone", value: digits})
	}

	for _, id := range found {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO customer_identities (workspace_id, conversation_id, kind, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (workspace_id, kind, value) DO NOTHING
		`, workspaceID, conversationID, id.kind, id.value)
		if err != nil {
			return fmt.Errorf("triage: failed to store identity: %w", err)
		}
	}
	return nil
}
