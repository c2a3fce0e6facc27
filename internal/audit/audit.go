// Package audit records what the triage pipeline did with every job:
// an append-only audit trail plus dead-letter storage and archival for
// jobs that exhausted their delivery attempts.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lanebird/inbox-ai-platform/internal/tenancy"
)

// Outcome classifies what happened to one queue delivery.
type Outcome string

const (
	// OutcomeProcessed means the decision was committed (or was a benign
	// race) and the message deleted.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDiscarded means the job was deleted without effect: stale
	// target, duplicate delivery, or malformed payload.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeRetry means the delivery failed and the message was left on
	// the queue for redelivery.
	OutcomeRetry Outcome = "retry"
	// OutcomeDeadLettered means the job exhausted its attempts and was
	// moved to the dead-letter store.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// JobRecord is one audit trail entry.
type JobRecord struct {
	ID               string
	WorkspaceID      string
	RunID            string
	QueueName        string
	JobPayload       string
	Outcome          Outcome
	Error            string
	Attempts         int
	ValidationIssues []string
	CreatedAt        time.Time
}

// Service writes the audit trail through database/sql.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service.
func NewService(db *sql.DB) *Service {
	if db == nil {
		panic("audit: db cannot be nil")
	}
	return &Service{db: db}
}

// RecordJob appends one audit entry. The trail is best-effort from the
// pipeline's perspective; callers log failures and move on.
func (s *Service) RecordJob(ctx context.Context, rec JobRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.WorkspaceID == "" {
		if workspaceID, ok := tenancy.WorkspaceIDFromContext(ctx); ok {
			rec.WorkspaceID = workspaceID
		}
	}

	query := `
		INSERT INTO triage_audit_events (
			id, workspace_id, run_id, queue_name, job_payload,
			outcome, error, attempts, validation_issues, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkspaceID,
		rec.RunID,
		rec.QueueName,
		rec.JobPayload,
		string(rec.Outcome),
		nullString(rec.Error),
		rec.Attempts,
		pq.Array(rec.ValidationIssues),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record job: %w", err)
	}
	return nil
}

// QueryFilter narrows an audit trail query.
type QueryFilter struct {
	WorkspaceID string
	RunID       string
	Outcome     Outcome
	Since       time.Time
	Limit       int
}

// Query returns audit entries newest first.
func (s *Service) Query(ctx context.Context, filter QueryFilter) ([]JobRecord, error) {
	query := `
		SELECT id, workspace_id, run_id, queue_name, job_payload,
		       outcome, COALESCE(error, ''), attempts, validation_issues, created_at
		FROM triage_audit_events
		WHERE workspace_id = $1
	`
	args := []interface{}{filter.WorkspaceID}
	argIdx := 2

	if filter.RunID != "" {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, string(filter.Outcome))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query trail: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var rec JobRecord
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.RunID, &rec.QueueName, &rec.JobPayload,
			&outcome, &rec.Error, &rec.Attempts, pq.Array(&rec.ValidationIssues), &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan trail entry: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: trail rows: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
