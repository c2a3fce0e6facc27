// Package workspace loads per-workspace business context used to ground
// AI classification: profile, FAQ knowledge base, and historical human
// corrections.
package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the workspace does not exist.
var ErrNotFound = errors.New("workspace: not found")

// FAQEntry is one knowledge-base entry injected into the oracle prompt.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Correction is a historical human override of an AI classification.
type Correction struct {
	MessageExcerpt    string `json:"message_excerpt"`
	CorrectedCategory string `json:"corrected_category"`
	RequiresReply     bool   `json:"requires_reply"`
	Note              string `json:"note,omitempty"`
}

// Context is everything workspace-specific the oracle prompt needs.
type Context struct {
	WorkspaceID string       `json:"workspace_id"`
	Name        string       `json:"name"`
	Industry    string       `json:"industry"`
	RulesText   string       `json:"rules_text"`
	FAQs        []FAQEntry   `json:"faqs,omitempty"`
	Corrections []Correction `json:"corrections,omitempty"`
}

// Provider loads a workspace context by id.
type Provider interface {
	LoadContext(ctx context.Context, workspaceID string) (*Context, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store loads workspace context from PostgreSQL.
type Store struct {
	pool querier
}

// NewStore builds a Postgres-backed workspace store.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("workspace: pgx pool cannot be nil")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("workspace: querier cannot be nil")
	}
	return &Store{pool: q}
}

const correctionLimit = 20

// LoadContext loads the profile plus FAQ entries and the most recent
// human corrections.
func (s *Store) LoadContext(ctx context.Context, workspaceID string) (*Context, error) {
	out := &Context{WorkspaceID: workspaceID}

	row := s.pool.QueryRow(ctx, `
		SELECT name, industry, rules_text
		FROM workspaces
		WHERE id = $1
	`, workspaceID)
	if err := row.Scan(&out.Name, &out.Industry, &out.RulesText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("workspace: failed to load profile: %w", err)
	}

	faqRows, err := s.pool.Query(ctx, `
		SELECT question, answer
		FROM workspace_faqs
		WHERE workspace_id = $1
		ORDER BY position ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace: failed to load faqs: %w", err)
	}
	defer faqRows.Close()
	for faqRows.Next() {
		var entry FAQEntry
		if err := faqRows.Scan(&entry.Question, &entry.Answer); err != nil {
			return nil, fmt.Errorf("workspace: failed to scan faq: %w", err)
		}
		out.FAQs = append(out.FAQs, entry)
	}
	if err := faqRows.Err(); err != nil {
		return nil, fmt.Errorf("workspace: faq rows: %w", err)
	}

	corrRows, err := s.pool.Query(ctx, `
		SELECT message_excerpt, corrected_category, requires_reply, COALESCE(note, '')
		FROM classification_corrections
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, correctionLimit)
	if err != nil {
		return nil, fmt.Errorf("workspace: failed to load corrections: %w", err)
	}
	defer corrRows.Close()
	for corrRows.Next() {
		var corr Correction
		if err := corrRows.Scan(&corr.MessageExcerpt, &corr.CorrectedCategory, &corr.RequiresReply, &corr.Note); err != nil {
			return nil, fmt.Errorf("workspace: failed to scan correction: %w", err)
		}
		out.Corrections = append(out.Corrections, corr)
	}
	if err := corrRows.Err(); err != nil {
		return nil, fmt.Errorf("workspace: correction rows: %w", err)
	}

	return out, nil
}
