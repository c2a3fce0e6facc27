package triage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("triage: not found")

// Conversation is the persistent unit of customer interaction state.
// It is mutated by this pipeline and by the draft pipeline, never
// deleted here.
type Conversation struct {
	ID                         string
	WorkspaceID                string
	Channel                    string
	Status                     Status
	Bucket                     Bucket
	Lane                       Lane
	Category                   Category
	RequiresReply              bool
	Confidence                 float64
	LastInboundMessageID       string
	LastClassifiedMessageID    string
	LastDraftEnqueuedMessageID string
	Metadata                   map[string]string
	UpdatedAt                  time.Time
}

// MessageEvent is an immutable record of one message feeding the pipeline.
type MessageEvent struct {
	ID             string
	WorkspaceID    string
	ConversationID string
	FromIdentifier string
	Subject        string
	Body           string
	Channel        string
	Status         string // pending | decided | drafted
	LastError      string
	CreatedAt      time.Time
}

// ThreadMessage is one entry of recent conversation history handed to
// the oracle for context.
type ThreadMessage struct {
	Direction string    `json:"direction"` // inbound | outbound
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyDecisionParams carries one routing decision into the conversation
// row. The update is conditional on LastInboundMessageID still matching
// TargetMessageID; a non-match is a benign race, not an error.
type ApplyDecisionParams struct {
	ConversationID  string
	TargetMessageID string
	Category        Category
	RequiresReply   bool
	Confidence      float64
	Bucket          Bucket
	Status          Status
	Lane            Lane
	Metadata        map[string]string
}

// ConversationStore is the persistence contract for conversations.
type ConversationStore interface {
	Get(ctx context.Context, workspaceID, conversationID string) (*Conversation, error)
	// ApplyDecision performs the guarded update; false means the guard no
	// longer held (another writer advanced the conversation).
	ApplyDecision(ctx context.Context, params ApplyDecisionParams) (bool, error)
	// ClaimDraftSlot compare-and-sets last_draft_enqueued_message_id to the
	// target; false means the slot was already claimed or the message was
	// superseded. This is the exactly-once guard for draft enqueues.
	ClaimDraftSlot(ctx context.Context, conversationID, targetMessageID string) (bool, error)
}

// MessageStore is the persistence contract for message events.
type MessageStore interface {
	Get(ctx context.Context, eventID string) (*MessageEvent, error)
	// MarkDecided advances status pending->decided; a message already in
	// "drafted" is left alone (status only moves forward).
	MarkDecided(ctx context.Context, eventID string) error
	RecordError(ctx context.Context, eventID, message string) error
	RecentThread(ctx context.Context, conversationID string, limit int) ([]ThreadMessage, error)
}

// RuleStore loads workspace sender rules in stored order.
type RuleStore interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]SenderRule, error)
}

// IdentityHarvester extracts customer contact identities from message
// bodies into a side table. Best-effort: failures are logged, never
// surfaced to the pipeline.
type IdentityHarvester interface {
	Harvest(ctx context.Context, workspaceID, conversationID, body string) error
}
