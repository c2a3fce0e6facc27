package triage

import (
	"context"
	"fmt"

	"github.com/lanebird/inbox-ai-platform/internal/observability/metrics"
	"github.com/lanebird/inbox-ai-platform/internal/queue"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// ApplyOutcome reports what the mutator did with a decision.
type ApplyOutcome string

const (
	// OutcomeApplied means the conversation was updated and, when
	// warranted, a draft job enqueued.
	OutcomeApplied ApplyOutcome = "applied"
	// OutcomeStale means a newer inbound message superseded the target
	// before we loaded the conversation; the decision is discarded.
	OutcomeStale ApplyOutcome = "stale"
	// OutcomeDuplicate means this exact message was already classified,
	// typically a queue redelivery after a crash mid-pass.
	OutcomeDuplicate ApplyOutcome = "duplicate"
	// OutcomeRaced means the guarded update lost to a concurrent writer
	// between the load and the write. Benign: the winner's state stands.
	OutcomeRaced ApplyOutcome = "raced"
)

// Mutator commits routing decisions to the conversation and enqueues
// follow-up draft work exactly once per inbound message.
type Mutator struct {
	conversations ConversationStore
	messages      MessageStore
	identities    IdentityHarvester
	draftQueue    queue.Client
	metrics       *metrics.TriageMetrics
	logger        *logging.Logger
}

// NewMutator builds the decision mutator. identities may be nil when
// harvesting is disabled.
func NewMutator(conversations ConversationStore, messages MessageStore, identities IdentityHarvester, draftQueue queue.Client, m *metrics.TriageMetrics, logger *logging.Logger) *Mutator {
	if conversations == nil {
		panic("triage: conversation store cannot be nil")
	}
	if messages == nil {
		panic("triage: message store cannot be nil")
	}
	if draftQueue == nil {
		panic("triage: draft queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Mutator{
		conversations: conversations,
		messages:      messages,
		identities:    identities,
		draftQueue:    draftQueue,
		metrics:       m,
		logger:        logger,
	}
}

// Apply commits one routing decision. The staleness and duplicate
// checks make redeliveries and out-of-order processing no-ops; only a
// genuinely current, not-yet-classified message mutates state.
func (m *Mutator) Apply(ctx context.Context, job ClassifyJob, result Result, bucket Bucket, status Status, body string) (ApplyOutcome, error) {
	conv, err := m.conversations.Get(ctx, job.WorkspaceID, job.ConversationID)
	if err != nil {
		return "", fmt.Errorf("triage: mutator load conversation: %w", err)
	}

	if conv.LastInboundMessageID != job.TargetMessageID {
		return OutcomeStale, nil
	}
	if conv.LastClassifiedMessageID == job.TargetMessageID {
		return OutcomeDuplicate, nil
	}

	applied, err := m.conversations.ApplyDecision(ctx, ApplyDecisionParams{
		ConversationID:  job.ConversationID,
		TargetMessageID: job.TargetMessageID,
		Category:        result.Category,
		RequiresReply:   result.RequiresReply,
		Confidence:      result.Confidence,
		Bucket:          bucket,
		Status:          status,
		Lane:            result.Lane,
		Metadata:        decisionMetadata(result),
	})
	if err != nil {
		return "", fmt.Errorf("triage: mutator apply decision: %w", err)
	}
	if !applied {
		return OutcomeRaced, nil
	}

	if err := m.messages.MarkDecided(ctx, job.EventID); err != nil {
		// The conversation update already landed; a redelivery will hit
		// the duplicate check, so log and continue.
		m.logger.Warn("failed to mark message decided",
			"error", err, "event_id", job.EventID, "conversation_id", job.ConversationID)
	}

	if m.identities != nil && body != "" {
		if err := m.identities.Harvest(ctx, job.WorkspaceID, job.ConversationID, body); err != nil {
			m.logger.Warn("identity harvest failed",
				"error", err, "conversation_id", job.ConversationID)
		}
	}

	if result.RequiresReply && bucket != BucketAutoHandled {
		if err := m.enqueueDraft(ctx, job); err != nil {
			return "", err
		}
	}
	return OutcomeApplied, nil
}

// enqueueDraft claims the draft slot and, only on a winning claim,
// enqueues the draft job. The claim is committed before the send: a
// crash between the two loses one draft rather than duplicating it,
// and the slot is reclaimable by support tooling.
func (m *Mutator) enqueueDraft(ctx context.Context, job ClassifyJob) error {
	claimed, err := m.conversations.ClaimDraftSlot(ctx, job.ConversationID, job.TargetMessageID)
	if err != nil {
		return fmt.Errorf("triage: mutator claim draft slot: %w", err)
	}
	if !claimed {
		return nil
	}

	body, err := DraftJob{
		WorkspaceID:     job.WorkspaceID,
		RunID:           job.RunID,
		ConversationID:  job.ConversationID,
		TargetMessageID: job.TargetMessageID,
		EventID:         job.EventID,
	}.Encode()
	if err != nil {
		return err
	}
	if err := m.draftQueue.Send(ctx, body, 0); err != nil {
		return fmt.Errorf("triage: mutator enqueue draft: %w", err)
	}

	m.metrics.ObserveDraftEnqueued()
	m.logger.Info("draft job enqueued",
		"conversation_id", job.ConversationID, "target_message_id", job.TargetMessageID, "run_id", job.RunID)
	return nil
}

func decisionMetadata(result Result) map[string]string {
	meta := make(map[string]string, len(result.Entities)+2)
	for k, v := range result.Entities {
		meta[k] = v
	}
	if result.Sentiment != "" {
		meta["sentiment"] = result.Sentiment
	}
	if result.SuggestedReply != "" {
		meta["suggested_reply"] = result.SuggestedReply
	}
	return meta
}
