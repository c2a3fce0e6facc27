package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
	"github.com/lanebird/inbox-ai-platform/internal/queue"
	"github.com/lanebird/inbox-ai-platform/internal/triage"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// AuditTrail is the slice of the audit service the admin API reads.
type AuditTrail interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.JobRecord, error)
}

// CacheInvalidator evicts a cached workspace context after operators
// edit rules, FAQs, or corrections out of band.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, workspaceID string) error
}

// AdminTriageHandler exposes operator endpoints for the triage pipeline:
// dead-letter inspection and requeue, conversation state, and the audit
// trail.
type AdminTriageHandler struct {
	deadLetters   audit.DeadLetterStore
	classifyQueue queue.Client
	trail         AuditTrail
	conversations triage.ConversationStore
	cache         CacheInvalidator
	logger        *logging.Logger
}

// NewAdminTriageHandler creates the admin triage handler. The audit
// trail, conversation store, and cache may be nil; the matching
// endpoints then answer 503.
func NewAdminTriageHandler(
	deadLetters audit.DeadLetterStore,
	classifyQueue queue.Client,
	trail AuditTrail,
	conversations triage.ConversationStore,
	cache CacheInvalidator,
	logger *logging.Logger,
) *AdminTriageHandler {
	if deadLetters == nil {
		panic("handlers: dead letter store is required")
	}
	if classifyQueue == nil {
		panic("handlers: classify queue is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTriageHandler{
		deadLetters:   deadLetters,
		classifyQueue: classifyQueue,
		trail:         trail,
		conversations: conversations,
		cache:         cache,
		logger:        logger,
	}
}

// DeadLetterItem is one dead letter in list responses.
type DeadLetterItem struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	RunID       string `json:"run_id,omitempty"`
	QueueName   string `json:"queue_name"`
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"created_at"`
}

// DeadLettersResponse is the list envelope for dead letters.
type DeadLettersResponse struct {
	DeadLetters []DeadLetterItem `json:"dead_letters"`
	Count       int              `json:"count"`
}

// ListDeadLetters returns dead letters for a workspace, newest first.
// GET /admin/deadletters?workspace_id={id}&limit={n}
func (h *AdminTriageHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		http.Error(w, "missing workspace_id", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 0 || limit > 500 {
		limit = 100
	}

	letters, err := h.deadLetters.List(r.Context(), workspaceID, limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", "workspace_id", workspaceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]DeadLetterItem, 0, len(letters))
	for _, letter := range letters {
		items = append(items, DeadLetterItem{
			ID:          letter.ID,
			WorkspaceID: letter.WorkspaceID,
			RunID:       letter.RunID,
			QueueName:   letter.QueueName,
			Reason:      letter.Reason,
			Attempts:    letter.Attempts,
			CreatedAt:   letter.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, DeadLettersResponse{DeadLetters: items, Count: len(items)})
}

// GetDeadLetter returns one dead letter including its raw payload.
// GET /admin/deadletters/{letterID}
func (h *AdminTriageHandler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	letterID := chi.URLParam(r, "letterID")
	if letterID == "" {
		http.Error(w, "missing letterID", http.StatusBadRequest)
		return
	}

	letter, err := h.deadLetters.Get(r.Context(), letterID)
	if err != nil {
		if errors.Is(err, audit.ErrDeadLetterNotFound) {
			http.Error(w, "dead letter not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load dead letter", "letter_id", letterID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, letter)
}

// RequeueDeadLetter puts the dead letter's payload back on the classify
// queue and removes the letter. The worker re-runs it from attempt one.
// POST /admin/deadletters/{letterID}/requeue
func (h *AdminTriageHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	letterID := chi.URLParam(r, "letterID")
	if letterID == "" {
		http.Error(w, "missing letterID", http.StatusBadRequest)
		return
	}

	letter, err := h.deadLetters.Get(r.Context(), letterID)
	if err != nil {
		if errors.Is(err, audit.ErrDeadLetterNotFound) {
			http.Error(w, "dead letter not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load dead letter", "letter_id", letterID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.classifyQueue.Send(r.Context(), letter.Payload, 0); err != nil {
		h.logger.Error("failed to requeue dead letter", "letter_id", letterID, "error", err)
		http.Error(w, "failed to requeue", http.StatusBadGateway)
		return
	}

	// Delete after the send so a failure leaves the letter available for
	// another attempt. A crash between the two can double-deliver; the
	// conversation guards make the duplicate a no-op.
	if err := h.deadLetters.Delete(r.Context(), letterID); err != nil {
		h.logger.Error("requeued but failed to delete dead letter", "letter_id", letterID, "error", err)
	}

	h.logger.Info("dead letter requeued", "letter_id", letterID, "workspace_id", letter.WorkspaceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": letterID})
}

// DeleteDeadLetter discards a dead letter without retrying it.
// DELETE /admin/deadletters/{letterID}
func (h *AdminTriageHandler) DeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	letterID := chi.URLParam(r, "letterID")
	if letterID == "" {
		http.Error(w, "missing letterID", http.StatusBadRequest)
		return
	}

	if err := h.deadLetters.Delete(r.Context(), letterID); err != nil {
		if errors.Is(err, audit.ErrDeadLetterNotFound) {
			http.Error(w, "dead letter not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete dead letter", "letter_id", letterID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("dead letter discarded", "letter_id", letterID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": letterID})
}

// ConversationResponse is the operator view of one conversation.
type ConversationResponse struct {
	ID                         string            `json:"id"`
	WorkspaceID                string            `json:"workspace_id"`
	Channel                    string            `json:"channel"`
	Status                     string            `json:"status"`
	Bucket                     string            `json:"bucket"`
	Lane                       string            `json:"lane"`
	Category                   string            `json:"category"`
	RequiresReply              bool              `json:"requires_reply"`
	Confidence                 float64           `json:"confidence"`
	LastInboundMessageID       string            `json:"last_inbound_message_id"`
	LastClassifiedMessageID    string            `json:"last_classified_message_id"`
	LastDraftEnqueuedMessageID string            `json:"last_draft_enqueued_message_id"`
	Metadata                   map[string]string `json:"metadata,omitempty"`
	UpdatedAt                  string            `json:"updated_at"`
}

// GetConversation returns the triage state of a single conversation.
// GET /admin/workspaces/{workspaceID}/conversations/{conversationID}
func (h *AdminTriageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	if h.conversations == nil {
		http.Error(w, "conversation store unavailable", http.StatusServiceUnavailable)
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	conversationID := chi.URLParam(r, "conversationID")
	if workspaceID == "" || conversationID == "" {
		http.Error(w, "missing workspaceID or conversationID", http.StatusBadRequest)
		return
	}

	conv, err := h.conversations.Get(r.Context(), workspaceID, conversationID)
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", "conversation_id", conversationID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ConversationResponse{
		ID:                         conv.ID,
		WorkspaceID:                conv.WorkspaceID,
		Channel:                    conv.Channel,
		Status:                     string(conv.Status),
		Bucket:                     string(conv.Bucket),
		Lane:                       string(conv.Lane),
		Category:                   string(conv.Category),
		RequiresReply:              conv.RequiresReply,
		Confidence:                 conv.Confidence,
		LastInboundMessageID:       conv.LastInboundMessageID,
		LastClassifiedMessageID:    conv.LastClassifiedMessageID,
		LastDraftEnqueuedMessageID: conv.LastDraftEnqueuedMessageID,
		Metadata:                   conv.Metadata,
		UpdatedAt:                  conv.UpdatedAt.Format(time.RFC3339),
	})
}

// AuditEntryItem is one audit trail entry in list responses.
type AuditEntryItem struct {
	ID               string   `json:"id"`
	WorkspaceID      string   `json:"workspace_id"`
	RunID            string   `json:"run_id,omitempty"`
	QueueName        string   `json:"queue_name"`
	Outcome          string   `json:"outcome"`
	Error            string   `json:"error,omitempty"`
	Attempts         int      `json:"attempts"`
	ValidationIssues []string `json:"validation_issues,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// AuditTrailResponse is the list envelope for audit entries.
type AuditTrailResponse struct {
	Entries []AuditEntryItem `json:"entries"`
	Count   int              `json:"count"`
}

// QueryAuditTrail returns audit entries for a workspace, newest first.
// GET /admin/workspaces/{workspaceID}/audit?run_id=&outcome=&since=&limit=
func (h *AdminTriageHandler) QueryAuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		http.Error(w, "audit trail unavailable", http.StatusServiceUnavailable)
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	if workspaceID == "" {
		http.Error(w, "missing workspaceID", http.StatusBadRequest)
		return
	}

	filter := audit.QueryFilter{
		WorkspaceID: workspaceID,
		RunID:       r.URL.Query().Get("run_id"),
		Outcome:     audit.Outcome(r.URL.Query().Get("outcome")),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "invalid since, want RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = t
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 && limit <= 500 {
		filter.Limit = limit
	}

	records, err := h.trail.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit trail", "workspace_id", workspaceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	entries := make([]AuditEntryItem, 0, len(records))
	for _, rec := range records {
		entries = append(entries, AuditEntryItem{
			ID:               rec.ID,
			WorkspaceID:      rec.WorkspaceID,
			RunID:            rec.RunID,
			QueueName:        rec.QueueName,
			Outcome:          string(rec.Outcome),
			Error:            rec.Error,
			Attempts:         rec.Attempts,
			ValidationIssues: rec.ValidationIssues,
			CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, AuditTrailResponse{Entries: entries, Count: len(entries)})
}

// InvalidateWorkspaceCache drops the cached workspace context so the
// next pass reloads rules, FAQs, and corrections from Postgres.
// POST /admin/workspaces/{workspaceID}/cache/invalidate
func (h *AdminTriageHandler) InvalidateWorkspaceCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "workspace cache unavailable", http.StatusServiceUnavailable)
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	if workspaceID == "" {
		http.Error(w, "missing workspaceID", http.StatusBadRequest)
		return
	}

	if err := h.cache.Invalidate(r.Context(), workspaceID); err != nil {
		h.logger.Error("failed to invalidate workspace cache", "workspace_id", workspaceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("workspace cache invalidated", "workspace_id", workspaceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "workspace_id": workspaceID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
