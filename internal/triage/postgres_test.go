package triage

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGConversationStoreGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, workspace_id, channel`).
		WithArgs("conv-1", "ws-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "workspace_id", "channel", "status", "bucket", "lane", "category",
			"requires_reply", "confidence",
			"last_inbound_message_id", "last_classified_message_id", "last_draft_enqueued_message_id",
			"metadata", "updated_at",
		}).AddRow(
			"conv-1", "ws-1", "email", "open", "quick_win", "to_reply", "inquiry",
			true, 0.9,
			"msg-5", "msg-4", "msg-4",
			[]byte(`{"gatekeeper_source":"subject_escalation"}`), now,
		))

	store := newPGConversationStoreWithQuerier(mock)
	conv, err := store.Get(context.Background(), "ws-1", "conv-1")
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, conv.Status)
	assert.Equal(t, LaneToReply, conv.Lane)
	assert.Equal(t, "msg-5", conv.LastInboundMessageID)
	assert.Equal(t, "subject_escalation", conv.Metadata["gatekeeper_source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGConversationStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, workspace_id, channel`).
		WithArgs("conv-missing", "ws-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	store := newPGConversationStoreWithQuerier(mock)
	_, err = store.Get(context.Background(), "ws-1", "conv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDecisionGuardHolds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE conversations`).
		WithArgs("conv-1", "msg-5", "quote", true, 0.91, "quick_win", "open", "to_reply", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := newPGConversationStoreWithQuerier(mock)
	applied, err := store.ApplyDecision(context.Background(), ApplyDecisionParams{
		ConversationID:  "conv-1",
		TargetMessageID: "msg-5",
		Category:        CategoryQuote,
		RequiresReply:   true,
		Confidence:      0.91,
		Bucket:          BucketQuickWin,
		Status:          StatusOpen,
		Lane:            LaneToReply,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDecisionGuardLost(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE conversations`).
		WithArgs("conv-1", "msg-5", "quote", true, 0.91, "quick_win", "open", "to_reply", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := newPGConversationStoreWithQuerier(mock)
	applied, err := store.ApplyDecision(context.Background(), ApplyDecisionParams{
		ConversationID:  "conv-1",
		TargetMessageID: "msg-5",
		Category:        CategoryQuote,
		RequiresReply:   true,
		Confidence:      0.91,
		Bucket:          BucketQuickWin,
		Status:          StatusOpen,
		Lane:            LaneToReply,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestClaimDraftSlotExactlyOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE conversations`).
		WithArgs("conv-1", "msg-5").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE conversations`).
		WithArgs("conv-1", "msg-5").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := newPGConversationStoreWithQuerier(mock)
	first, err := store.ClaimDraftSlot(context.Background(), "conv-1", "msg-5")
	require.NoError(t, err)
	second, err := store.ClaimDraftSlot(context.Background(), "conv-1", "msg-5")
	require.NoError(t, err)

	assert.True(t, first, "first claim should win")
	assert.False(t, second, "second claim should lose")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMessageStoreMarkDecided(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE message_events`).
		WithArgs("msg-5").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := newPGMessageStoreWithQuerier(mock)
	require.NoError(t, store.MarkDecided(context.Background(), "msg-5"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMessageStoreRecentThreadOldestFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT direction, body, created_at`).
		WithArgs("conv-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{"direction", "body", "created_at"}).
			AddRow("inbound", "hi, is my part in?", now.Add(-2*time.Hour)).
			AddRow("outbound", "arriving thursday", now.Add(-time.Hour)))

	store := newPGMessageStoreWithQuerier(mock)
	thread, err := store.RecentThread(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "inbound", thread[0].Direction)
	assert.True(t, thread[0].CreatedAt.Before(thread[1].CreatedAt))
}

func TestPGRuleStoreListByWorkspace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, pattern, pattern_type`).
		WithArgs("ws-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "pattern", "pattern_type", "category", "requires_reply", "force_bucket", "force_status",
		}).AddRow("rule-1", "billing@vendor.com", "contains", "notification", false, "auto_handled", "resolved"))

	store := newPGRuleStoreWithQuerier(mock)
	rules, err := store.ListByWorkspace(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, CategoryNotification, rules[0].Category)
	assert.Equal(t, BucketAutoHandled, rules[0].ForceBucket)
	assert.Equal(t, StatusResolved, rules[0].ForceStatus)
}

func TestIdentityHarvestExtractsEmailAndPhone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO customer_identities`).
		WithArgs("ws-1", "conv-1", "email", "jo@example.com").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO customer_identities`).
		WithArgs("ws-1", "conv-1", "phone", "+12125550123").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := newPGIdentityStoreWithQuerier(mock)
	err = store.Harvest(context.Background(), "ws-1", "conv-1",
		"Reach me at Jo@Example.com or +1 (212) 555-0123 after 5pm.")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityHarvestNothingFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPGIdentityStoreWithQuerier(mock)
	require.NoError(t, store.Harvest(context.Background(), "ws-1", "conv-1", "see you tomorrow"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
