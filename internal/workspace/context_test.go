package workspace

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadContextAssemblesProfileFAQsAndCorrections(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT name, industry, rules_text`).
		WithArgs("ws-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "industry", "rules_text"}).
			AddRow("Harbor Plumbing", "plumbing", "Quotes get a reply within 2h."))

	mock.ExpectQuery(`SELECT question, answer`).
		WithArgs("ws-1").
		WillReturnRows(pgxmock.NewRows([]string{"question", "answer"}).
			AddRow("Do you serve Brooklyn?", "Yes, all boroughs.").
			AddRow("Emergency call-outs?", "24/7, surcharge applies."))

	mock.ExpectQuery(`SELECT message_excerpt, corrected_category`).
		WithArgs("ws-1", correctionLimit).
		WillReturnRows(pgxmock.NewRows([]string{"message_excerpt", "corrected_category", "requires_reply", "note"}).
			AddRow("re: invoice 992", "follow_up", true, "customer chasing payment plan"))

	store := newStoreWithQuerier(mock)
	got, err := store.LoadContext(context.Background(), "ws-1")
	require.NoError(t, err)

	assert.Equal(t, "Harbor Plumbing", got.Name)
	assert.Equal(t, "plumbing", got.Industry)
	assert.Len(t, got.FAQs, 2)
	assert.Len(t, got.Corrections, 1)
	assert.Equal(t, "follow_up", got.Corrections[0].CorrectedCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadContextUnknownWorkspace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT name, industry, rules_text`).
		WithArgs("ws-missing").
		WillReturnRows(pgxmock.NewRows([]string{"name", "industry", "rules_text"}))

	store := newStoreWithQuerier(mock)
	_, err = store.LoadContext(context.Background(), "ws-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
