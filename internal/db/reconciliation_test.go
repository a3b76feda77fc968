package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

func sampleMatch() *models.ReconciliationMatch {
	return &models.ReconciliationMatch{
		ProjectID:        uuid.New(),
		InvoiceID:        uuid.New(),
		TransactionID:    uuid.New(),
		MatchType:        "auto",
		MatchScore:       0.93,
		AmountVariance:   decimal.NewFromInt(0),
		DateVarianceDays: 2,
		AmountScore:      1.0,
		DateScore:        0.85,
		VendorScore:      1.0,
		ReferenceScore:   0.5,
	}
}

func TestCreateMatchCommitsBothSides(t *testing.T) {
	store, mock := newMockStore(t)
	m := sampleMatch()
	matchID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO reconciliation_matches").
		WithArgs(m.ProjectID, m.InvoiceID, m.TransactionID, m.MatchType, m.MatchScore,
			m.AmountVariance, m.DateVarianceDays,
			m.AmountScore, m.DateScore, m.VendorScore, m.ReferenceScore, m.Confirmed).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(matchID, time.Now()))
	mock.ExpectExec("UPDATE tax_invoices").
		WithArgs(models.MatchAutoMatched, m.MatchScore, m.TransactionID, pgxmock.AnyArg(), m.InvoiceID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bank_transactions").
		WithArgs(models.MatchAutoMatched, m.MatchScore, m.InvoiceID, pgxmock.AnyArg(), m.TransactionID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateMatch(context.Background(), m, models.MatchAutoMatched))
	assert.Equal(t, matchID, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failure between the two flips must roll the whole mutation back, never
// leaving the invoice matched while the transaction is not.
func TestCreateMatchRollsBackOnPartialFailure(t *testing.T) {
	store, mock := newMockStore(t)
	m := sampleMatch()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO reconciliation_matches").
		WithArgs(m.ProjectID, m.InvoiceID, m.TransactionID, m.MatchType, m.MatchScore,
			m.AmountVariance, m.DateVarianceDays,
			m.AmountScore, m.DateScore, m.VendorScore, m.ReferenceScore, m.Confirmed).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
	mock.ExpectExec("UPDATE tax_invoices").
		WithArgs(models.MatchManualMatched, m.MatchScore, m.TransactionID, pgxmock.AnyArg(), m.InvoiceID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bank_transactions").
		WithArgs(models.MatchManualMatched, m.MatchScore, m.InvoiceID, pgxmock.AnyArg(), m.TransactionID).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := store.CreateMatch(context.Background(), m, models.MatchManualMatched)
	assert.ErrorContains(t, err, "flip transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectMatchCommitsBothSides(t *testing.T) {
	store, mock := newMockStore(t)
	m := sampleMatch()
	m.ID = uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reconciliation_matches").
		WithArgs("duplicate transfer", m.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE tax_invoices").
		WithArgs(m.InvoiceID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE bank_transactions").
		WithArgs(m.TransactionID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.RejectMatch(context.Background(), m, "duplicate transfer"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectMatchRollsBackOnPartialFailure(t *testing.T) {
	store, mock := newMockStore(t)
	m := sampleMatch()
	m.ID = uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reconciliation_matches").
		WithArgs("", m.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE tax_invoices").
		WithArgs(m.InvoiceID).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := store.RejectMatch(context.Background(), m, "")
	assert.ErrorContains(t, err, "reset invoice")
	assert.NoError(t, mock.ExpectationsWereMet())
}
