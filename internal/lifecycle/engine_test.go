package lifecycle

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	apperrors "github.com/coruscant-bank/beskar-liquidation/pkg/errors"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
)

type recordingPublisher struct {
	published []events.LoanEvent
}

func (r *recordingPublisher) Publish(e events.LoanEvent) error {
	r.published = append(r.published, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type fakeEvaluator struct {
	evaluated []string
}

func (f *fakeEvaluator) EvaluateLoan(loanID string) {
	f.evaluated = append(f.evaluated, loanID)
}

func newTestEngine() (*Engine, store.LoanStore, *recordingPublisher, *fakeEvaluator) {
	clk := clock.NewFake(time.Unix(0, 0))
	st := store.NewMemoryLoanStore(clk)
	pub := &recordingPublisher{}
	ev := &fakeEvaluator{}
	return New(st, pub, ev, logger.Development("lifecycle-test")), st, pub, ev
}

func TestSubmitApplicationCreatesNewLoanAndPublishes(t *testing.T) {
	e, st, pub, _ := newTestEngine()

	loan, err := e.SubmitApplication(ApplicationRequest{
		RequestID:  "r1",
		LoanID:     "L1",
		BorrowerID: "B1",
		Amount:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, loan.Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, events.EventApplication, pub.published[0].EventType)

	got, err := st.Get("L1")
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(decimal.NewFromInt(1000)))
}

func TestSubmitApplicationIsIdempotentOnRepeatedRequestID(t *testing.T) {
	e, _, pub, _ := newTestEngine()

	first, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	second, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, pub.published, 1, "a replayed requestId must not publish a second event")
}

func TestSubmitApplicationRejectsInvalidAmount(t *testing.T) {
	e, _, _, _ := newTestEngine()

	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.Zero})
	require.Error(t, err)
}

func TestSubmitApplicationResubmitWithMatchingDetailsIsIdempotent(t *testing.T) {
	e, _, pub, _ := newTestEngine()

	first, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	// Same loanId/borrowerId/amount but a new requestId, as if the caller's
	// original response was lost and it retried with a fresh request.
	second, err := e.SubmitApplication(ApplicationRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, pub.published, 1, "resolving a duplicate application must not publish a second event")
}

func TestSubmitApplicationResubmitWithDifferentDetailsIsConflict(t *testing.T) {
	e, _, pub, _ := newTestEngine()

	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = e.SubmitApplication(ApplicationRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "someone-else", Amount: decimal.NewFromInt(1000)})
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeConflict, appErr.Type)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus())
	assert.Len(t, pub.published, 1, "a conflicting resubmission must not publish a second event")

	_, err = e.SubmitApplication(ApplicationRequest{RequestID: "r3", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(2000)})
	require.Error(t, err)
	appErr, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeConflict, appErr.Type)
}

func TestSubmitTopUpAddsCollateralAndTriggersEvaluation(t *testing.T) {
	e, _, _, ev := newTestEngine()

	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	loan, err := e.SubmitTopUp(TopUpRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	assert.True(t, loan.Collateral.Equal(decimal.NewFromInt(20)))
	assert.Contains(t, ev.evaluated, "L1")
}

func TestSubmitTopUpIsIdempotentOnRepeatedRequestID(t *testing.T) {
	e, _, _, _ := newTestEngine()
	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	first, err := e.SubmitTopUp(TopUpRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)

	second, err := e.SubmitTopUp(TopUpRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, second.Collateral.Equal(decimal.NewFromInt(20)), "a replayed top-up must not double-add collateral")
}

func TestSubmitTopUpRejectsBorrowerMismatch(t *testing.T) {
	e, _, _, _ := newTestEngine()
	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = e.SubmitTopUp(TopUpRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "someone-else", Amount: decimal.NewFromInt(20)})
	require.Error(t, err)
}

func TestSubmitTopUpRejectsOnTerminalLoan(t *testing.T) {
	e, st, _, _ := newTestEngine()
	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = st.Transition("L1", domain.StatusNew, domain.StatusActive, nil)
	require.NoError(t, err)
	_, err = st.Transition("L1", domain.StatusActive, domain.StatusLiquidating, nil)
	require.NoError(t, err)
	_, err = st.Transition("L1", domain.StatusLiquidating, domain.StatusLiquidated, nil)
	require.NoError(t, err)

	_, err = e.SubmitTopUp(TopUpRequest{RequestID: "r2", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(20)})
	require.Error(t, err)
}

func TestListLoansReturnsEverySubmittedLoan(t *testing.T) {
	e, _, _, _ := newTestEngine()
	_, err := e.SubmitApplication(ApplicationRequest{RequestID: "r1", LoanID: "L1", BorrowerID: "B1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = e.SubmitApplication(ApplicationRequest{RequestID: "r2", LoanID: "L2", BorrowerID: "B2", Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)

	assert.Len(t, e.ListLoans(), 2)
}
