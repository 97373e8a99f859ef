package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/lifecycle"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
)

type noOpEventPublisher struct{}

func (noOpEventPublisher) Publish(events.LoanEvent) error { return nil }
func (noOpEventPublisher) Close() error                   { return nil }

// discardEvaluator satisfies the lifecycle package's ltvEvaluator interface
// without re-evaluating anything.
type discardEvaluator struct{}

func (discardEvaluator) EvaluateLoan(string) {}

func newTestRouter() (http.Handler, store.LoanStore) {
	clk := clock.NewFake(time.Unix(0, 0))
	st := store.NewMemoryLoanStore(clk)
	engine := lifecycle.New(st, noOpEventPublisher{}, discardEvaluator{}, logger.Development("api-test"))
	return NewRouter(engine, logger.Development("api-test")), st
}

func doJSON(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitApplicationAcceptsValidRequest(t *testing.T) {
	router, _ := newTestRouter()

	rec := doJSON(router, http.MethodPost, "/loan-applications", map[string]string{
		"requestId":  "r1",
		"loanId":     "L1",
		"borrowerId": "B1",
		"amount":     "1000",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSubmitApplicationRejectsMissingFields(t *testing.T) {
	router, _ := newTestRouter()

	rec := doJSON(router, http.MethodPost, "/loan-applications", map[string]string{
		"requestId": "r1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitApplicationRejectsInvalidAmount(t *testing.T) {
	router, _ := newTestRouter()

	rec := doJSON(router, http.MethodPost, "/loan-applications", map[string]string{
		"requestId":  "r1",
		"loanId":     "L1",
		"borrowerId": "B1",
		"amount":     "not-a-number",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitApplicationDuplicateLoanIDReturnsConflict(t *testing.T) {
	router, _ := newTestRouter()

	body := map[string]string{"requestId": "r1", "loanId": "L1", "borrowerId": "B1", "amount": "1000"}
	doJSON(router, http.MethodPost, "/loan-applications", body)

	second := map[string]string{"requestId": "r2", "loanId": "L1", "borrowerId": "B2", "amount": "1000"}
	rec := doJSON(router, http.MethodPost, "/loan-applications", second)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListLoansReturnsAccepted(t *testing.T) {
	router, _ := newTestRouter()
	doJSON(router, http.MethodPost, "/loan-applications", map[string]string{
		"requestId": "r1", "loanId": "L1", "borrowerId": "B1", "amount": "1000",
	})

	req := httptest.NewRequest(http.MethodGet, "/loans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var loans []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loans))
	assert.Len(t, loans, 1)
}

func TestHealthzReportsHealthy(t *testing.T) {
	router, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
