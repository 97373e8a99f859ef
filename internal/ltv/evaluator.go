// Package ltv is the LTV Evaluator (C6): on every price update it
// re-evaluates new and active loans against the activation and
// liquidation thresholds, debounced to at most once per 250ms per venue
// so a burst of ticks from one feed doesn't thrash the Store.
package ltv

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/liquidation"
	"github.com/coruscant-bank/beskar-liquidation/internal/priceaggregator"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// epsilon absorbs floating-point comparison noise around the
// activation/liquidation threshold boundaries.
const epsilon = 1e-6

type Evaluator struct {
	store      store.LoanStore
	prices     *priceaggregator.Aggregator
	publisher  events.Publisher
	pool       *liquidation.Pool
	log        *logger.Logger

	activationThresholdPct  float64
	liquidationThresholdPct float64

	limiters map[domain.Venue]*rate.Limiter
}

func New(
	st store.LoanStore,
	prices *priceaggregator.Aggregator,
	publisher events.Publisher,
	pool *liquidation.Pool,
	activationThresholdPct, liquidationThresholdPct float64,
	log *logger.Logger,
) *Evaluator {
	return &Evaluator{
		store:                   st,
		prices:                  prices,
		publisher:               publisher,
		pool:                    pool,
		log:                     log.Named("ltv-evaluator"),
		activationThresholdPct:  activationThresholdPct,
		liquidationThresholdPct: liquidationThresholdPct,
		limiters: map[domain.Venue]*rate.Limiter{
			domain.VenueMosEspa:    rate.NewLimiter(rate.Every(250_000_000), 1),
			domain.VenueBlackSpire: rate.NewLimiter(rate.Every(250_000_000), 1),
		},
	}
}

// OnTick is called once per accepted price tick from C1. It debounces to
// at most one full evaluation pass per 250ms per venue, then re-evaluates
// every new/active loan.
func (e *Evaluator) OnTick(ctx context.Context, venue domain.Venue) {
	limiter, ok := e.limiters[venue]
	if !ok || !limiter.Allow() {
		return
	}
	e.evaluateAll()
}

func (e *Evaluator) evaluateAll() {
	mid, ok := e.prices.MidPrice()
	if !ok {
		return // midPrice unknown: no forced liquidation on stale prices
	}

	for _, loan := range e.store.ListByStatus(domain.StatusNew) {
		e.evaluateNew(loan, mid)
	}
	for _, loan := range e.store.ListByStatus(domain.StatusActive) {
		e.evaluateActive(loan, mid)
	}
}

// EvaluateLoan re-evaluates a single loan synchronously, for the
// immediate-activation path invoked from the top-up handler.
func (e *Evaluator) EvaluateLoan(loanID string) {
	mid, ok := e.prices.MidPrice()
	if !ok {
		return
	}
	loan, err := e.store.Get(loanID)
	if err != nil {
		return
	}
	switch loan.Status {
	case domain.StatusNew:
		e.evaluateNew(loan, mid)
	case domain.StatusActive:
		e.evaluateActive(loan, mid)
	}
}

func (e *Evaluator) evaluateNew(loan domain.Loan, mid decimal.Decimal) {
	if loan.Collateral.IsZero() {
		return
	}
	collateralValue := loan.Collateral.Mul(mid)
	if collateralValue.IsZero() {
		return
	}
	loanToValue, _ := loan.Principal.Div(collateralValue).Float64()

	if loanToValue > e.activationThresholdPct/100+epsilon {
		return
	}

	var publishErr error
	finalLoan, err := e.store.Transition(loan.LoanID, domain.StatusNew, domain.StatusActive, func(l *domain.Loan) {
		event := events.LoanEvent{
			EventID:            events.DeterministicEventID(l.LoanID, string(domain.StatusActive), l.LogicalVersion),
			EventType:          events.EventActivation,
			LoanID:             l.LoanID,
			Status:             string(domain.StatusActive),
			OutstandingBalance: l.OutstandingBalance().String(),
		}
		publishErr = e.publisher.Publish(event)
	})
	if err != nil {
		// Lost the CAS race to another evaluator tick; not an error.
		return
	}

	metrics.LoanTransitionsTotal.WithLabelValues(string(domain.StatusNew), string(domain.StatusActive)).Inc()
	if publishErr != nil {
		e.log.WithError(publishErr).WithField("loanId", finalLoan.LoanID).Warn("activation event publish uncertain")
		e.store.AppendAudit(domain.AuditEntry{LoanID: finalLoan.LoanID, Action: domain.AuditActivationDecision, Detail: "publish uncertain: " + publishErr.Error()})
	} else {
		e.store.AppendAudit(domain.AuditEntry{LoanID: finalLoan.LoanID, Action: domain.AuditActivationDecision, Detail: "activated"})
	}
}

func (e *Evaluator) evaluateActive(loan domain.Loan, mid decimal.Decimal) {
	if loan.Collateral.IsZero() {
		return
	}
	collateralValue := loan.Collateral.Mul(mid)
	if collateralValue.IsZero() {
		return
	}
	loanToValue, _ := loan.Principal.Div(collateralValue).Float64()

	if loanToValue < e.liquidationThresholdPct/100-epsilon {
		return
	}

	_, err := e.store.Transition(loan.LoanID, domain.StatusActive, domain.StatusLiquidating, nil)
	if err != nil {
		// Another evaluator tick already won this transition.
		return
	}

	metrics.LoanTransitionsTotal.WithLabelValues(string(domain.StatusActive), string(domain.StatusLiquidating)).Inc()
	e.store.AppendAudit(domain.AuditEntry{LoanID: loan.LoanID, Action: domain.AuditLiquidationStart, Detail: "ltv breached liquidation threshold"})

	if !e.pool.Enqueue(loan.LoanID) {
		e.log.WithField("loanId", loan.LoanID).Warn("liquidation queue full, relying on restart scan")
	}
}

