// Package liquidation is the Liquidation Worker (C4): given a loan that
// has just transitioned active -> liquidating, it sizes the required
// sell order, picks the better-priced venue per lot, executes with
// unbounded retry, and finalizes the loan once enough collateral has
// been sold to cover principal.
package liquidation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/priceaggregator"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// Pool is the bounded liquidation worker pool (C4). Jobs are loanIds
// pulled off a buffered channel by a fixed number of goroutines, each
// running one loan's Sizing -> Quoting -> Trading -> Finalizing state
// machine to completion before picking up the next job.
type Pool struct {
	jobs chan string

	store      store.LoanStore
	prices     *priceaggregator.Aggregator
	publisher  events.Publisher
	lease      *Lease
	venues     []VenueClient
	clk        clock.Clock
	log        *logger.Logger
	retryBase  time.Duration
	retryCap   time.Duration

	wg sync.WaitGroup
}

func NewPool(
	workers int,
	queueDepth int,
	st store.LoanStore,
	prices *priceaggregator.Aggregator,
	publisher events.Publisher,
	lease *Lease,
	venues []VenueClient,
	clk clock.Clock,
	retryBase, retryCap time.Duration,
	log *logger.Logger,
) *Pool {
	p := &Pool{
		jobs:      make(chan string, queueDepth),
		store:     st,
		prices:    prices,
		publisher: publisher,
		lease:     lease,
		venues:    venues,
		clk:       clk,
		log:       log.Named("liquidation-worker"),
		retryBase: retryBase,
		retryCap:  retryCap,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(context.Background())
	}
	return p
}

// Enqueue submits loanID for liquidation. It never blocks indefinitely:
// if the queue is full the job is dropped, which is safe per §5 because
// the loan is already in liquidating status and the restart scan will
// re-enqueue it.
func (p *Pool) Enqueue(loanID string) bool {
	select {
	case p.jobs <- loanID:
		return true
	default:
		p.log.WithField("loanId", loanID).Warn("liquidation queue full, dropping enqueue")
		return false
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for loanID := range p.jobs {
		p.liquidate(ctx, loanID)
	}
}

// liquidate runs one loan's state machine to completion: Sizing ->
// Quoting -> Trading (looping until the lot clears) -> next lot ->
// Finalizing -> Done. Each lot is retried without limit; it returns early
// only when the lease cannot be acquired or is lost, or the loan cannot be
// read from the store.
func (p *Pool) liquidate(ctx context.Context, loanID string) {
	held, ok, err := p.lease.Acquire(ctx, loanID)
	if err != nil {
		p.log.WithError(err).WithField("loanId", loanID).Error("lease acquisition error")
		return
	}
	if !ok {
		return // another worker in the cluster already owns this loan
	}
	defer held.Release()

	loan, err := p.store.Get(loanID)
	if err != nil {
		p.log.WithError(err).WithField("loanId", loanID).Error("loan vanished before liquidation could start")
		return
	}
	if loan.Status != domain.StatusLiquidating {
		return // already finalized by another worker before we acquired the lease
	}

	log := p.log.WithField("loanId", loanID)

	remaining := loan.RemainingCollateral()
	midPrice, ok := p.waitForMidPrice(held.Done())
	if !ok {
		return // lease lost while waiting for a price
	}

	required := requiredQuantity(loan.OutstandingBalance(), midPrice)
	requiredDec := decimal.NewFromInt(int64(required))
	if requiredDec.GreaterThan(remaining) {
		required = int(remaining.IntPart())
	}
	lots := lotsFor(required)

	var soldBSK, proceedsGC decimal.Decimal
	for _, lot := range lots {
		select {
		case <-held.Done():
			log.Warn("lease lost mid-liquidation, abandoning to another worker")
			return
		default:
		}

		price, err := p.executeLot(ctx, held, log, loanID, lot)
		if err != nil {
			// The lease was lost: the retry loop runs under the lease's context.
			log.WithError(err).Warn("lot execution abandoned")
			return
		}
		soldBSK = soldBSK.Add(decimal.NewFromInt(int64(lot)))
		proceedsGC = proceedsGC.Add(price.Mul(decimal.NewFromInt(int64(lot))))

		p.store.AppendAudit(domain.AuditEntry{
			LoanID: loanID,
			Action: domain.AuditTradeAttempt,
			Detail: "lot cleared",
		})

		if proceedsGC.GreaterThanOrEqual(loan.OutstandingBalance()) {
			break
		}
	}

	p.finalize(loanID, soldBSK, proceedsGC, log)
}

// waitForMidPrice blocks with exponential backoff (1s, capped at 60s)
// while both venues are stale, per §4.4's venue-selection fallback.
func (p *Pool) waitForMidPrice(done <-chan struct{}) (decimal.Decimal, bool) {
	backoff := time.Second
	const cap = 60 * time.Second
	for {
		if mid, ok := p.prices.MidPrice(); ok {
			return mid, true
		}
		select {
		case <-done:
			return decimal.Zero, false
		case <-p.clk.After(backoff):
		}
		backoff *= 2
		if backoff > cap {
			backoff = cap
		}
	}
}

// executeLot sells exactly `quantity` BSK at the better-priced venue,
// retrying the same lot forever (full jitter backoff) until it clears.
// Returns the achieved price per BSK for the cleared trade.
func (p *Pool) executeLot(ctx context.Context, held *Held, log *logger.Logger, loanID string, quantity int) (decimal.Decimal, error) {
	var achieved decimal.Decimal

	err := retryUntilSuccess(held.Context(), p.clk, p.retryBase, p.retryCap, func(attempt int) error {
		venue := p.selectVenue(quantity)
		clientOrderID := uuid.NewString()

		p.store.AppendAudit(domain.AuditEntry{
			LoanID:        loanID,
			Action:        domain.AuditTradeAttempt,
			CorrelationID: clientOrderID,
			Detail:        "submitting lot",
		})

		result, err := venue.Sell(ctx, clientOrderID, quantity)
		if err != nil {
			log.WithError(err).WithFields(map[string]interface{}{
				"venue":    venue.Venue(),
				"quantity": quantity,
				"attempt":  attempt,
			}).Warn("lot attempt failed, retrying")
			return err
		}

		achieved = result.AchievedPrice
		return nil
	})

	return achieved, err
}

// selectVenue picks the venue with the higher effectiveSellPrice for the
// given lot size, breaking ties toward MOS_ESPA. If one venue is stale
// the other is used unconditionally.
func (p *Pool) selectVenue(quantity int) VenueClient {
	var best VenueClient
	var bestPrice decimal.Decimal

	for _, v := range p.venues {
		price, ok := p.prices.EffectiveSellPrice(v.Venue(), quantity)
		if !ok {
			continue
		}
		if best == nil || price.GreaterThan(bestPrice) {
			best = v
			bestPrice = price
		}
	}
	if best == nil {
		return p.venues[0]
	}
	return best
}

// finalize transitions the loan liquidating -> liquidated, recording
// collateralSold/proceedsGC and emitting exactly one liquidation event
// while the per-loan store lock is still held, per §5's ordering rule.
func (p *Pool) finalize(loanID string, soldBSK, proceedsGC decimal.Decimal, log *logger.Logger) {
	var publishErr error

	finalLoan, err := p.store.Transition(loanID, domain.StatusLiquidating, domain.StatusLiquidated, func(loan *domain.Loan) {
		loan.CollateralSold = soldBSK
		loan.ProceedsGC = proceedsGC

		event := events.LoanEvent{
			EventID:             events.DeterministicEventID(loan.LoanID, string(domain.StatusLiquidated), loan.LogicalVersion),
			EventType:           events.EventLiquidation,
			LoanID:              loan.LoanID,
			Status:              string(domain.StatusLiquidated),
			CollateralSold:      loan.CollateralSold.String(),
			CollateralValue:     loan.ProceedsGC.String(),
			RemainingCollateral: loan.RemainingCollateral().String(),
			OutstandingBalance:  loan.OutstandingBalance().String(),
		}
		publishErr = p.publisher.Publish(event)
	})
	if err != nil {
		log.WithError(err).Error("failed to finalize liquidation")
		return
	}

	metrics.LoanTransitionsTotal.WithLabelValues(string(domain.StatusLiquidating), string(domain.StatusLiquidated)).Inc()

	if publishErr != nil {
		log.WithError(publishErr).Warn("liquidation event publish uncertain; state already committed")
		p.store.AppendAudit(domain.AuditEntry{
			LoanID: loanID,
			Action: domain.AuditLiquidationEnd,
			Detail: "publish uncertain: " + publishErr.Error(),
		})
	} else {
		p.store.AppendAudit(domain.AuditEntry{
			LoanID: loanID,
			Action: domain.AuditLiquidationEnd,
			Detail: "liquidated, collateralSold=" + finalLoan.CollateralSold.String(),
		})
	}
}

// Shutdown stops accepting new jobs and waits for every in-flight
// liquidation to return. Workers run under a context that is never
// cancelled, so a liquidation in progress returns only once it finalizes
// or its lease is lost.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
