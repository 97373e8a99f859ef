// Package domain holds the core entities of the liquidation service: Loan,
// ProcessedRequest, AuditEntry and the price-feed types, plus the loan
// state machine's transition rules.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the loan lifecycle state. Transitions are forward-only.
type LoanStatus string

const (
	StatusNew         LoanStatus = "new"
	StatusActive      LoanStatus = "active"
	StatusLiquidating LoanStatus = "liquidating"
	StatusLiquidated  LoanStatus = "liquidated"
)

// CanTransitionTo reports whether from -> to is one of the three legal
// forward transitions. There is no reverse transition, ever.
func CanTransitionTo(from, to LoanStatus) bool {
	switch from {
	case StatusNew:
		return to == StatusActive
	case StatusActive:
		return to == StatusLiquidating
	case StatusLiquidating:
		return to == StatusLiquidated
	default:
		return false
	}
}

// IsTerminal reports whether no further mutation is permitted for a loan
// in this status, besides audit-log append.
func (s LoanStatus) IsTerminal() bool {
	return s == StatusLiquidated
}

// Loan is the central entity tracked by the Loan Store.
type Loan struct {
	LoanID     string
	BorrowerID string
	Principal  decimal.Decimal // GC, immutable after creation
	Collateral decimal.Decimal // BSK, monotonically non-decreasing until liquidating

	Status LoanStatus

	CreatedAt time.Time
	UpdatedAt time.Time

	LiquidationAttempts int
	CollateralSold      decimal.Decimal // BSK
	ProceedsGC          decimal.Decimal // GC

	// LogicalVersion increments on every committed transition and is used
	// to derive the deterministic eventId for the transition's event.
	LogicalVersion int
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// store's lock (decimal.Decimal is itself immutable).
func (l Loan) Clone() Loan {
	return l
}

// OutstandingBalance is max(0, principal - proceedsGC).
func (l Loan) OutstandingBalance() decimal.Decimal {
	remaining := l.Principal.Sub(l.ProceedsGC)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RemainingCollateral is max(0, collateral - collateralSold).
func (l Loan) RemainingCollateral() decimal.Decimal {
	remaining := l.Collateral.Sub(l.CollateralSold)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RequestOutcome is the terminal outcome recorded for an idempotency key.
type RequestOutcome string

const (
	OutcomeAccepted RequestOutcome = "accepted"
	OutcomeRejected RequestOutcome = "rejected"
)

// ProcessedRequest is the idempotency record keyed by requestId.
type ProcessedRequest struct {
	RequestID string
	Outcome   RequestOutcome
	LoanID    string
	// Snapshot is the Loan state returned to the caller the first time
	// this requestId was processed, replayed verbatim on duplicates.
	Snapshot  Loan
	Err       error
	Timestamp time.Time
}

// AuditAction names the kind of state-changing operation recorded.
type AuditAction string

const (
	AuditApplication       AuditAction = "application"
	AuditTopUp             AuditAction = "top_up"
	AuditActivationDecision AuditAction = "activation_decision"
	AuditLiquidationStart  AuditAction = "liquidation_start"
	AuditLiquidationEnd    AuditAction = "liquidation_end"
	AuditTradeAttempt      AuditAction = "trade_attempt"
)

// AuditEntry is an append-only record of a state-changing operation.
// Not queryable via the API; its presence is a durability contract, not a
// feature.
type AuditEntry struct {
	LoanID      string
	Action      AuditAction
	RequestID   string
	CorrelationID string
	Detail      string
	Timestamp   time.Time
}
