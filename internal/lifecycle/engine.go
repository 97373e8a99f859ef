// Package lifecycle is the Lifecycle Engine (C3): the HTTP-facing
// surface for loan applications and collateral top-ups. Every mutating
// call checks requestId idempotency first, validates, commits through
// the Store, emits the corresponding event, and appends an audit entry.
package lifecycle

import (
	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/internal/events"
	"github.com/coruscant-bank/beskar-liquidation/internal/store"
	apperrors "github.com/coruscant-bank/beskar-liquidation/pkg/errors"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// ltvEvaluator is the subset of ltv.Evaluator the engine calls after a
// top-up, kept as an interface so engine tests can supply a fake
// evaluator.
type ltvEvaluator interface {
	EvaluateLoan(loanID string)
}

type Engine struct {
	store     store.LoanStore
	publisher events.Publisher
	evaluator ltvEvaluator
	log       *logger.Logger
}

func New(st store.LoanStore, publisher events.Publisher, evaluator ltvEvaluator, log *logger.Logger) *Engine {
	return &Engine{store: st, publisher: publisher, evaluator: evaluator, log: log.Named("lifecycle")}
}

// ApplicationRequest is the decoded body of POST /loan-applications.
type ApplicationRequest struct {
	RequestID  string
	LoanID     string
	BorrowerID string
	Amount     decimal.Decimal
}

// TopUpRequest is the decoded body of POST /collateral-top-ups.
type TopUpRequest struct {
	RequestID  string
	LoanID     string
	BorrowerID string
	Amount     decimal.Decimal
}

// SubmitApplication creates a new loan in status new with zero
// collateral, recording the idempotency ledger entry before returning.
// A repeated requestId returns the original outcome without mutating
// anything (P4). A fresh requestId that names a loanId which already
// exists is resolved by resolveDuplicateApplication rather than rejected
// outright, per §4.3.
func (e *Engine) SubmitApplication(req ApplicationRequest) (domain.Loan, error) {
	if existing, seen := e.store.LookupRequest(req.RequestID); seen {
		return existing.Snapshot, existing.Err
	}

	if req.LoanID == "" || req.BorrowerID == "" || len(req.LoanID) > 128 || len(req.BorrowerID) > 128 || req.Amount.IsNegative() || req.Amount.IsZero() {
		err := apperrors.NewValidation("loanId and borrowerId (at most 128 characters each) and a positive amount are required")
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, Err: err})
		return domain.Loan{}, err
	}

	var publishErr error
	loan, err := e.store.CreateLoan(req.LoanID, req.BorrowerID, req.Amount, func(l *domain.Loan) {
		event := events.LoanEvent{
			EventID:   events.DeterministicEventID(l.LoanID, string(domain.StatusNew), l.LogicalVersion),
			EventType: events.EventApplication,
			LoanID:    l.LoanID,
			Status:    string(domain.StatusNew),
			Amount:    l.Principal.String(),
		}
		publishErr = e.publisher.Publish(event)
	})
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Type == apperrors.ErrorTypeAlreadyExists {
			return e.resolveDuplicateApplication(req)
		}
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: err})
		return domain.Loan{}, err
	}

	e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeAccepted, LoanID: loan.LoanID, Snapshot: loan})

	metrics.LoanTransitionsTotal.WithLabelValues("", string(domain.StatusNew)).Inc()
	if publishErr != nil {
		e.log.WithError(publishErr).WithField("loanId", loan.LoanID).Warn("application event publish uncertain")
		e.store.AppendAudit(domain.AuditEntry{LoanID: loan.LoanID, RequestID: req.RequestID, Action: domain.AuditApplication, Detail: "publish uncertain: " + publishErr.Error()})
	} else {
		e.store.AppendAudit(domain.AuditEntry{LoanID: loan.LoanID, RequestID: req.RequestID, Action: domain.AuditApplication, Detail: "application accepted"})
	}

	return loan, nil
}

// resolveDuplicateApplication handles a CreateLoan AlreadyExists error: a
// resubmission under a new requestId for a loanId that already exists
// succeeds idempotently if the borrower and principal match the existing
// loan, and is rejected with a conflict otherwise, per §4.3.
func (e *Engine) resolveDuplicateApplication(req ApplicationRequest) (domain.Loan, error) {
	existing, err := e.store.Get(req.LoanID)
	if err != nil {
		rejectErr := apperrors.NewAlreadyExists(req.LoanID)
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: rejectErr})
		return domain.Loan{}, rejectErr
	}

	if existing.BorrowerID != req.BorrowerID || !existing.Principal.Equal(req.Amount) {
		conflictErr := apperrors.NewConflict(req.LoanID, "loan already exists with a different borrower or amount")
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: conflictErr})
		return domain.Loan{}, conflictErr
	}

	e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeAccepted, LoanID: existing.LoanID, Snapshot: existing})
	return existing, nil
}

// SubmitTopUp adds collateral to an existing loan, rejecting the attempt
// if the loan is terminal, the borrower doesn't match, or it does not
// exist. Per the Open Question decision recorded in the expanded
// specification, it also synchronously re-evaluates the loan's LTV so
// activation can happen on the same request that crosses the threshold.
func (e *Engine) SubmitTopUp(req TopUpRequest) (domain.Loan, error) {
	if existing, seen := e.store.LookupRequest(req.RequestID); seen {
		return existing.Snapshot, existing.Err
	}

	if req.LoanID == "" || req.Amount.IsNegative() || req.Amount.IsZero() {
		err := apperrors.NewValidation("loanId and a positive amount are required")
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, Err: err})
		return domain.Loan{}, err
	}

	current, err := e.store.Get(req.LoanID)
	if err != nil {
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: err})
		return domain.Loan{}, err
	}
	if current.BorrowerID != req.BorrowerID {
		err := apperrors.NewBorrowerMismatch(req.LoanID)
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: err})
		return domain.Loan{}, err
	}
	if current.Status.IsTerminal() || current.Status == domain.StatusLiquidating {
		err := apperrors.NewTerminal(req.LoanID)
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: err})
		return domain.Loan{}, err
	}

	loan, err := e.store.AddCollateral(req.LoanID, req.Amount)
	if err != nil {
		e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeRejected, LoanID: req.LoanID, Err: err})
		return domain.Loan{}, err
	}

	e.store.RecordRequest(domain.ProcessedRequest{RequestID: req.RequestID, Outcome: domain.OutcomeAccepted, LoanID: loan.LoanID, Snapshot: loan})
	e.store.AppendAudit(domain.AuditEntry{LoanID: loan.LoanID, RequestID: req.RequestID, Action: domain.AuditTopUp, Detail: "collateral added: " + req.Amount.String()})

	if e.evaluator != nil {
		e.evaluator.EvaluateLoan(loan.LoanID)
	}

	return loan, nil
}

// ListLoans returns a snapshot of every loan known to the Store.
func (e *Engine) ListLoans() []domain.Loan {
	return e.store.List(store.LoanFilter{})
}
