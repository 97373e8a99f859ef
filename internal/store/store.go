// Package store is the Loan Store (C2): it persists loans, the
// requestId idempotency ledger and the audit log, and enforces every
// invariant from the loan state machine under concurrent access.
package store

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	apperrors "github.com/coruscant-bank/beskar-liquidation/pkg/errors"
)

const shardCount = 64

// LoanFilter narrows a List call. A zero value matches everything.
type LoanFilter struct {
	Status domain.LoanStatus // empty means "any"
}

// LoanStore is the C2 contract. Every operation on a given loanId is
// linearized; readers observe only committed snapshots.
type LoanStore interface {
	CreateLoan(loanID, borrowerID string, principal decimal.Decimal, mutate func(*domain.Loan)) (domain.Loan, error)
	AddCollateral(loanID string, amount decimal.Decimal) (domain.Loan, error)
	Transition(loanID string, from, to domain.LoanStatus, mutate func(*domain.Loan)) (domain.Loan, error)
	Get(loanID string) (domain.Loan, error)
	List(filter LoanFilter) []domain.Loan
	ListByStatus(status domain.LoanStatus) []domain.Loan

	RecordRequest(req domain.ProcessedRequest) (domain.ProcessedRequest, bool)
	LookupRequest(requestID string) (domain.ProcessedRequest, bool)

	AppendAudit(entry domain.AuditEntry)
	Audit() []domain.AuditEntry
}

type shard struct {
	mu     sync.Mutex
	loans  map[string]*domain.Loan
}

// MemoryLoanStore is the default in-memory LoanStore, sharded by a hash of
// loanId so unrelated loans never contend on the same mutex.
type MemoryLoanStore struct {
	shards [shardCount]*shard
	clk    clock.Clock

	requestsMu sync.Mutex
	requests   map[string]domain.ProcessedRequest

	auditMu sync.Mutex
	audit   []domain.AuditEntry
}

func NewMemoryLoanStore(clk clock.Clock) *MemoryLoanStore {
	s := &MemoryLoanStore{
		clk:      clk,
		requests: make(map[string]domain.ProcessedRequest),
	}
	for i := range s.shards {
		s.shards[i] = &shard{loans: make(map[string]*domain.Loan)}
	}
	return s
}

func (s *MemoryLoanStore) shardFor(loanID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(loanID))
	return s.shards[h.Sum32()%shardCount]
}

// CreateLoan inserts a new loan in status new, running mutate (if non-nil)
// while the shard lock is still held so callers can build and publish the
// application event before the lock releases, per §5's ordering rule.
func (s *MemoryLoanStore) CreateLoan(loanID, borrowerID string, principal decimal.Decimal, mutate func(*domain.Loan)) (domain.Loan, error) {
	sh := s.shardFor(loanID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.loans[loanID]; exists {
		return domain.Loan{}, apperrors.NewAlreadyExists(loanID)
	}

	now := s.clk.Now()
	loan := &domain.Loan{
		LoanID:         loanID,
		BorrowerID:     borrowerID,
		Principal:      principal,
		Collateral:     decimal.Zero,
		Status:         domain.StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
		CollateralSold: decimal.Zero,
		ProceedsGC:     decimal.Zero,
		LogicalVersion: 1,
	}
	sh.loans[loanID] = loan
	if mutate != nil {
		mutate(loan)
	}
	return loan.Clone(), nil
}

func (s *MemoryLoanStore) AddCollateral(loanID string, amount decimal.Decimal) (domain.Loan, error) {
	sh := s.shardFor(loanID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	loan, exists := sh.loans[loanID]
	if !exists {
		return domain.Loan{}, apperrors.NewNotFound(loanID)
	}
	if loan.Status == domain.StatusLiquidating || loan.Status == domain.StatusLiquidated {
		return domain.Loan{}, apperrors.NewTerminal(loanID)
	}

	loan.Collateral = loan.Collateral.Add(amount)
	loan.UpdatedAt = s.clk.Now()
	return loan.Clone(), nil
}

func (s *MemoryLoanStore) Transition(loanID string, from, to domain.LoanStatus, mutate func(*domain.Loan)) (domain.Loan, error) {
	if !domain.CanTransitionTo(from, to) {
		return domain.Loan{}, apperrors.NewStateConflict(loanID, string(from), string(to))
	}

	sh := s.shardFor(loanID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	loan, exists := sh.loans[loanID]
	if !exists {
		return domain.Loan{}, apperrors.NewNotFound(loanID)
	}
	if loan.Status != from {
		return domain.Loan{}, apperrors.NewStateConflict(loanID, string(loan.Status), string(to))
	}

	loan.Status = to
	loan.UpdatedAt = s.clk.Now()
	loan.LogicalVersion++
	if mutate != nil {
		mutate(loan)
	}
	return loan.Clone(), nil
}

func (s *MemoryLoanStore) Get(loanID string) (domain.Loan, error) {
	sh := s.shardFor(loanID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	loan, exists := sh.loans[loanID]
	if !exists {
		return domain.Loan{}, apperrors.NewNotFound(loanID)
	}
	return loan.Clone(), nil
}

func (s *MemoryLoanStore) List(filter LoanFilter) []domain.Loan {
	var out []domain.Loan
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, loan := range sh.loans {
			if filter.Status != "" && loan.Status != filter.Status {
				continue
			}
			out = append(out, loan.Clone())
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out
}

func (s *MemoryLoanStore) ListByStatus(status domain.LoanStatus) []domain.Loan {
	return s.List(LoanFilter{Status: status})
}

func (s *MemoryLoanStore) RecordRequest(req domain.ProcessedRequest) (domain.ProcessedRequest, bool) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()

	if existing, ok := s.requests[req.RequestID]; ok {
		return existing, false
	}
	req.Timestamp = s.clk.Now()
	s.requests[req.RequestID] = req
	return req, true
}

func (s *MemoryLoanStore) LookupRequest(requestID string) (domain.ProcessedRequest, bool) {
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()
	req, ok := s.requests[requestID]
	return req, ok
}

func (s *MemoryLoanStore) AppendAudit(entry domain.AuditEntry) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clk.Now()
	}
	s.audit = append(s.audit, entry)
}

func (s *MemoryLoanStore) Audit() []domain.AuditEntry {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]domain.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
