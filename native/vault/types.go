package vault

import (
	"math/big"

	"synthvault/crypto"
)

// LoanStatus tracks the lifecycle of a collateralized loan. Open is the only
// non-terminal state; Closed and Liquidated are mutually exclusive and final.
type LoanStatus uint8

const (
	LoanStatusOpen LoanStatus = iota + 1
	LoanStatusClosed
	LoanStatusLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusOpen:
		return "open"
	case LoanStatusClosed:
		return "closed"
	case LoanStatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Loan is the authoritative record for a single collateralized position.
// Amounts are denominated in wei. CollateralWei and PrincipalWei are fixed at
// open time; terminated loans are retained for audit but excluded from cap and
// ratio accounting.
type Loan struct {
	// ID is unique and monotonically assigned. Zero is reserved for "not
	// found" so the first loan carries ID 1.
	ID uint64
	// Borrower opened the loan and is the only identity allowed to close it.
	Borrower crypto.Address
	// CollateralWei is the locked collateral amount.
	CollateralWei *big.Int
	// PrincipalWei is the gross synthetic principal issued against the
	// collateral, before the issuance fee deduction.
	PrincipalWei *big.Int
	// OpenedAt is the unix timestamp used for closure fee accrual.
	OpenedAt int64
	// ClosedAt records when the loan left the Open state, zero while open.
	ClosedAt int64
	Status   LoanStatus
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		ID:       l.ID,
		Borrower: l.Borrower,
		OpenedAt: l.OpenedAt,
		ClosedAt: l.ClosedAt,
		Status:   l.Status,
	}
	if l.CollateralWei != nil {
		clone.CollateralWei = new(big.Int).Set(l.CollateralWei)
	}
	if l.PrincipalWei != nil {
		clone.PrincipalWei = new(big.Int).Set(l.PrincipalWei)
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields so JSON handling stays safe.
func (l *Loan) EnsureDefaults() {
	if l == nil {
		return
	}
	if l.CollateralWei == nil {
		l.CollateralWei = big.NewInt(0)
	}
	if l.PrincipalWei == nil {
		l.PrincipalWei = big.NewInt(0)
	}
}

// IssuanceState is the singleton accounting record for the vault module.
// TotalIssuedWei equals the sum of PrincipalWei over all Open loans at all
// times; it is adjusted incrementally on open/close/liquidate and never
// recomputed from scratch.
type IssuanceState struct {
	// TotalIssuedWei is the outstanding gross principal across open loans.
	TotalIssuedWei *big.Int
	// NextLoanID is the id assigned to the next opened loan. Ids are never
	// reused, including after closure or liquidation.
	NextLoanID uint64
	// ActivatedAt marks system activation; the waiting period is measured
	// from this timestamp.
	ActivatedAt int64
	// Paused blocks new loan openings while set.
	Paused bool
	// Owner is the single identity allowed through the admin gate.
	Owner crypto.Address
}

// Clone returns a deep copy of the issuance state.
func (s *IssuanceState) Clone() *IssuanceState {
	if s == nil {
		return nil
	}
	clone := &IssuanceState{
		NextLoanID:  s.NextLoanID,
		ActivatedAt: s.ActivatedAt,
		Paused:      s.Paused,
		Owner:       s.Owner,
	}
	if s.TotalIssuedWei != nil {
		clone.TotalIssuedWei = new(big.Int).Set(s.TotalIssuedWei)
	}
	return clone
}

// EnsureDefaults populates nil fields so the singleton is always usable.
func (s *IssuanceState) EnsureDefaults() {
	if s == nil {
		return
	}
	if s.TotalIssuedWei == nil {
		s.TotalIssuedWei = big.NewInt(0)
	}
	if s.NextLoanID == 0 {
		s.NextLoanID = 1
	}
}
