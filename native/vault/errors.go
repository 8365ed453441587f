package vault

import "errors"

// Rejected-operation outcomes surfaced to callers. Every violation aborts the
// whole operation with no partial state change.
var (
	ErrSystemPaused                  = errors.New("vault engine: system paused")
	ErrBelowMinimumCollateral        = errors.New("vault engine: collateral below minimum")
	ErrIssuanceCapExceeded           = errors.New("vault engine: issuance cap exceeded")
	ErrWaitingPeriodNotElapsed       = errors.New("vault engine: waiting period not elapsed")
	ErrLoanNotFound                  = errors.New("vault engine: loan not found")
	ErrLoanNotOpen                   = errors.New("vault engine: loan not open")
	ErrNotBorrower                   = errors.New("vault engine: caller is not the borrower")
	ErrInsufficientRepaymentBalance  = errors.New("vault engine: insufficient synth balance for repayment")
	ErrNotUndercollateralized        = errors.New("vault engine: loan not undercollateralized")
	ErrNotOwner                      = errors.New("vault engine: caller is not the owner")
	ErrInvalidAmount                 = errors.New("vault engine: amount must be positive")
	ErrInsufficientCollateralBalance = errors.New("vault engine: insufficient collateral balance")
)

// ErrInvalidParams wraps every parameter-validation rejection so transports can
// classify them without parsing messages.
var ErrInvalidParams = errors.New("vault params: invalid")

// Engine wiring failures, kept internal in line with the other native modules.
var (
	errNilState          = errors.New("vault engine: state not configured")
	errNotActivated      = errors.New("vault engine: issuance state not initialised")
	errOracleUnavailable = errors.New("vault engine: oracle rate unavailable")
	errFeePoolUnresolved = errors.New("vault engine: fee pool address not resolved")
)
