package events

import (
	"math/big"
	"strconv"

	"synthvault/core/types"
	"synthvault/crypto"
)

const (
	TypeLoanCreated    = "vault.loan_created"
	TypeLoanClosed     = "vault.loan_closed"
	TypeLoanLiquidated = "vault.loan_liquidated"
	TypeParamsUpdated  = "vault.params_updated"
	TypePauseChanged   = "vault.pause_changed"
	TypeOwnerChanged   = "vault.owner_changed"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(raw [20]byte) string {
	return crypto.MustNewAddress(crypto.SVPrefix, raw[:]).String()
}

// LoanCreated is emitted when a borrower locks collateral and mints synth.
type LoanCreated struct {
	LoanID        uint64
	Borrower      [20]byte
	CollateralWei *big.Int
	PrincipalWei  *big.Int
	MintedWei     *big.Int
}

func (LoanCreated) EventType() string { return TypeLoanCreated }

func (e LoanCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanCreated,
		Attributes: map[string]string{
			"loanId":     strconv.FormatUint(e.LoanID, 10),
			"borrower":   formatAddress(e.Borrower),
			"collateral": formatAmount(e.CollateralWei),
			"principal":  formatAmount(e.PrincipalWei),
			"minted":     formatAmount(e.MintedWei),
		},
	}
}

// LoanClosed is emitted when the borrower repays principal plus closure fee and
// the locked collateral is released.
type LoanClosed struct {
	LoanID     uint64
	Borrower   [20]byte
	RepaidWei  *big.Int
	FeeWei     *big.Int
	ReturnsWei *big.Int
}

func (LoanClosed) EventType() string { return TypeLoanClosed }

func (e LoanClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanClosed,
		Attributes: map[string]string{
			"loanId":   strconv.FormatUint(e.LoanID, 10),
			"borrower": formatAddress(e.Borrower),
			"repaid":   formatAmount(e.RepaidWei),
			"fee":      formatAmount(e.FeeWei),
			"returned": formatAmount(e.ReturnsWei),
		},
	}
}

// LoanLiquidated is emitted when a third party closes an under-collateralized
// loan in exchange for a share of the collateral.
type LoanLiquidated struct {
	LoanID     uint64
	Borrower   [20]byte
	Liquidator [20]byte
	SeizedWei  *big.Int
	RefundWei  *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanLiquidated,
		Attributes: map[string]string{
			"loanId":     strconv.FormatUint(e.LoanID, 10),
			"borrower":   formatAddress(e.Borrower),
			"liquidator": formatAddress(e.Liquidator),
			"seized":     formatAmount(e.SeizedWei),
			"refunded":   formatAmount(e.RefundWei),
		},
	}
}

// ParamsUpdated is emitted after an owner-gated parameter change commits.
type ParamsUpdated struct {
	Field string
	Value string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamsUpdated,
		Attributes: map[string]string{
			"field": e.Field,
			"value": e.Value,
		},
	}
}

// PauseChanged is emitted when issuance is paused or resumed.
type PauseChanged struct {
	Paused bool
}

func (PauseChanged) EventType() string { return TypePauseChanged }

func (e PauseChanged) Event() *types.Event {
	return &types.Event{
		Type: TypePauseChanged,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(e.Paused),
		},
	}
}

// OwnerChanged is emitted after ownership of the admin gate transfers.
type OwnerChanged struct {
	Previous [20]byte
	Current  [20]byte
}

func (OwnerChanged) EventType() string { return TypeOwnerChanged }

func (e OwnerChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnerChanged,
		Attributes: map[string]string{
			"previous": formatAddress(e.Previous),
			"current":  formatAddress(e.Current),
		},
	}
}
