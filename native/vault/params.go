package vault

import (
	"fmt"
	"math/big"
)

// Params groups the owner-controlled risk and fee settings governing issuance.
// Ratio and rate fields are expressed in basis points for deterministic
// accounting.
type Params struct {
	// MinCollateralRatioBps is the minimum collateral-value to principal
	// ratio required at issuance and enforced for liquidation eligibility.
	MinCollateralRatioBps uint64 `toml:"MinCollateralRatioBps"`
	// IssuanceFeeBps is deducted from the gross principal at open time.
	IssuanceFeeBps uint64 `toml:"IssuanceFeeBps"`
	// ClosureFeeRateBps is the annualised fee rate accrued on the principal
	// while a loan stays open.
	ClosureFeeRateBps uint64 `toml:"ClosureFeeRateBps"`
	// MaxClosureFeeBps caps the accrued closure fee as a share of principal.
	MaxClosureFeeBps uint64 `toml:"MaxClosureFeeBps"`
	// LiquidationPenaltyBps is the collateral reward granted to liquidators
	// on top of the repaid principal's collateral value.
	LiquidationPenaltyBps uint64 `toml:"LiquidationPenaltyBps"`
	// WaitingPeriodSecs delays loan opening after system activation.
	WaitingPeriodSecs uint64 `toml:"WaitingPeriodSecs"`
	// IssuanceCapWei bounds the outstanding gross principal. Zero disables
	// the cap.
	IssuanceCapWei *big.Int `toml:"IssuanceCapWei"`
	// MinLoanCollateralWei is the smallest collateral amount accepted.
	MinLoanCollateralWei *big.Int `toml:"MinLoanCollateralWei"`
}

// DefaultParams mirrors the production defaults: 150% collateralization, 50bps
// issuance fee, 100bps/year closure fee capped at 250bps, 10% liquidation
// penalty, no waiting period, uncapped issuance, 0.05 ETH floor.
func DefaultParams() Params {
	return Params{
		MinCollateralRatioBps: 15_000,
		IssuanceFeeBps:        50,
		ClosureFeeRateBps:     100,
		MaxClosureFeeBps:      250,
		LiquidationPenaltyBps: 1_000,
		WaitingPeriodSecs:     0,
		IssuanceCapWei:        big.NewInt(0),
		MinLoanCollateralWei:  mustBigInt("50000000000000000"),
	}
}

// EnsureDefaults populates nil big.Int fields so TOML/JSON handling is safe.
func (p *Params) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.IssuanceCapWei == nil {
		p.IssuanceCapWei = big.NewInt(0)
	}
	if p.MinLoanCollateralWei == nil {
		p.MinLoanCollateralWei = big.NewInt(0)
	}
}

// Validate rejects parameter combinations that would let the ledger issue
// undercollateralized or value-destroying loans.
func (p Params) Validate() error {
	if p.MinCollateralRatioBps < basisPointsUint {
		return fmt.Errorf("%w: min collateral ratio %d bps below 100%%", ErrInvalidParams, p.MinCollateralRatioBps)
	}
	if p.IssuanceFeeBps > basisPointsUint {
		return fmt.Errorf("%w: issuance fee %d bps out of range", ErrInvalidParams, p.IssuanceFeeBps)
	}
	if p.MaxClosureFeeBps > basisPointsUint {
		return fmt.Errorf("%w: max closure fee %d bps out of range", ErrInvalidParams, p.MaxClosureFeeBps)
	}
	if p.IssuanceCapWei != nil && p.IssuanceCapWei.Sign() < 0 {
		return fmt.Errorf("%w: issuance cap must not be negative", ErrInvalidParams)
	}
	if p.MinLoanCollateralWei != nil && p.MinLoanCollateralWei.Sign() < 0 {
		return fmt.Errorf("%w: minimum collateral must not be negative", ErrInvalidParams)
	}
	return nil
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.IssuanceCapWei != nil {
		clone.IssuanceCapWei = new(big.Int).Set(p.IssuanceCapWei)
	}
	if p.MinLoanCollateralWei != nil {
		clone.MinLoanCollateralWei = new(big.Int).Set(p.MinLoanCollateralWei)
	}
	return clone
}
