package vault

import "math/big"

// The ratio guard is stateless: every function is a pure, deterministic
// computation over its arguments so admission-time and liquidation-time checks
// of the same position can never diverge.

// CollateralValue prices a collateral amount in synth units at the given
// exchange rate, rounding down.
func CollateralValue(collateralWei *big.Int, rate *big.Rat) *big.Int {
	return ratMulFloor(collateralWei, rate)
}

// GrossPrincipal computes the synthetic principal issuable against the
// collateral at the minimum ratio: collateralValue * 10000 / ratioBps.
func GrossPrincipal(collateralWei *big.Int, rate *big.Rat, minRatioBps uint64) *big.Int {
	if minRatioBps == 0 {
		return big.NewInt(0)
	}
	value := CollateralValue(collateralWei, rate)
	if value.Sign() <= 0 {
		return big.NewInt(0)
	}
	principal := new(big.Int).Mul(value, basisPoints)
	return principal.Quo(principal, new(big.Int).SetUint64(minRatioBps))
}

// Solvent reports whether the position satisfies
// collateralValue * 10000 >= principal * minRatioBps. A loan exactly at the
// minimum ratio is solvent; liquidation requires the strict inverse.
func Solvent(collateralWei, principalWei *big.Int, rate *big.Rat, minRatioBps uint64) bool {
	if principalWei == nil || principalWei.Sign() == 0 {
		return true
	}
	if collateralWei == nil || collateralWei.Sign() == 0 {
		return false
	}
	value := CollateralValue(collateralWei, rate)
	lhs := new(big.Int).Mul(value, basisPoints)
	rhs := new(big.Int).Mul(principalWei, new(big.Int).SetUint64(minRatioBps))
	return lhs.Cmp(rhs) >= 0
}

// Admit decides whether issuing proposedWei more principal keeps the
// outstanding total within the issuance cap. A zero cap disables the limit.
func Admit(issuanceCapWei, totalIssuedWei, proposedWei *big.Int) bool {
	if issuanceCapWei == nil || issuanceCapWei.Sign() == 0 {
		return true
	}
	projected := new(big.Int).Add(cloneBigInt(totalIssuedWei), cloneBigInt(proposedWei))
	return projected.Cmp(issuanceCapWei) <= 0
}
