package vault

import "math/big"

// IssuanceFee returns the flat-rate fee deducted from the gross principal at
// open time. The fee is not minted to the borrower; it accrues to the fee pool.
func IssuanceFee(grossPrincipalWei *big.Int, feeBps uint64) *big.Int {
	return bpsShare(grossPrincipalWei, feeBps)
}

// ClosureFee accrues linearly on the principal with elapsed time and is capped
// at maxBps of the principal. The figure depends only on the recorded open
// time and the supplied clock reading, so repeated queries within one
// transaction yield the same value.
func ClosureFee(principalWei *big.Int, rateBps, maxBps uint64, elapsedSecs int64) *big.Int {
	if principalWei == nil || principalWei.Sign() <= 0 || rateBps == 0 || elapsedSecs <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(principalWei, new(big.Int).SetUint64(rateBps))
	fee.Mul(fee, big.NewInt(elapsedSecs))
	fee.Quo(fee, basisPoints)
	fee.Quo(fee, big.NewInt(secondsPerYear))
	if maxBps > 0 {
		cap := bpsShare(principalWei, maxBps)
		if fee.Cmp(cap) > 0 {
			return cap
		}
	}
	return fee
}
