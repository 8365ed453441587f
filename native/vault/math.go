package vault

import "math/big"

const basisPointsUint = 10_000

var basisPoints = big.NewInt(basisPointsUint)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// ratMulFloor computes floor(amount * rate) over wei amounts. Both the
// admission-time and liquidation-time valuations flow through this helper so a
// position is never judged by two different roundings of the same figure.
func ratMulFloor(amount *big.Int, rate *big.Rat) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(amount), rate)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// ratDivFloor computes floor(amount / rate).
func ratDivFloor(amount *big.Int, rate *big.Rat) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rate == nil || rate.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Quo(new(big.Rat).SetInt(amount), rate)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}
