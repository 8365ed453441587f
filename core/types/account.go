package types

import "math/big"

// Account holds the ledger balances for a single identity. BalanceETH is the
// volatile collateral asset and BalanceSynth the pegged synthetic token minted
// against it. Amounts are denominated in wei.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalanceETH   *big.Int `json:"balanceETH"`
	BalanceSynth *big.Int `json:"balanceSynth"`
}

// EnsureBalances populates nil balance fields so JSON round trips stay safe.
func (a *Account) EnsureBalances() {
	if a.BalanceETH == nil {
		a.BalanceETH = big.NewInt(0)
	}
	if a.BalanceSynth == nil {
		a.BalanceSynth = big.NewInt(0)
	}
}
