package vault

import (
	"errors"
	"math/big"
	"testing"

	"synthvault/core/events"
	"synthvault/core/types"
	"synthvault/crypto"
	"synthvault/native/oracle"
	"synthvault/native/registry"
)

type mockVaultState struct {
	loans     map[uint64]*Loan
	borrowers map[string][]uint64
	issuance  *IssuanceState
	params    *Params
	accounts  map[string]*types.Account
}

func newMockVaultState() *mockVaultState {
	return &mockVaultState{
		loans:     make(map[uint64]*Loan),
		borrowers: make(map[string][]uint64),
		accounts:  make(map[string]*types.Account),
	}
}

func (m *mockVaultState) VaultGetLoan(id uint64) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockVaultState) VaultPutLoan(loan *Loan) error {
	stored := loan.Clone()
	if _, known := m.loans[stored.ID]; !known {
		key := stored.Borrower.String()
		m.borrowers[key] = append(m.borrowers[key], stored.ID)
	}
	m.loans[stored.ID] = stored
	return nil
}

func (m *mockVaultState) VaultLoansByBorrower(addr crypto.Address) ([]uint64, error) {
	return append([]uint64(nil), m.borrowers[addr.String()]...), nil
}

func (m *mockVaultState) VaultGetIssuance() (*IssuanceState, bool, error) {
	if m.issuance == nil {
		return nil, false, nil
	}
	return m.issuance.Clone(), true, nil
}

func (m *mockVaultState) VaultPutIssuance(state *IssuanceState) error {
	m.issuance = state.Clone()
	return nil
}

func (m *mockVaultState) VaultGetParams() (*Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	clone := m.params.Clone()
	return &clone, true, nil
}

func (m *mockVaultState) VaultPutParams(params *Params) error {
	clone := params.Clone()
	m.params = &clone
	return nil
}

func (m *mockVaultState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr.String()]
	if !ok {
		empty := &types.Account{}
		empty.EnsureBalances()
		return empty, nil
	}
	clone := &types.Account{Nonce: acc.Nonce}
	if acc.BalanceETH != nil {
		clone.BalanceETH = new(big.Int).Set(acc.BalanceETH)
	}
	if acc.BalanceSynth != nil {
		clone.BalanceSynth = new(big.Int).Set(acc.BalanceSynth)
	}
	clone.EnsureBalances()
	return clone, nil
}

func (m *mockVaultState) PutAccount(addr crypto.Address, account *types.Account) error {
	stored := &types.Account{Nonce: account.Nonce}
	if account.BalanceETH != nil {
		stored.BalanceETH = new(big.Int).Set(account.BalanceETH)
	}
	if account.BalanceSynth != nil {
		stored.BalanceSynth = new(big.Int).Set(account.BalanceSynth)
	}
	stored.EnsureBalances()
	m.accounts[addr.String()] = stored
	return nil
}

type staticRate struct {
	rate *big.Rat
	err  error
}

func (s *staticRate) Rate(base, quote string) (oracle.Quote, error) {
	if s.err != nil {
		return oracle.Quote{}, s.err
	}
	return oracle.Quote{Rate: new(big.Rat).Set(s.rate), Source: "static"}, nil
}

type staticResolver struct {
	feePool crypto.Address
}

func (r staticResolver) Resolve(name string) (crypto.Address, bool) {
	if name == registry.NameFeePool {
		return r.feePool, true
	}
	return crypto.Address{}, false
}

func testAddr(last byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = last
	return crypto.MustNewAddress(crypto.SVPrefix, buf)
}

func wei(eth int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(eth), big.NewInt(1_000_000_000_000_000_000))
}

type vaultHarness struct {
	engine   *Engine
	state    *mockVaultState
	recorder *events.Recorder
	rates    *staticRate
	now      int64

	owner     crypto.Address
	borrower  crypto.Address
	other     crypto.Address
	feePool   crypto.Address
	vaultAddr crypto.Address
}

func newVaultHarness(t *testing.T) *vaultHarness {
	t.Helper()
	h := &vaultHarness{
		state:     newMockVaultState(),
		recorder:  &events.Recorder{},
		rates:     &staticRate{rate: big.NewRat(1, 1)},
		now:       1_700_000_000,
		owner:     testAddr(0x01),
		borrower:  testAddr(0x02),
		other:     testAddr(0x03),
		feePool:   testAddr(0x0f),
		vaultAddr: testAddr(0xff),
	}
	h.engine = NewEngine(h.vaultAddr)
	h.engine.SetState(h.state)
	h.engine.SetResolver(staticResolver{feePool: h.feePool})
	h.engine.SetRateSource(h.rates)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetNowFunc(func() int64 { return h.now })
	if err := h.engine.Activate(h.owner); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return h
}

func (h *vaultHarness) setParams(t *testing.T, params Params) {
	t.Helper()
	params.EnsureDefaults()
	if err := h.state.VaultPutParams(&params); err != nil {
		t.Fatalf("put params: %v", err)
	}
}

func (h *vaultHarness) fundETH(t *testing.T, addr crypto.Address, amount *big.Int) {
	t.Helper()
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acc.BalanceETH = new(big.Int).Add(acc.BalanceETH, amount)
	if err := h.state.PutAccount(addr, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func (h *vaultHarness) fundSynth(t *testing.T, addr crypto.Address, amount *big.Int) {
	t.Helper()
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acc.BalanceSynth = new(big.Int).Add(acc.BalanceSynth, amount)
	if err := h.state.PutAccount(addr, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func (h *vaultHarness) account(t *testing.T, addr crypto.Address) *types.Account {
	t.Helper()
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc
}

func TestActivateIdempotent(t *testing.T) {
	h := newVaultHarness(t)
	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if issuance.NextLoanID != 1 {
		t.Fatalf("next loan id = %d, want 1", issuance.NextLoanID)
	}
	if issuance.ActivatedAt != h.now {
		t.Fatalf("activated at = %d, want %d", issuance.ActivatedAt, h.now)
	}

	h.now += 500
	if err := h.engine.Activate(h.other); err != nil {
		t.Fatalf("second activate: %v", err)
	}
	issuance, err = h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if !issuance.Owner.Equal(h.owner) {
		t.Fatalf("owner changed on repeated activation")
	}
	if issuance.ActivatedAt != h.now-500 {
		t.Fatalf("activation timestamp rewritten")
	}
}

func TestOpenLoanBeforeActivation(t *testing.T) {
	engine := NewEngine(testAddr(0xff))
	engine.SetState(newMockVaultState())
	engine.SetResolver(staticResolver{feePool: testAddr(0x0f)})
	engine.SetRateSource(&staticRate{rate: big.NewRat(1, 1)})
	if _, _, err := engine.OpenLoan(testAddr(0x02), wei(150)); !errors.Is(err, errNotActivated) {
		t.Fatalf("err = %v, want errNotActivated", err)
	}
}

func TestOpenLoanMintsNetPrincipal(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))

	loanID, minted, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if loanID != 1 {
		t.Fatalf("loan id = %d, want 1", loanID)
	}
	// 150 ETH at rate 1 and 150% ratio issues 100 gross; 50bps fee leaves 99.5.
	gross := wei(100)
	fee := bpsShare(gross, 50)
	wantMinted := new(big.Int).Sub(gross, fee)
	if minted.Cmp(wantMinted) != 0 {
		t.Fatalf("minted = %s, want %s", minted, wantMinted)
	}

	borrowerAcc := h.account(t, h.borrower)
	if borrowerAcc.BalanceETH.Sign() != 0 {
		t.Fatalf("borrower ETH = %s, want 0", borrowerAcc.BalanceETH)
	}
	if borrowerAcc.BalanceSynth.Cmp(wantMinted) != 0 {
		t.Fatalf("borrower synth = %s, want %s", borrowerAcc.BalanceSynth, wantMinted)
	}
	if got := h.account(t, h.vaultAddr).BalanceETH; got.Cmp(wei(150)) != 0 {
		t.Fatalf("vault ETH = %s, want %s", got, wei(150))
	}
	if got := h.account(t, h.feePool).BalanceSynth; got.Cmp(fee) != 0 {
		t.Fatalf("fee pool synth = %s, want %s", got, fee)
	}

	loan, err := h.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusOpen {
		t.Fatalf("status = %v, want open", loan.Status)
	}
	if loan.PrincipalWei.Cmp(gross) != 0 {
		t.Fatalf("principal = %s, want %s", loan.PrincipalWei, gross)
	}
	if loan.OpenedAt != h.now {
		t.Fatalf("opened at = %d, want %d", loan.OpenedAt, h.now)
	}

	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if issuance.TotalIssuedWei.Cmp(gross) != 0 {
		t.Fatalf("total issued = %s, want %s", issuance.TotalIssuedWei, gross)
	}
	if issuance.NextLoanID != 2 {
		t.Fatalf("next loan id = %d, want 2", issuance.NextLoanID)
	}

	evts := h.recorder.Events()
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
	if evts[0].EventType() != events.TypeLoanCreated {
		t.Fatalf("event type = %s", evts[0].EventType())
	}

	ids, err := h.engine.LoansByBorrower(h.borrower)
	if err != nil {
		t.Fatalf("loans by borrower: %v", err)
	}
	if len(ids) != 1 || ids[0] != loanID {
		t.Fatalf("loan ids = %v, want [%d]", ids, loanID)
	}
}

func TestOpenLoanBorrowerIsFeePool(t *testing.T) {
	h := newVaultHarness(t)
	// The fee pool resolves to the borrower: the fee credit and the mint must
	// land on the same record instead of overwriting each other.
	h.engine.SetResolver(staticResolver{feePool: h.borrower})
	h.fundETH(t, h.borrower, wei(150))

	_, minted, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	gross := wei(100)
	fee := bpsShare(gross, 50)
	if want := new(big.Int).Sub(gross, fee); minted.Cmp(want) != 0 {
		t.Fatalf("minted = %s, want %s", minted, want)
	}

	acc := h.account(t, h.borrower)
	if acc.BalanceETH.Sign() != 0 {
		t.Fatalf("borrower ETH = %s, want 0", acc.BalanceETH)
	}
	// Minted principal plus the issuance fee both accrue to the shared account.
	if acc.BalanceSynth.Cmp(gross) != 0 {
		t.Fatalf("borrower synth = %s, want %s", acc.BalanceSynth, gross)
	}
	if got := h.account(t, h.vaultAddr).BalanceETH; got.Cmp(wei(150)) != 0 {
		t.Fatalf("vault ETH = %s, want %s", got, wei(150))
	}
}

func TestOpenLoanRejectsWhilePaused(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	if err := h.engine.Pause(h.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); !errors.Is(err, ErrSystemPaused) {
		t.Fatalf("err = %v, want ErrSystemPaused", err)
	}
	if err := h.engine.Unpause(h.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); err != nil {
		t.Fatalf("open after unpause: %v", err)
	}
}

func TestOpenLoanWaitingPeriod(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(300))
	params := DefaultParams()
	params.WaitingPeriodSecs = 3600
	h.setParams(t, params)

	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); !errors.Is(err, ErrWaitingPeriodNotElapsed) {
		t.Fatalf("err = %v, want ErrWaitingPeriodNotElapsed", err)
	}
	h.now += 3600
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); err != nil {
		t.Fatalf("open after waiting period: %v", err)
	}
}

func TestOpenLoanBelowMinimumCollateral(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(1))
	// Default floor is 0.05 ETH.
	tiny := big.NewInt(1_000_000_000_000_000)
	if _, _, err := h.engine.OpenLoan(h.borrower, tiny); !errors.Is(err, ErrBelowMinimumCollateral) {
		t.Fatalf("err = %v, want ErrBelowMinimumCollateral", err)
	}
}

func TestOpenLoanIssuanceCap(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(600))
	params := DefaultParams()
	params.IssuanceCapWei = wei(150)
	h.setParams(t, params)

	// First open issues 100 gross, within the 150 cap.
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); err != nil {
		t.Fatalf("first open: %v", err)
	}
	// A second identical open would project 200 gross and must be rejected.
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); !errors.Is(err, ErrIssuanceCapExceeded) {
		t.Fatalf("err = %v, want ErrIssuanceCapExceeded", err)
	}
	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if issuance.TotalIssuedWei.Cmp(wei(100)) != 0 {
		t.Fatalf("total issued changed by rejected open: %s", issuance.TotalIssuedWei)
	}
	if issuance.NextLoanID != 2 {
		t.Fatalf("next loan id advanced by rejected open: %d", issuance.NextLoanID)
	}
}

func TestOpenLoanInsufficientBalance(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(100))
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); !errors.Is(err, ErrInsufficientCollateralBalance) {
		t.Fatalf("err = %v, want ErrInsufficientCollateralBalance", err)
	}
	if got := h.account(t, h.borrower).BalanceETH; got.Cmp(wei(100)) != 0 {
		t.Fatalf("borrower ETH mutated by rejected open: %s", got)
	}
}

func TestOpenLoanInvalidAmount(t *testing.T) {
	h := newVaultHarness(t)
	if _, _, err := h.engine.OpenLoan(h.borrower, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, _, err := h.engine.OpenLoan(h.borrower, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestOpenLoanOracleUnavailable(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	h.rates.err = oracle.ErrNoFreshQuote
	if _, _, err := h.engine.OpenLoan(h.borrower, wei(150)); !errors.Is(err, errOracleUnavailable) {
		t.Fatalf("err = %v, want errOracleUnavailable", err)
	}
}

func TestCloseLoanRoundTrip(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, minted, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if minted.Cmp(wei(100)) != 0 {
		t.Fatalf("minted = %s, want %s", minted, wei(100))
	}

	// Same clock reading: zero elapsed time accrues no closure fee.
	repaid, err := h.engine.CloseLoan(h.borrower, loanID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if repaid.Cmp(wei(100)) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, wei(100))
	}

	borrowerAcc := h.account(t, h.borrower)
	if borrowerAcc.BalanceETH.Cmp(wei(150)) != 0 {
		t.Fatalf("borrower ETH = %s, want %s", borrowerAcc.BalanceETH, wei(150))
	}
	if borrowerAcc.BalanceSynth.Sign() != 0 {
		t.Fatalf("borrower synth = %s, want 0", borrowerAcc.BalanceSynth)
	}
	if got := h.account(t, h.vaultAddr).BalanceETH; got.Sign() != 0 {
		t.Fatalf("vault ETH = %s, want 0", got)
	}

	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if issuance.TotalIssuedWei.Sign() != 0 {
		t.Fatalf("total issued = %s, want 0", issuance.TotalIssuedWei)
	}

	loan, err := h.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusClosed {
		t.Fatalf("status = %v, want closed", loan.Status)
	}
	if loan.ClosedAt != h.now {
		t.Fatalf("closed at = %d, want %d", loan.ClosedAt, h.now)
	}
}

func TestCloseLoanAccruesFee(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Half a year at 100bps/year accrues 50bps of the 100 ETH principal.
	h.now += secondsPerYear / 2
	wantFee := bpsShare(wei(100), 50)
	h.fundSynth(t, h.borrower, wantFee)

	repaid, err := h.engine.CloseLoan(h.borrower, loanID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	wantRepaid := new(big.Int).Add(wei(100), wantFee)
	if repaid.Cmp(wantRepaid) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, wantRepaid)
	}
	if got := h.account(t, h.feePool).BalanceSynth; got.Cmp(wantFee) != 0 {
		t.Fatalf("fee pool synth = %s, want %s", got, wantFee)
	}
}

func TestCloseLoanFeeCapped(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Ten years of accrual hits the 250bps ceiling.
	h.now += 10 * secondsPerYear
	wantFee := bpsShare(wei(100), 250)
	h.fundSynth(t, h.borrower, wantFee)

	repaid, err := h.engine.CloseLoan(h.borrower, loanID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	wantRepaid := new(big.Int).Add(wei(100), wantFee)
	if repaid.Cmp(wantRepaid) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, wantRepaid)
	}
}

func TestCloseLoanRejections(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := h.engine.CloseLoan(h.borrower, 0); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("id 0: err = %v, want ErrLoanNotFound", err)
	}
	if _, err := h.engine.CloseLoan(h.borrower, 99); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("unknown id: err = %v, want ErrLoanNotFound", err)
	}
	if _, err := h.engine.CloseLoan(h.other, loanID); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("stranger: err = %v, want ErrNotBorrower", err)
	}

	if _, err := h.engine.CloseLoan(h.borrower, loanID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.engine.CloseLoan(h.borrower, loanID); !errors.Is(err, ErrLoanNotOpen) {
		t.Fatalf("second close: err = %v, want ErrLoanNotOpen", err)
	}
	// The borrower check stays ahead of the status check for terminated loans.
	if _, err := h.engine.CloseLoan(h.other, loanID); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("stranger on closed loan: err = %v, want ErrNotBorrower", err)
	}
}

func TestCloseLoanInsufficientSynth(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))

	// The 50bps issuance fee leaves the borrower short of the full principal.
	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.engine.CloseLoan(h.borrower, loanID); !errors.Is(err, ErrInsufficientRepaymentBalance) {
		t.Fatalf("err = %v, want ErrInsufficientRepaymentBalance", err)
	}

	loan, err := h.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusOpen {
		t.Fatalf("rejected close mutated status: %v", loan.Status)
	}

	h.fundSynth(t, h.borrower, bpsShare(wei(100), 50))
	if _, err := h.engine.CloseLoan(h.borrower, loanID); err != nil {
		t.Fatalf("close after topping up: %v", err)
	}
}

func TestCloseLoanBorrowerIsFeePool(t *testing.T) {
	h := newVaultHarness(t)
	h.engine.SetResolver(staticResolver{feePool: h.borrower})
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Half a year of accrual; the shared account already holds the full gross
	// principal, so only the closure fee needs topping up.
	h.now += secondsPerYear / 2
	closureFee := bpsShare(wei(100), 50)
	h.fundSynth(t, h.borrower, closureFee)

	repaid, err := h.engine.CloseLoan(h.borrower, loanID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if want := new(big.Int).Add(wei(100), closureFee); repaid.Cmp(want) != 0 {
		t.Fatalf("repaid = %s, want %s", repaid, want)
	}

	// The burn and the fee credit hit the same record: only the principal
	// leaves, the fee income stays.
	acc := h.account(t, h.borrower)
	if acc.BalanceETH.Cmp(wei(150)) != 0 {
		t.Fatalf("borrower ETH = %s, want %s", acc.BalanceETH, wei(150))
	}
	if acc.BalanceSynth.Cmp(closureFee) != 0 {
		t.Fatalf("borrower synth = %s, want %s", acc.BalanceSynth, closureFee)
	}
	if got := h.account(t, h.vaultAddr).BalanceETH; got.Sign() != 0 {
		t.Fatalf("vault ETH = %s, want 0", got)
	}

	loan, err := h.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusClosed {
		t.Fatalf("status = %v, want closed", loan.Status)
	}
}

func TestLiquidateSolventLoanRejected(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.fundSynth(t, h.other, wei(100))

	// Exactly at the minimum ratio the position is still solvent.
	if _, err := h.engine.LiquidateLoan(h.other, loanID); !errors.Is(err, ErrNotUndercollateralized) {
		t.Fatalf("err = %v, want ErrNotUndercollateralized", err)
	}
}

func TestLiquidateSeizesAndRefunds(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.fundSynth(t, h.other, wei(100))

	// Rate falls 10%: the 150 ETH collateral is now worth 135 synth against a
	// 100 principal, below the 150% requirement.
	h.rates.rate = big.NewRat(9, 10)

	seized, err := h.engine.LiquidateLoan(h.other, loanID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	base := ratDivFloor(wei(100), big.NewRat(9, 10))
	wantSeized := new(big.Int).Add(base, bpsShare(base, 1_000))
	if seized.Cmp(wantSeized) != 0 {
		t.Fatalf("seized = %s, want %s", seized, wantSeized)
	}
	wantRefund := new(big.Int).Sub(wei(150), wantSeized)

	otherAcc := h.account(t, h.other)
	if otherAcc.BalanceSynth.Sign() != 0 {
		t.Fatalf("liquidator synth = %s, want 0", otherAcc.BalanceSynth)
	}
	if otherAcc.BalanceETH.Cmp(wantSeized) != 0 {
		t.Fatalf("liquidator ETH = %s, want %s", otherAcc.BalanceETH, wantSeized)
	}
	if got := h.account(t, h.borrower).BalanceETH; got.Cmp(wantRefund) != 0 {
		t.Fatalf("borrower refund = %s, want %s", got, wantRefund)
	}
	if got := h.account(t, h.vaultAddr).BalanceETH; got.Sign() != 0 {
		t.Fatalf("vault ETH = %s, want 0", got)
	}

	loan, err := h.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusLiquidated {
		t.Fatalf("status = %v, want liquidated", loan.Status)
	}

	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if issuance.TotalIssuedWei.Sign() != 0 {
		t.Fatalf("total issued = %s, want 0", issuance.TotalIssuedWei)
	}
}

func TestLiquidateSeizureClampedToCollateral(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.fundSynth(t, h.other, wei(100))

	// Rate halves: repaying 100 principal is worth 200 ETH, more than locked.
	h.rates.rate = big.NewRat(1, 2)

	seized, err := h.engine.LiquidateLoan(h.other, loanID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(wei(150)) != 0 {
		t.Fatalf("seized = %s, want full collateral %s", seized, wei(150))
	}
	if got := h.account(t, h.borrower).BalanceETH; got.Sign() != 0 {
		t.Fatalf("borrower refund = %s, want 0", got)
	}
}

func TestLiquidateOwnLoan(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.rates.rate = big.NewRat(9, 10)

	if _, err := h.engine.LiquidateLoan(h.borrower, loanID); err != nil {
		t.Fatalf("self liquidate: %v", err)
	}
	// Self-liquidation burns the principal and returns the whole collateral.
	acc := h.account(t, h.borrower)
	if acc.BalanceETH.Cmp(wei(150)) != 0 {
		t.Fatalf("borrower ETH = %s, want %s", acc.BalanceETH, wei(150))
	}
	if acc.BalanceSynth.Sign() != 0 {
		t.Fatalf("borrower synth = %s, want 0", acc.BalanceSynth)
	}
}

func TestLiquidateRequiresSynthBalance(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(150))
	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.rates.rate = big.NewRat(1, 2)
	if _, err := h.engine.LiquidateLoan(h.other, loanID); !errors.Is(err, ErrInsufficientRepaymentBalance) {
		t.Fatalf("err = %v, want ErrInsufficientRepaymentBalance", err)
	}
}

func TestLiquidateTerminatedLoan(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.IssuanceFeeBps = 0
	h.setParams(t, params)
	h.fundETH(t, h.borrower, wei(150))

	loanID, _, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := h.engine.CloseLoan(h.borrower, loanID); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.rates.rate = big.NewRat(1, 2)
	if _, err := h.engine.LiquidateLoan(h.other, loanID); !errors.Is(err, ErrLoanNotOpen) {
		t.Fatalf("err = %v, want ErrLoanNotOpen", err)
	}
}

func TestPauseOwnerGate(t *testing.T) {
	h := newVaultHarness(t)
	if err := h.engine.Pause(h.other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if err := h.engine.Pause(h.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	issuance, err := h.engine.Issuance()
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if !issuance.Paused {
		t.Fatalf("paused flag not set")
	}
	// Repeated pause is a no-op and emits nothing further.
	h.recorder.Reset()
	if err := h.engine.Pause(h.owner); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("no-op pause emitted events")
	}
}

func TestSetOwner(t *testing.T) {
	h := newVaultHarness(t)
	if err := h.engine.SetOwner(h.other, h.other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if err := h.engine.SetOwner(h.owner, crypto.Address{}); err == nil {
		t.Fatalf("zero owner accepted")
	}
	if err := h.engine.SetOwner(h.owner, h.other); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, err := h.engine.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if !owner.Equal(h.other) {
		t.Fatalf("owner = %s, want %s", owner, h.other)
	}
	// The previous owner loses the gate immediately.
	if err := h.engine.Pause(h.owner); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if err := h.engine.Pause(h.other); err != nil {
		t.Fatalf("pause by new owner: %v", err)
	}
}

func TestUpdateParamsValidation(t *testing.T) {
	h := newVaultHarness(t)
	params := DefaultParams()
	params.MinCollateralRatioBps = 5_000
	if err := h.engine.UpdateParams(h.owner, params); err == nil {
		t.Fatalf("ratio below 100%% accepted")
	}
	if err := h.engine.SetMinCollateralRatio(h.owner, 5_000); err == nil {
		t.Fatalf("ratio below 100%% accepted via setter")
	}
	if err := h.engine.SetMinCollateralRatio(h.other, 20_000); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}

	h.recorder.Reset()
	if err := h.engine.SetMinCollateralRatio(h.owner, 20_000); err != nil {
		t.Fatalf("set ratio: %v", err)
	}
	snapshot, err := h.engine.ParamsSnapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.MinCollateralRatioBps != 20_000 {
		t.Fatalf("ratio = %d, want 20000", snapshot.MinCollateralRatioBps)
	}
	evts := h.recorder.Events()
	if len(evts) != 1 || evts[0].EventType() != events.TypeParamsUpdated {
		t.Fatalf("expected a single params event, got %v", evts)
	}
}

func TestParamChangeAffectsNextOpen(t *testing.T) {
	h := newVaultHarness(t)
	h.fundETH(t, h.borrower, wei(300))
	if err := h.engine.SetIssuanceFee(h.owner, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	_, minted, err := h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if minted.Cmp(wei(100)) != 0 {
		t.Fatalf("minted = %s, want %s", minted, wei(100))
	}

	// Doubling the ratio halves the principal on the next open only.
	if err := h.engine.SetMinCollateralRatio(h.owner, 30_000); err != nil {
		t.Fatalf("set ratio: %v", err)
	}
	_, minted, err = h.engine.OpenLoan(h.borrower, wei(150))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if minted.Cmp(wei(50)) != 0 {
		t.Fatalf("minted = %s, want %s", minted, wei(50))
	}
}
