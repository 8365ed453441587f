package vault

import (
	"fmt"
	"math/big"
	"time"

	"synthvault/core/events"
	"synthvault/core/types"
	"synthvault/crypto"
	nativecommon "synthvault/native/common"
	"synthvault/native/oracle"
	"synthvault/native/registry"
)

const moduleName = "vault"

// Symbols priced through the oracle. The rate is expressed as synth units per
// collateral unit.
const (
	collateralSymbol = "ETH"
	synthSymbol      = "SETH"
)

type engineState interface {
	VaultGetLoan(id uint64) (*Loan, bool, error)
	VaultPutLoan(loan *Loan) error
	VaultLoansByBorrower(addr crypto.Address) ([]uint64, error)
	VaultGetIssuance() (*IssuanceState, bool, error)
	VaultPutIssuance(state *IssuanceState) error
	VaultGetParams() (*Params, bool, error)
	VaultPutParams(params *Params) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine orchestrates the loan ledger: it owns the open/close/liquidate
// transitions, consults the ratio guard and fee helpers, and emits domain
// events. All calls execute serially under the host's single-writer model;
// each one stages its writes after every precondition has been checked so a
// failed call leaves no partial state behind.
type Engine struct {
	state        engineState
	vaultAddress crypto.Address
	resolver     registry.View
	rates        oracle.RateSource
	emitter      events.Emitter
	nowFn        func() int64
	pauses       nativecommon.PauseView
}

// NewEngine constructs a vault engine with the collateral custody address. The
// emitter defaults to a no-op implementation.
func NewEngine(vaultAddr crypto.Address) *Engine {
	return &Engine{
		vaultAddress: vaultAddr,
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetResolver wires the address-resolution registry. Dependencies are looked
// up through it on every call, never cached.
func (e *Engine) SetResolver(resolver registry.View) {
	if e == nil {
		return
	}
	e.resolver = resolver
}

// SetRateSource configures the price oracle consulted for valuations.
func (e *Engine) SetRateSource(source oracle.RateSource) {
	if e == nil {
		return
	}
	e.rates = source
}

// SetPauses wires the module-level pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Activate initialises the issuance singleton with the supplied owner. The
// waiting period is measured from this moment. Activation is idempotent; a
// second call leaves the existing state untouched.
func (e *Engine) Activate(owner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok, err := e.state.VaultGetIssuance(); err != nil {
		return err
	} else if ok {
		return nil
	}
	issuance := &IssuanceState{
		TotalIssuedWei: big.NewInt(0),
		NextLoanID:     1,
		ActivatedAt:    e.now(),
		Owner:          owner,
	}
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return err
	}
	if _, ok, err := e.state.VaultGetParams(); err != nil {
		return err
	} else if !ok {
		params := DefaultParams()
		if err := e.state.VaultPutParams(&params); err != nil {
			return err
		}
	}
	return nil
}

// OpenLoan locks the borrower's collateral in the vault and mints the net
// synthetic principal. It returns the assigned loan id and the minted amount.
func (e *Engine) OpenLoan(borrower crypto.Address, collateralWei *big.Int) (uint64, *big.Int, error) {
	if e == nil || e.state == nil {
		return 0, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, nil, err
	}
	if collateralWei == nil || collateralWei.Sign() <= 0 {
		return 0, nil, ErrInvalidAmount
	}

	issuance, err := e.ensureIssuance()
	if err != nil {
		return 0, nil, err
	}
	if issuance.Paused {
		return 0, nil, ErrSystemPaused
	}
	params, err := e.ensureParams()
	if err != nil {
		return 0, nil, err
	}
	now := e.now()
	if params.WaitingPeriodSecs > 0 && now < issuance.ActivatedAt+int64(params.WaitingPeriodSecs) {
		return 0, nil, ErrWaitingPeriodNotElapsed
	}
	if params.MinLoanCollateralWei != nil && collateralWei.Cmp(params.MinLoanCollateralWei) < 0 {
		return 0, nil, ErrBelowMinimumCollateral
	}

	rate, err := e.currentRate()
	if err != nil {
		return 0, nil, err
	}

	gross := GrossPrincipal(collateralWei, rate, params.MinCollateralRatioBps)
	if gross.Sign() <= 0 {
		return 0, nil, ErrBelowMinimumCollateral
	}
	if !Admit(params.IssuanceCapWei, issuance.TotalIssuedWei, gross) {
		return 0, nil, ErrIssuanceCapExceeded
	}
	fee := IssuanceFee(gross, params.IssuanceFeeBps)
	minted := new(big.Int).Sub(gross, fee)

	feePool, err := e.feePoolAddress()
	if err != nil {
		return 0, nil, err
	}

	accounts := e.stageAccounts()
	borrowerAcc, err := accounts.get(borrower)
	if err != nil {
		return 0, nil, err
	}
	if borrowerAcc.BalanceETH.Cmp(collateralWei) < 0 {
		return 0, nil, ErrInsufficientCollateralBalance
	}
	vaultAcc, err := accounts.get(e.vaultAddress)
	if err != nil {
		return 0, nil, err
	}
	feeAcc, err := accounts.get(feePool)
	if err != nil {
		return 0, nil, err
	}

	// All preconditions hold; stage the transition.
	borrowerAcc.BalanceETH = new(big.Int).Sub(borrowerAcc.BalanceETH, collateralWei)
	vaultAcc.BalanceETH = new(big.Int).Add(vaultAcc.BalanceETH, collateralWei)
	borrowerAcc.BalanceSynth = new(big.Int).Add(borrowerAcc.BalanceSynth, minted)
	feeAcc.BalanceSynth = new(big.Int).Add(feeAcc.BalanceSynth, fee)

	loan := &Loan{
		ID:            issuance.NextLoanID,
		Borrower:      borrower,
		CollateralWei: new(big.Int).Set(collateralWei),
		PrincipalWei:  gross,
		OpenedAt:      now,
		Status:        LoanStatusOpen,
	}
	issuance.NextLoanID++
	issuance.TotalIssuedWei = new(big.Int).Add(issuance.TotalIssuedWei, gross)

	if err := accounts.persist(); err != nil {
		return 0, nil, err
	}
	if err := e.state.VaultPutLoan(loan); err != nil {
		return 0, nil, err
	}
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return 0, nil, err
	}

	e.emit(events.LoanCreated{
		LoanID:        loan.ID,
		Borrower:      rawAddress(borrower),
		CollateralWei: new(big.Int).Set(loan.CollateralWei),
		PrincipalWei:  new(big.Int).Set(loan.PrincipalWei),
		MintedWei:     new(big.Int).Set(minted),
	})
	return loan.ID, minted, nil
}

// CloseLoan burns the owed principal plus accrued closure fee from the caller
// and releases the full collateral. Only the borrower may close. The repaid
// synth amount is returned.
func (e *Engine) CloseLoan(caller crypto.Address, loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Borrower.Equal(caller) {
		return nil, ErrNotBorrower
	}
	if loan.Status != LoanStatusOpen {
		return nil, ErrLoanNotOpen
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	issuance, err := e.ensureIssuance()
	if err != nil {
		return nil, err
	}

	now := e.now()
	fee := ClosureFee(loan.PrincipalWei, params.ClosureFeeRateBps, params.MaxClosureFeeBps, now-loan.OpenedAt)
	owed := new(big.Int).Add(loan.PrincipalWei, fee)

	feePool, err := e.feePoolAddress()
	if err != nil {
		return nil, err
	}
	accounts := e.stageAccounts()
	callerAcc, err := accounts.get(caller)
	if err != nil {
		return nil, err
	}
	if callerAcc.BalanceSynth.Cmp(owed) < 0 {
		return nil, ErrInsufficientRepaymentBalance
	}
	vaultAcc, err := accounts.get(e.vaultAddress)
	if err != nil {
		return nil, err
	}
	feeAcc, err := accounts.get(feePool)
	if err != nil {
		return nil, err
	}

	// Principal is burned, the fee portion accrues to the fee pool, and the
	// full collateral returns to the borrower in one transition.
	callerAcc.BalanceSynth = new(big.Int).Sub(callerAcc.BalanceSynth, owed)
	feeAcc.BalanceSynth = new(big.Int).Add(feeAcc.BalanceSynth, fee)
	vaultAcc.BalanceETH = new(big.Int).Sub(vaultAcc.BalanceETH, loan.CollateralWei)
	callerAcc.BalanceETH = new(big.Int).Add(callerAcc.BalanceETH, loan.CollateralWei)

	loan.Status = LoanStatusClosed
	loan.ClosedAt = now
	issuance.TotalIssuedWei = new(big.Int).Sub(issuance.TotalIssuedWei, loan.PrincipalWei)

	if err := accounts.persist(); err != nil {
		return nil, err
	}
	if err := e.state.VaultPutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return nil, err
	}

	e.emit(events.LoanClosed{
		LoanID:     loan.ID,
		Borrower:   rawAddress(loan.Borrower),
		RepaidWei:  owed,
		FeeWei:     fee,
		ReturnsWei: new(big.Int).Set(loan.CollateralWei),
	})
	return owed, nil
}

// LiquidateLoan force-closes an under-collateralized loan. Any caller may
// trigger it: the liquidator burns the loan principal and receives its
// collateral value plus the configured penalty, clamped to the locked
// collateral; the borrower keeps any remainder. The seized collateral amount
// is returned.
func (e *Engine) LiquidateLoan(caller crypto.Address, loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanStatusOpen {
		return nil, ErrLoanNotOpen
	}
	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}
	issuance, err := e.ensureIssuance()
	if err != nil {
		return nil, err
	}

	rate, err := e.currentRate()
	if err != nil {
		return nil, err
	}
	if Solvent(loan.CollateralWei, loan.PrincipalWei, rate, params.MinCollateralRatioBps) {
		return nil, ErrNotUndercollateralized
	}

	accounts := e.stageAccounts()
	callerAcc, err := accounts.get(caller)
	if err != nil {
		return nil, err
	}
	if callerAcc.BalanceSynth.Cmp(loan.PrincipalWei) < 0 {
		return nil, ErrInsufficientRepaymentBalance
	}

	// Collateral equivalent of the repaid principal plus the penalty reward,
	// clamped so the borrower's remainder never goes negative.
	seized := ratDivFloor(loan.PrincipalWei, rate)
	seized = new(big.Int).Add(seized, bpsShare(seized, params.LiquidationPenaltyBps))
	if seized.Cmp(loan.CollateralWei) > 0 {
		seized = new(big.Int).Set(loan.CollateralWei)
	}
	refund := new(big.Int).Sub(loan.CollateralWei, seized)

	vaultAcc, err := accounts.get(e.vaultAddress)
	if err != nil {
		return nil, err
	}
	borrowerAcc, err := accounts.get(loan.Borrower)
	if err != nil {
		return nil, err
	}

	// When the borrower liquidates their own loan the caller and borrower
	// share one staged record, so seizure plus refund lands as the full
	// collateral on that single account.
	callerAcc.BalanceSynth = new(big.Int).Sub(callerAcc.BalanceSynth, loan.PrincipalWei)
	vaultAcc.BalanceETH = new(big.Int).Sub(vaultAcc.BalanceETH, loan.CollateralWei)
	callerAcc.BalanceETH = new(big.Int).Add(callerAcc.BalanceETH, seized)
	borrowerAcc.BalanceETH = new(big.Int).Add(borrowerAcc.BalanceETH, refund)

	now := e.now()
	loan.Status = LoanStatusLiquidated
	loan.ClosedAt = now
	issuance.TotalIssuedWei = new(big.Int).Sub(issuance.TotalIssuedWei, loan.PrincipalWei)

	if err := accounts.persist(); err != nil {
		return nil, err
	}
	if err := e.state.VaultPutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return nil, err
	}

	e.emit(events.LoanLiquidated{
		LoanID:     loan.ID,
		Borrower:   rawAddress(loan.Borrower),
		Liquidator: rawAddress(caller),
		SeizedWei:  seized,
		RefundWei:  refund,
	})
	return seized, nil
}

// GetLoan returns a copy of the loan record.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// LoansByBorrower lists the loan ids ever opened by the borrower, including
// terminated loans retained for audit.
func (e *Engine) LoansByBorrower(borrower crypto.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.VaultLoansByBorrower(borrower)
}

// Issuance returns a copy of the issuance singleton.
func (e *Engine) Issuance() (*IssuanceState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	issuance, err := e.ensureIssuance()
	if err != nil {
		return nil, err
	}
	return issuance.Clone(), nil
}

// ParamsSnapshot returns a copy of the active parameters.
func (e *Engine) ParamsSnapshot() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params, err := e.ensureParams()
	if err != nil {
		return Params{}, err
	}
	return params.Clone(), nil
}

// Owner returns the current admin-gate identity.
func (e *Engine) Owner() (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	issuance, err := e.ensureIssuance()
	if err != nil {
		return crypto.Address{}, err
	}
	return issuance.Owner, nil
}

// --- Admin gate ---

func (e *Engine) requireOwner(caller crypto.Address) (*IssuanceState, error) {
	issuance, err := e.ensureIssuance()
	if err != nil {
		return nil, err
	}
	if !issuance.Owner.Equal(caller) {
		return nil, ErrNotOwner
	}
	return issuance, nil
}

// Pause blocks new loan openings. Owner-gated.
func (e *Engine) Pause(caller crypto.Address) error {
	return e.setPaused(caller, true)
}

// Unpause resumes loan openings. Owner-gated.
func (e *Engine) Unpause(caller crypto.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller crypto.Address, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	issuance, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if issuance.Paused == paused {
		return nil
	}
	issuance.Paused = paused
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return err
	}
	e.emit(events.PauseChanged{Paused: paused})
	return nil
}

// SetOwner transfers the admin gate to a new identity. Single-step; only the
// current owner may initiate it.
func (e *Engine) SetOwner(caller, newOwner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if newOwner.IsZero() {
		return fmt.Errorf("vault engine: new owner must not be zero")
	}
	issuance, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	previous := issuance.Owner
	issuance.Owner = newOwner
	if err := e.state.VaultPutIssuance(issuance); err != nil {
		return err
	}
	e.emit(events.OwnerChanged{Previous: rawAddress(previous), Current: rawAddress(newOwner)})
	return nil
}

// UpdateParams replaces the full parameter set. Owner-gated and validated.
func (e *Engine) UpdateParams(caller crypto.Address, params Params) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	params.EnsureDefaults()
	if err := params.Validate(); err != nil {
		return err
	}
	stored := params.Clone()
	if err := e.state.VaultPutParams(&stored); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Field: "all", Value: "replaced"})
	return nil
}

// SetMinCollateralRatio updates the solvency threshold. Owner-gated.
func (e *Engine) SetMinCollateralRatio(caller crypto.Address, bps uint64) error {
	return e.mutateParams(caller, "minCollateralRatioBps", fmt.Sprintf("%d", bps), func(p *Params) {
		p.MinCollateralRatioBps = bps
	})
}

// SetIssuanceFee updates the flat issuance fee rate. Owner-gated.
func (e *Engine) SetIssuanceFee(caller crypto.Address, bps uint64) error {
	return e.mutateParams(caller, "issuanceFeeBps", fmt.Sprintf("%d", bps), func(p *Params) {
		p.IssuanceFeeBps = bps
	})
}

// SetIssuanceCap updates the global principal ceiling. Owner-gated.
func (e *Engine) SetIssuanceCap(caller crypto.Address, capWei *big.Int) error {
	return e.mutateParams(caller, "issuanceCapWei", cloneBigInt(capWei).String(), func(p *Params) {
		p.IssuanceCapWei = cloneBigInt(capWei)
	})
}

// SetWaitingPeriod updates the post-activation delay. Owner-gated.
func (e *Engine) SetWaitingPeriod(caller crypto.Address, secs uint64) error {
	return e.mutateParams(caller, "waitingPeriodSecs", fmt.Sprintf("%d", secs), func(p *Params) {
		p.WaitingPeriodSecs = secs
	})
}

// SetLiquidationPenalty updates the liquidator reward share. Owner-gated.
func (e *Engine) SetLiquidationPenalty(caller crypto.Address, bps uint64) error {
	return e.mutateParams(caller, "liquidationPenaltyBps", fmt.Sprintf("%d", bps), func(p *Params) {
		p.LiquidationPenaltyBps = bps
	})
}

// SetMinLoanCollateral updates the collateral floor. Owner-gated.
func (e *Engine) SetMinLoanCollateral(caller crypto.Address, wei *big.Int) error {
	return e.mutateParams(caller, "minLoanCollateralWei", cloneBigInt(wei).String(), func(p *Params) {
		p.MinLoanCollateralWei = cloneBigInt(wei)
	})
}

func (e *Engine) mutateParams(caller crypto.Address, field, value string, mutate func(*Params)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	updated := params.Clone()
	mutate(&updated)
	updated.EnsureDefaults()
	if err := updated.Validate(); err != nil {
		return err
	}
	if err := e.state.VaultPutParams(&updated); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Field: field, Value: value})
	return nil
}

// --- Internal helpers ---

func (e *Engine) ensureIssuance() (*IssuanceState, error) {
	issuance, ok, err := e.state.VaultGetIssuance()
	if err != nil {
		return nil, err
	}
	if !ok || issuance == nil {
		return nil, errNotActivated
	}
	issuance.EnsureDefaults()
	return issuance, nil
}

func (e *Engine) ensureParams() (Params, error) {
	params, ok, err := e.state.VaultGetParams()
	if err != nil {
		return Params{}, err
	}
	if !ok || params == nil {
		defaults := DefaultParams()
		return defaults, nil
	}
	params.EnsureDefaults()
	return params.Clone(), nil
}

func (e *Engine) loadLoan(id uint64) (*Loan, error) {
	if id == 0 {
		return nil, ErrLoanNotFound
	}
	loan, ok, err := e.state.VaultGetLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	loan.EnsureDefaults()
	return loan, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureBalances()
	return acc, nil
}

func (e *Engine) persistAccount(addr crypto.Address, acc *types.Account) error {
	return e.state.PutAccount(addr, acc)
}

// stagedAccounts holds the account records touched by a single transition,
// keyed by address. One identity playing several roles (a borrower who is also
// the fee pool, a self-liquidating borrower) resolves to one staged record, so
// later mutations never overwrite earlier ones. Nothing reaches the state
// until persist.
type stagedAccounts struct {
	engine *Engine
	order  []crypto.Address
	byAddr map[string]*types.Account
}

func (e *Engine) stageAccounts() *stagedAccounts {
	return &stagedAccounts{engine: e, byAddr: make(map[string]*types.Account)}
}

func (s *stagedAccounts) get(addr crypto.Address) (*types.Account, error) {
	key := addr.String()
	if acc, ok := s.byAddr[key]; ok {
		return acc, nil
	}
	acc, err := s.engine.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	s.byAddr[key] = acc
	s.order = append(s.order, addr)
	return acc, nil
}

func (s *stagedAccounts) persist() error {
	for _, addr := range s.order {
		if err := s.engine.persistAccount(addr, s.byAddr[addr.String()]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) currentRate() (*big.Rat, error) {
	if e.rates == nil {
		return nil, errOracleUnavailable
	}
	quote, err := e.rates.Rate(collateralSymbol, synthSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errOracleUnavailable, err)
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, errOracleUnavailable
	}
	return quote.Rate, nil
}

func (e *Engine) feePoolAddress() (crypto.Address, error) {
	if e.resolver == nil {
		return crypto.Address{}, errFeePoolUnresolved
	}
	addr, ok := e.resolver.Resolve(registry.NameFeePool)
	if !ok || addr.IsZero() {
		return crypto.Address{}, errFeePoolUnresolved
	}
	return addr, nil
}

func rawAddress(addr crypto.Address) [20]byte {
	var raw [20]byte
	copy(raw[:], addr.Bytes())
	return raw
}
