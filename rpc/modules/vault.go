package modules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"synthvault/crypto"
	"synthvault/native/registry"
	"synthvault/native/vault"
	"synthvault/observability"
)

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
	codeUnauthorized  = -32001
	codeNotFound      = -32004
)

// VaultModule adapts the loan engine to the JSON-RPC surface. Each call runs
// one engine transition and derives a deterministic receipt hash from its
// observable outputs.
type VaultModule struct {
	engine   *vault.Engine
	resolver *registry.Registry
	metrics  *observability.VaultMetrics
}

// NewVaultModule wires the module to the engine and resolution registry.
func NewVaultModule(engine *vault.Engine, resolver *registry.Registry) *VaultModule {
	return &VaultModule{engine: engine, resolver: resolver, metrics: observability.Vault()}
}

func (m *VaultModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not available"}
}

func (m *VaultModule) observe(method string, start time.Time, moduleErr *ModuleError) {
	outcome := "ok"
	if moduleErr != nil {
		outcome = "error"
	}
	m.metrics.Observe(method, outcome, time.Since(start))
}

// OpenLoanResult carries the receipt of a successful open.
type OpenLoanResult struct {
	TxHash    string `json:"txHash"`
	LoanID    uint64 `json:"loanId"`
	MintedWei string `json:"mintedWei"`
}

// OpenLoan locks collateral for the borrower and mints synth.
func (m *VaultModule) OpenLoan(borrower crypto.Address, collateralWei *big.Int) (*OpenLoanResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	start := time.Now()
	loanID, minted, err := m.engine.OpenLoan(borrower, collateralWei)
	moduleErr := m.wrapError(err)
	m.observe("openLoan", start, moduleErr)
	if moduleErr != nil {
		return nil, moduleErr
	}
	return &OpenLoanResult{
		TxHash:    makeTxHash("open", fmt.Sprintf("%s:%d", borrower.String(), loanID), collateralWei, minted),
		LoanID:    loanID,
		MintedWei: minted.String(),
	}, nil
}

// CloseLoanResult carries the receipt of a successful close.
type CloseLoanResult struct {
	TxHash    string `json:"txHash"`
	RepaidWei string `json:"repaidWei"`
}

// CloseLoan repays the loan and releases the collateral to the borrower.
func (m *VaultModule) CloseLoan(caller crypto.Address, loanID uint64) (*CloseLoanResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	start := time.Now()
	repaid, err := m.engine.CloseLoan(caller, loanID)
	moduleErr := m.wrapError(err)
	m.observe("closeLoan", start, moduleErr)
	if moduleErr != nil {
		return nil, moduleErr
	}
	return &CloseLoanResult{
		TxHash:    makeTxHash("close", fmt.Sprintf("%s:%d", caller.String(), loanID), repaid),
		RepaidWei: repaid.String(),
	}, nil
}

// LiquidateLoanResult carries the receipt of a successful liquidation.
type LiquidateLoanResult struct {
	TxHash    string `json:"txHash"`
	SeizedWei string `json:"seizedWei"`
}

// LiquidateLoan force-closes an under-collateralized loan.
func (m *VaultModule) LiquidateLoan(caller crypto.Address, loanID uint64) (*LiquidateLoanResult, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	start := time.Now()
	seized, err := m.engine.LiquidateLoan(caller, loanID)
	moduleErr := m.wrapError(err)
	m.observe("liquidateLoan", start, moduleErr)
	if moduleErr != nil {
		return nil, moduleErr
	}
	return &LiquidateLoanResult{
		TxHash:    makeTxHash("liquidate", fmt.Sprintf("%s:%d", caller.String(), loanID), seized),
		SeizedWei: seized.String(),
	}, nil
}

// LoanView is the transport representation of a loan record.
type LoanView struct {
	ID            uint64 `json:"id"`
	Borrower      string `json:"borrower"`
	CollateralWei string `json:"collateralWei"`
	PrincipalWei  string `json:"principalWei"`
	OpenedAt      int64  `json:"openedAt"`
	ClosedAt      int64  `json:"closedAt,omitempty"`
	Status        string `json:"status"`
}

// GetLoan returns the loan record for the supplied id.
func (m *VaultModule) GetLoan(loanID uint64) (*LoanView, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	loan, err := m.engine.GetLoan(loanID)
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return nil, moduleErr
	}
	return &LoanView{
		ID:            loan.ID,
		Borrower:      loan.Borrower.String(),
		CollateralWei: loan.CollateralWei.String(),
		PrincipalWei:  loan.PrincipalWei.String(),
		OpenedAt:      loan.OpenedAt,
		ClosedAt:      loan.ClosedAt,
		Status:        loan.Status.String(),
	}, nil
}

// LoansByAccount lists the borrower's loan ids.
func (m *VaultModule) LoansByAccount(addr crypto.Address) ([]uint64, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	ids, err := m.engine.LoansByBorrower(addr)
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return nil, moduleErr
	}
	return ids, nil
}

// IssuanceView is the transport representation of the issuance singleton.
type IssuanceView struct {
	TotalIssuedWei string `json:"totalIssuedWei"`
	NextLoanID     uint64 `json:"nextLoanId"`
	ActivatedAt    int64  `json:"activatedAt"`
	Paused         bool   `json:"paused"`
	Owner          string `json:"owner"`
}

// Issuance returns the global issuance counters.
func (m *VaultModule) Issuance() (*IssuanceView, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, m.moduleUnavailable()
	}
	issuance, err := m.engine.Issuance()
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return nil, moduleErr
	}
	return &IssuanceView{
		TotalIssuedWei: issuance.TotalIssuedWei.String(),
		NextLoanID:     issuance.NextLoanID,
		ActivatedAt:    issuance.ActivatedAt,
		Paused:         issuance.Paused,
		Owner:          issuance.Owner.String(),
	}, nil
}

// Params returns the active parameter set.
func (m *VaultModule) Params() (vault.Params, *ModuleError) {
	if m == nil || m.engine == nil {
		return vault.Params{}, m.moduleUnavailable()
	}
	params, err := m.engine.ParamsSnapshot()
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return vault.Params{}, moduleErr
	}
	return params, nil
}

// Owner returns the admin-gate identity.
func (m *VaultModule) Owner() (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	owner, err := m.engine.Owner()
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return "", moduleErr
	}
	return owner.String(), nil
}

// ResolverEntries reports the current address-resolution table.
func (m *VaultModule) ResolverEntries() (map[string]string, *ModuleError) {
	if m == nil || m.resolver == nil {
		return nil, m.moduleUnavailable()
	}
	entries := make(map[string]string)
	for _, name := range m.resolver.Names() {
		if addr, ok := m.resolver.Resolve(name); ok {
			entries[name] = addr.String()
		}
	}
	return entries, nil
}

// Pause halts new loan openings. Owner-gated.
func (m *VaultModule) Pause(caller crypto.Address) *ModuleError {
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	return m.wrapError(m.engine.Pause(caller))
}

// Unpause resumes loan openings. Owner-gated.
func (m *VaultModule) Unpause(caller crypto.Address) *ModuleError {
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	return m.wrapError(m.engine.Unpause(caller))
}

// UpdateParams replaces the parameter set. Owner-gated.
func (m *VaultModule) UpdateParams(caller crypto.Address, params vault.Params) *ModuleError {
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	return m.wrapError(m.engine.UpdateParams(caller, params))
}

// TransferOwnership moves the admin gate to a new identity. Owner-gated.
func (m *VaultModule) TransferOwnership(caller, newOwner crypto.Address) *ModuleError {
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	return m.wrapError(m.engine.SetOwner(caller, newOwner))
}

// Rewire updates a registry entry. Owner-gated through the engine owner.
func (m *VaultModule) Rewire(caller crypto.Address, name string, addr crypto.Address) *ModuleError {
	if m == nil || m.engine == nil || m.resolver == nil {
		return m.moduleUnavailable()
	}
	owner, err := m.engine.Owner()
	if moduleErr := m.wrapError(err); moduleErr != nil {
		return moduleErr
	}
	if !owner.Equal(caller) {
		return m.wrapError(vault.ErrNotOwner)
	}
	if err := m.resolver.Set(name, addr); err != nil {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

// rejectionErrs lists the engine outcomes a caller can correct by changing
// the request. Everything outside this list (and the not-found/authorization
// sentinels above) is an internal failure.
var rejectionErrs = []error{
	vault.ErrSystemPaused,
	vault.ErrBelowMinimumCollateral,
	vault.ErrIssuanceCapExceeded,
	vault.ErrWaitingPeriodNotElapsed,
	vault.ErrLoanNotOpen,
	vault.ErrInsufficientRepaymentBalance,
	vault.ErrNotUndercollateralized,
	vault.ErrInvalidAmount,
	vault.ErrInsufficientCollateralBalance,
	vault.ErrInvalidParams,
}

func isRejection(err error) bool {
	for _, sentinel := range rejectionErrs {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (m *VaultModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	var status, code int
	switch {
	case errors.Is(err, vault.ErrLoanNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, vault.ErrNotOwner), errors.Is(err, vault.ErrNotBorrower):
		status, code = http.StatusForbidden, codeUnauthorized
	case isRejection(err):
		status, code = http.StatusBadRequest, codeInvalidParams
	default:
		status, code = http.StatusInternalServerError, codeServerError
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}

func makeTxHash(kind, primary string, amounts ...*big.Int) string {
	parts := []string{kind, primary}
	for _, amount := range amounts {
		if amount != nil {
			parts = append(parts, amount.String())
		}
	}
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}
