package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"synthvault/core/types"
	"synthvault/crypto"
	"synthvault/native/vault"
	"synthvault/storage"
)

const (
	issuanceKey = "vault/issuance"
	paramsKey   = "vault/params"
)

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("vault/loan/%020d", id))
}

func borrowerLoansKey(addr crypto.Address) []byte {
	return []byte("vault/loans/" + hex.EncodeToString(addr.Bytes()))
}

func accountKey(addr crypto.Address) []byte {
	return []byte("account/" + hex.EncodeToString(addr.Bytes()))
}

// Manager persists the vault ledger as JSON records over the key-value store.
// It implements the engine's state interface; every record is decoded fresh on
// read so callers always operate on their own copy.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: database not configured")
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", string(key), err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, in interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", string(key), err)
	}
	return m.db.Put(key, raw)
}

// VaultGetLoan loads a loan record by id.
func (m *Manager) VaultGetLoan(id uint64) (*vault.Loan, bool, error) {
	loan := &vault.Loan{}
	ok, err := m.getJSON(loanKey(id), loan)
	if err != nil || !ok {
		return nil, false, err
	}
	loan.EnsureDefaults()
	return loan, true, nil
}

// VaultPutLoan stores the loan and keeps the borrower index current.
func (m *Manager) VaultPutLoan(loan *vault.Loan) error {
	if loan == nil {
		return errors.New("state: loan must not be nil")
	}
	if loan.ID == 0 {
		return errors.New("state: loan id must not be zero")
	}
	if err := m.putJSON(loanKey(loan.ID), loan); err != nil {
		return err
	}
	ids, err := m.VaultLoansByBorrower(loan.Borrower)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == loan.ID {
			return nil
		}
	}
	ids = append(ids, loan.ID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return m.putJSON(borrowerLoansKey(loan.Borrower), ids)
}

// VaultLoansByBorrower lists the ids of every loan the borrower has opened.
func (m *Manager) VaultLoansByBorrower(addr crypto.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getJSON(borrowerLoansKey(addr), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// VaultGetIssuance loads the issuance singleton.
func (m *Manager) VaultGetIssuance() (*vault.IssuanceState, bool, error) {
	issuance := &vault.IssuanceState{}
	ok, err := m.getJSON([]byte(issuanceKey), issuance)
	if err != nil || !ok {
		return nil, false, err
	}
	issuance.EnsureDefaults()
	return issuance, true, nil
}

// VaultPutIssuance stores the issuance singleton.
func (m *Manager) VaultPutIssuance(issuance *vault.IssuanceState) error {
	if issuance == nil {
		return errors.New("state: issuance state must not be nil")
	}
	return m.putJSON([]byte(issuanceKey), issuance)
}

// VaultGetParams loads the active parameter set.
func (m *Manager) VaultGetParams() (*vault.Params, bool, error) {
	params := &vault.Params{}
	ok, err := m.getJSON([]byte(paramsKey), params)
	if err != nil || !ok {
		return nil, false, err
	}
	params.EnsureDefaults()
	return params, true, nil
}

// VaultPutParams stores the active parameter set.
func (m *Manager) VaultPutParams(params *vault.Params) error {
	if params == nil {
		return errors.New("state: params must not be nil")
	}
	return m.putJSON([]byte(paramsKey), params)
}

// GetAccount loads an account, returning a zeroed record when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := &types.Account{}
	if _, err := m.getJSON(accountKey(addr), account); err != nil {
		return nil, err
	}
	account.EnsureBalances()
	return account, nil
}

// PutAccount stores an account record.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return errors.New("state: account must not be nil")
	}
	return m.putJSON(accountKey(addr), account)
}
