package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"synthvault/crypto"
	"synthvault/native/vault"
)

type vaultOpenLoanParams struct {
	Borrower      string `json:"borrower"`
	CollateralWei string `json:"collateralWei"`
}

type vaultLoanActionParams struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
}

type vaultGetLoanParams struct {
	LoanID uint64 `json:"loanId"`
}

type vaultAccountParams struct {
	Address string `json:"address"`
}

type vaultCallerParams struct {
	Caller string `json:"caller"`
}

type vaultSetParamsParams struct {
	Caller string       `json:"caller"`
	Params vault.Params `json:"params"`
}

type vaultTransferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type vaultRewireParams struct {
	Caller  string `json:"caller"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s address: %w", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be provided", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return amount, nil
}

func (s *Server) handleVaultOpenLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultOpenLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrower, err := parseAddress("borrower", params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateral, err := parseAmount("collateralWei", params.CollateralWei)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, moduleErr := s.vault.OpenLoan(borrower, collateral)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultCloseLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultLoanActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, moduleErr := s.vault.CloseLoan(caller, params.LoanID)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultLiquidateLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultLoanActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, moduleErr := s.vault.LiquidateLoan(caller, params.LoanID)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultGetLoanParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, moduleErr := s.vault.GetLoan(params.LoanID)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, loan)
}

func (s *Server) handleVaultLoansByAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccountParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ids, moduleErr := s.vault.LoansByAccount(addr)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleVaultIssuance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	issuance, moduleErr := s.vault.Issuance()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, issuance)
}

func (s *Server) handleVaultParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, moduleErr := s.vault.Params()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, params)
}

func (s *Server) handleVaultOwner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	owner, moduleErr := s.vault.Owner()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": owner})
}

func (s *Server) handleVaultResolver(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	entries, moduleErr := s.vault.ResolverEntries()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleVaultPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultCallerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if moduleErr := s.vault.Pause(caller); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": true})
}

func (s *Server) handleVaultUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultCallerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if moduleErr := s.vault.Unpause(caller); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": false})
}

func (s *Server) handleVaultSetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSetParamsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if moduleErr := s.vault.UpdateParams(caller, params.Params); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleVaultTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultTransferOwnershipParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newOwner, err := parseAddress("newOwner", params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if moduleErr := s.vault.TransferOwnership(caller, newOwner); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": newOwner.String()})
}

func (s *Server) handleVaultRewire(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultRewireParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if moduleErr := s.vault.Rewire(caller, params.Name, target); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"name": params.Name, "address": target.String()})
}
