package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synthvault/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// Server exposes the vault module over JSON-RPC 2.0. Admin methods require
// the bearer token from SYNTHVAULT_RPC_TOKEN when one is configured.
type Server struct {
	vault     *modules.VaultModule
	authToken string
	logger    *slog.Logger
}

// NewServer constructs the RPC server around the vault module.
func NewServer(vault *modules.VaultModule, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("SYNTHVAULT_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{vault: vault, authToken: token, logger: logger}
}

// Start blocks serving JSON-RPC on addr. Prometheus metrics are exposed on
// /metrics from the same listener.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request too large", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}
	if isAdminMethod(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid auth token", nil)
		return
	}
	s.dispatch(w, r, &req)
}

func isAdminMethod(method string) bool {
	switch method {
	case "vault_pause", "vault_unpause", "vault_setParams", "vault_transferOwnership", "vault_rewire":
		return true
	}
	return false
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	return header == "Bearer "+s.authToken
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "vault_openLoan":
		s.handleVaultOpenLoan(w, r, req)
	case "vault_closeLoan":
		s.handleVaultCloseLoan(w, r, req)
	case "vault_liquidateLoan":
		s.handleVaultLiquidateLoan(w, r, req)
	case "vault_getLoan":
		s.handleVaultGetLoan(w, r, req)
	case "vault_loansByAccount":
		s.handleVaultLoansByAccount(w, r, req)
	case "vault_issuance":
		s.handleVaultIssuance(w, r, req)
	case "vault_params":
		s.handleVaultParams(w, r, req)
	case "vault_owner":
		s.handleVaultOwner(w, r, req)
	case "vault_resolver":
		s.handleVaultResolver(w, r, req)
	case "vault_pause":
		s.handleVaultPause(w, r, req)
	case "vault_unpause":
		s.handleVaultUnpause(w, r, req)
	case "vault_setParams":
		s.handleVaultSetParams(w, r, req)
	case "vault_transferOwnership":
		s.handleVaultTransferOwnership(w, r, req)
	case "vault_rewire":
		s.handleVaultRewire(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeModuleError(w http.ResponseWriter, id interface{}, moduleErr *modules.ModuleError) {
	writeError(w, moduleErr.HTTPStatus, id, moduleErr.Code, moduleErr.Message, moduleErr.Data)
}
