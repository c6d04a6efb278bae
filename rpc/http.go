package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payflow/native/payments"
	"payflow/observability"
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

// Payments module error codes. Each failure class keeps its own code so
// callers can tell a validation reject from a lifecycle conflict.
const (
	codePaymentsInvalidParams = -32040
	codePaymentsNotFound      = -32041
	codePaymentsForbidden     = -32042
	codePaymentsConflict      = -32043
	codePaymentsInternal      = -32044
)

// AuthConfig controls bearer authentication on mutating methods. A static
// token and an HS256 JWT secret may be configured together; either credential
// is accepted. With neither configured the server runs open, which is only
// sensible for local development.
type AuthConfig struct {
	Token     string
	JWTSecret []byte
}

func (a AuthConfig) enabled() bool {
	return strings.TrimSpace(a.Token) != "" || len(a.JWTSecret) > 0
}

// Server hosts the payments JSON-RPC API plus health and metrics endpoints.
type Server struct {
	engine *payments.Engine
	auth   AuthConfig
	log    *slog.Logger
	idem   *createIndex
}

// NewServer wires a server around the payment engine.
func NewServer(engine *payments.Engine, auth AuthConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine: engine,
		auth:   auth,
		log:    log,
		idem:   newCreateIndex(),
	}
}

// Router assembles the HTTP routes. Exposed separately so tests can drive the
// server through httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start blocks serving the API on addr.
func (s *Server) Start(addr string) error {
	if !s.auth.enabled() {
		s.log.Warn("rpc auth disabled; mutating methods are open")
	}
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version")
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required")
		return
	}
	if mutatingMethods[method] && !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized")
		return
	}

	started := time.Now()
	handler, ok := s.routes()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", method))
		return
	}
	handler(w, &req)
	observability.Payments().ObserveLatency(method, time.Since(started).Seconds())
}

var mutatingMethods = map[string]bool{
	"payments_create":   true,
	"payments_pay":      true,
	"payments_cancel":   true,
	"payments_withdraw": true,
}

func (s *Server) routes() map[string]func(http.ResponseWriter, *rpcRequest) {
	return map[string]func(http.ResponseWriter, *rpcRequest){
		"payments_create":   s.handleCreate,
		"payments_pay":      s.handlePay,
		"payments_cancel":   s.handleCancel,
		"payments_withdraw": s.handleWithdraw,
		"payments_get":      s.handleGet,
		"payments_status":   s.handleStatus,
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if !s.auth.enabled() {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if presented == "" {
		return false
	}
	if token := strings.TrimSpace(s.auth.Token); token != "" {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return true
		}
	}
	if len(s.auth.JWTSecret) > 0 {
		parsed, err := jwt.Parse(presented, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.auth.JWTSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		if err == nil && parsed.Valid {
			return true
		}
	}
	return false
}
