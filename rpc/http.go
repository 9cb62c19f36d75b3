package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"escrowd/native/escrow"
)

// Stable error codes carried in every error envelope. Clients dispatch on the
// code, not the message.
const (
	codeUnauthorized  = -32020
	codeInvalidParams = -32021
	codeNotFound      = -32022
	codeForbidden     = -32023
	codeConflict      = -32024
	codeInternal      = -32025
)

type contextKey string

const requestIDKey contextKey = "req_id"

// Server exposes the escrow engine over HTTP.
type Server struct {
	engine  *escrow.Engine
	auth    *Authenticator
	metrics *Metrics
	logger  *Logger
	router  chi.Router
}

// Options configures the optional server collaborators. Nil fields disable
// the corresponding concern.
type Options struct {
	Authenticator  *Authenticator
	Metrics        *Metrics
	Logger         *Logger
	MetricsHandler http.Handler
}

// NewServer wires the HTTP surface around an engine.
func NewServer(engine *escrow.Engine, opts Options) *Server {
	s := &Server{
		engine:  engine,
		auth:    opts.Authenticator,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.authenticate)

		v1.Post("/escrow/lock", s.instrument("lock", s.handleLock))
		v1.Post("/escrow/release", s.instrument("release", s.handleRelease))
		v1.Post("/escrow/partial-release", s.instrument("partial_release", s.handlePartialRelease))
		v1.Post("/escrow/refund", s.instrument("refund", s.handleRefund))
		v1.Post("/escrow/admin-refund", s.instrument("admin_refund", s.handleAdminRefund))
		v1.Post("/escrow/batch-lock", s.instrument("batch_lock", s.handleBatchLock))
		v1.Post("/escrow/batch-release", s.instrument("batch_release", s.handleBatchRelease))
		v1.Get("/escrow/{id}", s.instrument("get", s.handleGet))
		v1.Get("/escrow", s.instrument("search", s.handleSearch))

		v1.Post("/claims", s.instrument("claim_submit", s.handleClaimSubmit))
		v1.Post("/claims/{id}/approve", s.instrument("claim_approve", s.handleClaimApprove))
		v1.Post("/claims/{id}/cancel", s.instrument("claim_cancel", s.handleClaimCancel))
		v1.Get("/claims/{id}", s.instrument("claim_get", s.handleClaimGet))

		v1.Post("/capabilities", s.instrument("capability_issue", s.handleCapabilityIssue))
		v1.Post("/capabilities/{id}/revoke", s.instrument("capability_revoke", s.handleCapabilityRevoke))
		v1.Get("/capabilities/{id}", s.instrument("capability_get", s.handleCapabilityGet))
		v1.Post("/capabilities/release", s.instrument("capability_release", s.handleCapabilityRelease))
		v1.Post("/capabilities/refund", s.instrument("capability_refund", s.handleCapabilityRefund))

		v1.Post("/splits", s.instrument("split_set", s.handleSplitSet))
		v1.Post("/splits/{id}/disable", s.instrument("split_disable", s.handleSplitDisable))
		v1.Post("/splits/{id}/release", s.instrument("split_release", s.handleSplitRelease))
		v1.Get("/splits/{id}", s.instrument("split_get", s.handleSplitGet))

		v1.Get("/receipts/{id}", s.instrument("receipt_get", s.handleReceiptGet))

		v1.Post("/admin/pause", s.instrument("admin_pause", s.handleSetPaused))
		v1.Post("/admin/amount-policy", s.instrument("admin_amount_policy", s.handleSetAmountPolicy))
		v1.Post("/admin/fees", s.instrument("admin_fees", s.handleSetFees))
		v1.Post("/admin/treasury", s.instrument("admin_treasury", s.handleSetTreasury))
		v1.Post("/admin/filter-mode", s.instrument("admin_filter_mode", s.handleSetFilterMode))
		v1.Post("/admin/filter-members", s.instrument("admin_filter_members", s.handleFilterMembers))
		v1.Post("/admin/grace", s.instrument("admin_grace", s.handleSetGrace))
		v1.Post("/admin/freeze-address", s.instrument("admin_freeze_address", s.handleFreezeAddress))
		v1.Post("/admin/freeze-escrow", s.instrument("admin_freeze_escrow", s.handleFreezeEscrow))
	})
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// --- middleware ---

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// authenticate verifies the HMAC headers when an authenticator is configured.
// The body is buffered so handlers can decode it after signature verification.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, "unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		if s.auth != nil {
			if _, err := s.auth.Authenticate(r, body); err != nil {
				if s.logger != nil {
					s.logger.Error(map[string]interface{}{
						"req_id": requestID(r.Context()),
						"msg":    "authentication failed",
						"error":  err.Error(),
					})
				}
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(op string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)
		s.metrics.observe(op, rec.status, start)
		if s.logger != nil {
			s.logger.Info(map[string]interface{}{
				"req_id": requestID(r.Context()),
				"op":     op,
				"status": rec.status,
				"ms":     time.Since(start).Milliseconds(),
			})
		}
	}
}

// --- envelopes ---

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, status int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Result: result})
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: code, Message: message}})
}

// writeEngineError maps the engine's sentinel errors onto HTTP status and
// stable envelope codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, escrow.ErrCapabilityNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		status, code = http.StatusForbidden, codeForbidden
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrAmountBelowMinimum),
		errors.Is(err, escrow.ErrAmountAboveMaximum),
		errors.Is(err, escrow.ErrInvalidBatchSize),
		errors.Is(err, escrow.ErrInvalidSplit),
		errors.Is(err, escrow.ErrParticipantBlocked),
		errors.Is(err, escrow.ErrInsufficientFunds):
		status, code = http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, escrow.ErrFundsPaused),
		errors.Is(err, escrow.ErrNotInitialized),
		errors.Is(err, escrow.ErrAlreadyInitialized),
		errors.Is(err, escrow.ErrExists),
		errors.Is(err, escrow.ErrDuplicateID),
		errors.Is(err, escrow.ErrClaimPending),
		errors.Is(err, escrow.ErrFrozen),
		errors.Is(err, escrow.ErrFundsNotLocked),
		errors.Is(err, escrow.ErrDeadlineNotPassed),
		errors.Is(err, escrow.ErrReentrancy),
		errors.Is(err, escrow.ErrCapabilityExpired),
		errors.Is(err, escrow.ErrCapabilityExhausted),
		errors.Is(err, escrow.ErrCapabilityRevoked):
		status, code = http.StatusConflict, codeConflict
	}
	writeError(w, status, code, err.Error())
}

// --- param helpers ---

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, errors.New("address required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("address must be %d bytes", len(out))
	}
	copy(out[:], raw)
	return out, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
