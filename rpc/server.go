// Package rpc serves the operator surface of the node: health, status,
// Prometheus metrics, a websocket stream of informational events and the
// ingestion endpoint used by chain-sync and transport adapters.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"channeld/core"
	"channeld/core/machine"
	"channeld/core/types"
)

const maxStateChangeBytes = 1 << 20 // 1 MiB

// StateSource is the read-only view of the engine the ops server needs.
type StateSource interface {
	Sequence() uint64
	CurrentState() *types.ChainState
	Halted() error
}

// Submitter feeds state changes to the engine. Chain-sync and transport
// adapters running beside the node use it through POST /v1/statechanges.
type Submitter interface {
	Submit(ctx context.Context, sc types.StateChange) (core.Result, error)
}

// Server exposes the ops endpoints.
type Server struct {
	source    StateSource
	hub       *Hub
	submitter Submitter
	auth      *Authenticator
	router    http.Handler
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithSubmitter enables the ingestion endpoint.
func WithSubmitter(sub Submitter) ServerOption {
	return func(s *Server) { s.submitter = sub }
}

// WithAuthenticator requires a bearer token with ScopeSubmit on the
// ingestion endpoint.
func WithAuthenticator(auth *Authenticator) ServerOption {
	return func(s *Server) { s.auth = auth }
}

// NewServer builds the ops router. hub may be nil, in which case the event
// stream is not served.
func NewServer(source StateSource, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{source: source, hub: hub}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/status", otelhttp.NewHandler(http.HandlerFunc(s.handleStatus), "channeld.status"))
		if s.hub != nil {
			api.Get("/events", s.hub.ServeHTTP)
		}
		if s.submitter != nil {
			submit := otelhttp.NewHandler(http.HandlerFunc(s.handleSubmit), "channeld.submit")
			if s.auth != nil {
				submit = s.auth.Require(ScopeSubmit)(submit)
			}
			api.Method(http.MethodPost, "/statechanges", submit)
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.source.Halted(); err != nil {
		http.Error(w, "halted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Status summarises the node for operators.
type Status struct {
	Sequence            uint64            `json:"sequence"`
	ChainID             types.ChainID     `json:"chainId"`
	BlockNumber         types.BlockNumber `json:"blockNumber"`
	OurAddress          string            `json:"ourAddress,omitempty"`
	TokenNetworks       int               `json:"tokenNetworks"`
	Channels            int               `json:"channels"`
	Payments            int               `json:"payments"`
	QueuedMessages      int               `json:"queuedMessages"`
	PendingTransactions int               `json:"pendingTransactions"`
	Halted              string            `json:"halted,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{Sequence: s.source.Sequence()}
	if err := s.source.Halted(); err != nil {
		status.Halted = err.Error()
	}
	if state := s.source.CurrentState(); state != nil {
		status.ChainID = state.ChainID
		status.BlockNumber = state.BlockNumber
		status.OurAddress = state.OurAddress.Hex()
		status.TokenNetworks = len(state.TokenNetworks)
		for _, tn := range state.TokenNetworks {
			status.Channels += len(tn.Channels)
		}
		status.Payments = len(state.PaymentMapping)
		status.QueuedMessages = len(state.QueuedMessages)
		status.PendingTransactions = len(state.PendingTransactions)
	}
	writeJSON(w, http.StatusOK, status)
}

// admit decides whether a caller may submit sc. The reducer treats blocks and
// contract events as trusted: a bad one halts the engine. They are only taken
// from tokens carrying ScopeChainSync. The genesis record is written by the
// node itself and never accepted here.
func (s *Server) admit(ctx context.Context, sc types.StateChange) (int, string) {
	switch {
	case sc.StateChangeType() == "ActionInitChain":
		return http.StatusBadRequest, "ActionInitChain is not accepted over http"
	case !chainSourced(sc):
		return http.StatusOK, ""
	case s.auth == nil:
		return http.StatusBadRequest, sc.StateChangeType() + " requires an authenticated chain-sync client"
	case !hasScope(grantedScopes(ctx), ScopeChainSync):
		return http.StatusForbidden, "insufficient scope"
	default:
		return http.StatusOK, ""
	}
}

func chainSourced(sc types.StateChange) bool {
	tag := sc.StateChangeType()
	return tag == "Block" || strings.HasPrefix(tag, "ContractReceive")
}

// SubmitResponse reports where a submitted state change landed in the log.
type SubmitResponse struct {
	Sequence uint64            `json:"sequence"`
	Events   []json.RawMessage `json:"events"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateChangeBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxStateChangeBytes {
		http.Error(w, "state change too large", http.StatusRequestEntityTooLarge)
		return
	}
	sc, err := types.DecodeStateChange(body)
	if err != nil {
		http.Error(w, "invalid state change: "+err.Error(), http.StatusBadRequest)
		return
	}
	if status, reason := s.admit(r.Context(), sc); status != http.StatusOK {
		http.Error(w, reason, status)
		return
	}
	res, err := s.submitter.Submit(r.Context(), sc)
	if err != nil {
		var serr *core.StorageError
		switch {
		case errors.As(err, &serr):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, core.ErrEngineHalted), errors.Is(err, machine.ErrInvariantViolation):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			http.Error(w, err.Error(), http.StatusRequestTimeout)
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
		return
	}
	resp := SubmitResponse{Sequence: res.Sequence, Events: make([]json.RawMessage, 0, len(res.Events))}
	for _, ev := range res.Events {
		raw, err := types.EncodeEvent(ev)
		if err != nil {
			http.Error(w, "encode event: "+err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Events = append(resp.Events, raw)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
