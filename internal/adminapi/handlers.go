// Package adminapi exposes a pps-probe server's Prometheus metrics and
// stored flow reports over HTTP, guarded by a bearer token.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qosmap/ppsprobe/internal/report"
	"github.com/qosmap/ppsprobe/pkg/guuid"
)

// Server wires the admin HTTP handlers to a report store and token
// issuer/verifier.
type Server struct {
	store  report.Store
	tokens *TokenIssuer
	logger *zap.Logger
}

// NewServer constructs a Server. The registry rendered at /metrics is
// passed later, to Handler.
func NewServer(store report.Store, tokens *TokenIssuer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, tokens: tokens, logger: logger}
}

// Handler builds the admin API's http.Handler. reg is the registry whose
// metrics are exposed at GET /metrics.
func (s *Server) Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/v1/tokens", s.handleIssueToken)
	mux.Handle("/api/v1/reports", s.requireAuth(http.HandlerFunc(s.handleListReports)))
	mux.Handle("/api/v1/reports/", s.requireAuth(http.HandlerFunc(s.handleGetReport)))
	return mux
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := s.tokens.Verify(parts[1])
		if err != nil {
			switch err {
			case ErrExpiredToken:
				http.Error(w, "token has expired", http.StatusUnauthorized)
			default:
				http.Error(w, "invalid token", http.StatusUnauthorized)
			}
			return
		}
		s.logger.Debug("admin API request authorized", zap.String("subject", claims.Subject))
		next.ServeHTTP(w, r)
	})
}

type issueTokenRequest struct {
	Subject string `json:"subject"`
}

type issueTokenResponse struct {
	Token string `json:"token"`
}

// handleIssueToken mints a token for anyone who can reach this endpoint.
// pps-probe has no operator directory of its own; deployments that need
// to gate token issuance are expected to put this behind a network
// boundary or a reverse proxy doing its own authentication.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}

	token, err := s.tokens.Issue(req.Subject)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, issueTokenResponse{Token: token})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	reports, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list reports", zap.Error(err))
		http.Error(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/reports/")
	if idStr == "" {
		http.Error(w, "flow id is required", http.StatusBadRequest)
		return
	}
	id, err := guuid.FromString(idStr)
	if err != nil {
		http.Error(w, "malformed flow id", http.StatusBadRequest)
		return
	}

	rep, err := s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
