package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig holds the gateway HTTP server settings.
type ServerConfig struct {
	Address     string       `yaml:"address"`
	Credentials []Credential `yaml:"credentials"`
}

// Server exposes the query catalog over HTTP. Clients authenticate with an
// API key carried in the X-API-Key header (or api_key query parameter).
type Server struct {
	store     *Store
	creds     *CredentialStore
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// QueryRequest is the /query request body.
type QueryRequest struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// QueryResponse is the envelope every /query call returns. Failures carry
// Success=false and a message in Error; the HTTP layer never returns a bare
// non-JSON body for catalog errors.
type QueryResponse struct {
	Success     bool             `json:"success"`
	Operation   string           `json:"operation"`
	RecordCount int              `json:"recordCount"`
	Data        []map[string]any `json:"data,omitempty"`
	Error       string           `json:"error,omitempty"`
	ExecutedAt  time.Time        `json:"executedAt"`
}

// NewServer wires the store and credentials into an HTTP server.
func NewServer(cfg ServerConfig, store *Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	creds, err := NewCredentialStore(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:  store,
		creds:  creds,
		logger: logger.With("component", "gateway-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /auth/test", s.handleAuthTest)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins serving. It returns once the listener goroutine is running.
func (s *Server) Start() {
	s.startedAt = time.Now()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server error", "error", err)
		}
	}()
	s.logger.Info("gateway server started", "address", s.server.Addr)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("gateway server stopping...")
	return s.server.Shutdown(ctx)
}

func apiKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if req.Operation == "" {
		s.writeFailure(w, http.StatusBadRequest, "", "operation is required")
		return
	}

	cred, err := s.creds.Authorize(apiKey(r), req.Operation)
	if err != nil {
		s.writeAuthError(w, req.Operation, err)
		return
	}

	rows, err := s.store.Execute(r.Context(), req.Operation, req.Params)
	if err != nil {
		s.logger.Warn("query failed",
			"client", cred.Name,
			"operation", req.Operation,
			"error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownOp) {
			status = http.StatusNotFound
		}
		s.writeFailure(w, status, req.Operation, err.Error())
		return
	}

	s.logger.Info("query executed",
		"client", cred.Name,
		"operation", req.Operation,
		"rows", len(rows))
	writeJSON(w, http.StatusOK, QueryResponse{
		Success:     true,
		Operation:   req.Operation,
		RecordCount: len(rows),
		Data:        rows,
		ExecutedAt:  time.Now(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbOK := s.store.Ping(ctx) == nil
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":    map[bool]string{true: "ok", false: "degraded"}[dbOK],
		"database":  dbOK,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleAuthTest(w http.ResponseWriter, r *http.Request) {
	cred, err := s.creds.Authorize(apiKey(r), "baglanti_testi")
	if err != nil {
		s.writeAuthError(w, "baglanti_testi", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"client":     cred.Name,
		"operations": cred.AllowedOperations,
		"rateLimit":  cred.RateLimit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cred, err := s.creds.Authorize(apiKey(r), "baglanti_testi")
	if err != nil {
		s.writeAuthError(w, "baglanti_testi", err)
		return
	}

	ops := make([]map[string]any, 0)
	for name, op := range Catalog() {
		ops = append(ops, map[string]any{
			"name":        name,
			"title":       op.Title,
			"description": op.Description,
			"params":      op.Params,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client":     cred.Name,
		"usage":      s.creds.Usage(apiKey(r)),
		"rateLimit":  cred.RateLimit,
		"operations": ops,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) writeAuthError(w http.ResponseWriter, operation string, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, ErrNotAllowed), errors.Is(err, ErrInactiveClient):
		status = http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	s.writeFailure(w, status, operation, err.Error())
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, operation, msg string) {
	writeJSON(w, status, QueryResponse{
		Success:    false,
		Operation:  operation,
		Error:      msg,
		ExecutedAt: time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
