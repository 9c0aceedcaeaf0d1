// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package api is the HTTP surface of the service: starting outbound calls and
// receiving provider callback batches.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/sprucehealth/agentbridge/gateway"
	"github.com/sprucehealth/agentbridge/issuer"
	"github.com/sprucehealth/agentbridge/model"
	"github.com/sprucehealth/agentbridge/session"
)

const maxBodyBytes = 1 << 20

// Workflow is the part of the dispatcher the HTTP surface drives
type Workflow interface {
	PlaceCall(ctx context.Context, phoneNumber, message string) (*session.Session, error)
	DispatchBatch(ctx context.Context, contextID string, events []model.CallbackEvent)
	Store() *session.Store
}

// OutboundCallRequest is the body of POST /api/outboundCall
type OutboundCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message,omitempty"`
}

// OutboundCallResponse is returned when the provider accepted the call
type OutboundCallResponse struct {
	Message string `json:"message"`
	CallID  string `json:"callId"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Phase  string `json:"phase"`
}

// ErrorResponse is the body of every 4xx and 5xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server provides the HTTP API
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	workflow   Workflow
	schemas    *schemas
	logger     *zap.Logger
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates the API server listening on addr. Provider packages add
// their own routes through Router.
func NewServer(addr string, workflow Workflow, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sch, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    mux.NewRouter(),
		workflow:  workflow,
		schemas:   sch,
		logger:    logger,
		startTime: time.Now(),
		now:       time.Now,
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/outboundCall", s.handleOutboundCall).Methods(http.MethodPost)
	api.HandleFunc("/callbacks/{contextId}", s.handleCallbacks).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router returns the router for registering additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Stop is called
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	payload, err := validate(s.schemas.outboundCall, body)
	if err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !hasPhoneNumber(payload) {
			writeError(w, http.StatusBadRequest, "Target phone number is required")
			return
		}
		s.logger.Debug("Rejected outbound call request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var req OutboundCallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, err := s.workflow.PlaceCall(r.Context(), req.PhoneNumber, req.Message)
	if err != nil {
		logger := s.logger.With(zap.Error(err))
		var cfgErr *issuer.ConfigurationError
		if errors.As(err, &cfgErr) {
			logger = logger.With(zap.String("setting", cfgErr.Setting))
		}
		var pe *gateway.ProviderError
		if errors.As(err, &pe) {
			logger = logger.With(zap.Int("provider_code", pe.Code), zap.Int("provider_status", pe.Status))
		}
		logger.Error("Failed to create outbound call")
		writeError(w, http.StatusInternalServerError, "Failed to create outbound call")
		return
	}
	if sess.ConnectionID == "" {
		s.logger.Error("Provider returned no call connection id")
		writeError(w, http.StatusInternalServerError, "Failed to create outbound call")
		return
	}

	writeJSON(w, http.StatusOK, OutboundCallResponse{
		Message: "Outbound call initiated successfully",
		CallID:  sess.ConnectionID,
	})
}

// handleCallbacks accepts a provider webhook batch. Deliveries are always
// acknowledged; entries failing validation are skipped.
func (s *Server) handleCallbacks(w http.ResponseWriter, r *http.Request) {
	contextID := mux.Vars(r)["contextId"]
	logger := s.logger.With(zap.String("context_id", contextID))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("Failed to read callback body", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		logger.Warn("Callback body is not an event batch", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	events := make([]model.CallbackEvent, 0, len(batch))
	for i, raw := range batch {
		if _, err := validate(s.schemas.callbackEvent, raw); err != nil {
			logger.Warn("Skipping invalid callback event", zap.Int("index", i), zap.Error(err))
			continue
		}
		var ev model.CallbackEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Warn("Skipping undecodable callback event", zap.Int("index", i), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}

	if len(events) > 0 {
		s.workflow.DispatchBatch(r.Context(), contextID, events)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: s.now().Sub(s.startTime).Round(time.Second).String(),
		Phase:  s.workflow.Store().Phase().String(),
	})
}

func hasPhoneNumber(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	phone, ok := m["phoneNumber"].(string)
	return ok && phone != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
