// Package api exposes the replication engine's public operations over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"copytrade/internal/auth"
	"copytrade/internal/events"
	"copytrade/internal/replication"
)

// Handler serves the control API.
type Handler struct {
	manager      *replication.Manager
	replicator   *replication.Replicator
	bus          *events.Bus
	authService  *auth.Service
	passwordHash string // bcrypt hash of the operator password
	logger       *slog.Logger
}

// New creates the API handler.
func New(
	manager *replication.Manager,
	replicator *replication.Replicator,
	bus *events.Bus,
	authService *auth.Service,
	passwordHash string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		manager:      manager,
		replicator:   replicator,
		bus:          bus,
		authService:  authService,
		passwordHash: passwordHash,
		logger:       logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, successResponse{
		Message: message,
		Data:    data,
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// HandleLogin exchanges the operator password for a bearer token.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.authService.VerifyPassword(h.passwordHash, req.Password); err != nil {
		h.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken("operator")
	if err != nil {
		h.logger.Error("failed to generate token", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "internal error")

		return
	}

	h.respondJSON(w, http.StatusOK, loginResponse{Token: token})
}

// HandleHealth reports service liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	h.respondSuccess(w, "OK", nil)
}
