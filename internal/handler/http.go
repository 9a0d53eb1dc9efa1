package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/banana-evolution/tapboard/internal/domain"
	"github.com/banana-evolution/tapboard/internal/identity"
	"github.com/banana-evolution/tapboard/internal/service"
	"github.com/banana-evolution/tapboard/internal/websocket"
)

// Handler provides HTTP handlers for the game API
type Handler struct {
	service *service.GameService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.GameService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TapSubmission is the request body for a flushed tap batch.
type TapSubmission struct {
	Taps    int64 `json:"taps"`
	Bananas int64 `json:"bananas"`
}

// AuthEventRequest is the request body for the auth log.
type AuthEventRequest struct {
	Kind domain.AuthEventKind `json:"kind"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware)

		// Tap batches
		r.Post("/taps", h.SubmitTapBatch)

		// Profile lifecycle
		r.Route("/profile", func(r chi.Router) {
			r.Post("/ensure", h.EnsureProfile)
			r.Get("/", h.GetProfile)
			r.Patch("/", h.SaveGame)
		})

		// Auth log
		r.Post("/auth-events", h.RecordAuthEvent)

		// Leaderboard reads
		r.Route("/leaderboards", func(r chi.Router) {
			r.Get("/keys", h.GetPeriodKeys)
			r.Get("/{periodType}/top", h.GetTop)
			r.Get("/{periodType}/stats", h.GetBoardStats)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Player-Id, X-Player-Email, X-Player-Email-Verified")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code. Unknown errors
// are logged and masked as an internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var partial *domain.PartialLeaderboardError

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
	case errors.Is(err, domain.ErrWriteRejected):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
	case errors.Is(err, domain.ErrInvalidPeriod), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &partial), errors.Is(err, domain.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// currentUser pulls the authenticated identity off the request context.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated)
		return identity.User{}, false
	}
	return user, true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitTapBatch commits a flushed tap batch for the caller.
func (h *Handler) SubmitTapBatch(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var submission TapSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.CommitTapBatch(r.Context(), user, submission.Taps, submission.Bananas); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "accepted"})
}

// EnsureProfile creates or refreshes the caller's player record.
func (h *Handler) EnsureProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.EnsureProfile(r.Context(), user); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "ok"})
}

// GetProfile returns the caller's game state, creating it when absent.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	record, err := h.service.LoadOrCreate(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, record)
}

// SaveGame merges a partial state update into the caller's record.
func (h *Handler) SaveGame(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var patch domain.PlayerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.SaveGame(r.Context(), user, patch); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "saved"})
}

// RecordAuthEvent appends a login/logout entry to the auth log.
func (h *Handler) RecordAuthEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req AuthEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.RecordAuthEvent(r.Context(), user, req.Kind); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "recorded"})
}

// GetPeriodKeys returns the keys addressing the currently live boards.
func (h *Handler) GetPeriodKeys(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.CurrentKeys())
}

// GetTop returns the top N entries for one period board. An absent key
// query parameter addresses the current window.
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	periodType := domain.PeriodType(chi.URLParam(r, "periodType"))
	periodKey := r.URL.Query().Get("key")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.Top(r.Context(), periodType, periodKey, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetBoardStats returns the player count for one period board.
func (h *Handler) GetBoardStats(w http.ResponseWriter, r *http.Request) {
	periodType := domain.PeriodType(chi.URLParam(r, "periodType"))
	periodKey := r.URL.Query().Get("key")

	count, err := h.service.PlayerCount(r.Context(), periodType, periodKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"period_type":   periodType,
		"total_players": count,
	})
}
