package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/civicplus/civicplus-backend/pkg/middleware"
	"github.com/civicplus/civicplus-backend/pkg/response"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 25 * time.Second

// Handler exposes the per-user event stream
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Routes returns the router for notification endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/stream", h.Stream)

	return r
}

// Stream handles GET /notifications/stream
// @Summary      Subscribe to report updates
// @Description  Server-sent events stream of report_status_changed events for the caller's reports
// @Tags         notifications
// @Produce      text/event-stream
// @Success      200
// @Failure      401 {object} response.APIResponse
// @Router       /notifications/stream [get]
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unregister := h.registry.Register(userID)
	defer unregister()

	h.logger.Debug("listener connected", zap.String("user_id", userID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("listener disconnected", zap.String("user_id", userID))
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventTypeStatusChanged, payload)
			flusher.Flush()
		}
	}
}
