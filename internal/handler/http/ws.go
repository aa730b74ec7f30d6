package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Erenimo3442/GroupChatting/internal/hub"
	"github.com/Erenimo3442/GroupChatting/pkg/httputil"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
)

// WSHandler upgrades authenticated requests to websocket connections and
// hands them to the hub.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a websocket handler. Origin checking follows the CORS
// configuration: wildcard mode accepts any origin, otherwise the Origin
// header must match an allowed origin.
func NewWSHandler(h *hub.Hub, corsConfig middleware.CORSConfig, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients do not send an Origin header.
					return true
				}
				return corsConfig.OriginAllowed(origin)
			},
		},
		logger: logger,
	}
}

// Serve handles GET /ws. The caller subscribes to groups with JoinGroup
// frames after the connection is established.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "authentication required"},
		})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	client := hub.NewClient(h.hub, conn, userID, h.logger)
	client.Run()
}
