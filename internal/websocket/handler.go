package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/socialnet/backend/internal/auth"
	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/logger"
)

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub         *Hub
	authService *auth.Service
	upgrader    websocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins. A "*" entry, or an
// empty list, allows any origin.
func NewHandler(hub *Hub, authService *auth.Service, allowedOrigins []string) *Handler {
	return &Handler{
		hub:         hub,
		authService: authService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeWS handles websocket requests. Browsers cannot set headers on the
// websocket handshake, so the access token comes from ?token=.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	user, err := auth.Authenticate(h.authService, r.URL.Query().Get("token"))
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		h.hub.log.Warn(r.Context(), "websocket upgrade failed", err, logger.Fields{"user_id": user.UserID})
		return
	}

	client := NewClient(h.hub, conn, user.UserID)
	if !h.hub.add(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// Hub returns the hub instance for external access.
func (h *Handler) Hub() *Hub {
	return h.hub
}
