package events

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades the request and streams the user's change events.
// userID resolves the authenticated user; an empty result rejects the request.
// Cross-origin upgrades are refused unless the origin host matches one of
// originPatterns (path.Match syntax, e.g. "*.example.com").
func Handler(hub *Hub, userID func(*http.Request) string, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		if uid == "" {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			slog.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		slog.Info("change feed connected", "user", uid)
		NewClient(hub, conn, uid).Run(r.Context())
	}
}
