package adapthttp

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"conquest/internal/server"
)

// Server is the driving HTTP adapter. It exposes a health check and bridges
// WebSocket clients into the game dispatcher.
type Server struct {
	game     *server.Server
	upgrader websocket.Upgrader
}

// New creates a Server in front of the given dispatcher.
func New(game *server.Server) *Server {
	return &Server{
		game: game,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	return s.loggingMiddleware(withNoCache(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	users, err := s.game.Users(r.Context())
	if err != nil {
		log.Printf("[http] health: count users: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"connections": s.game.Connections(),
		"users":       users,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	s.game.ServeConn(r.Context(), newWSTransport(ws))
}
