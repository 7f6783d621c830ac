package server

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simonjohansson/tracker/internal/model"
)

type wsClient struct {
	conn      *websocket.Conn
	projectID int64
	userID    int64
	mu        sync.Mutex
}

// wants reports whether the client subscribed to event. Clients without
// a user observe the whole project; addressed events reach a user only
// when listed.
func (c *wsClient) wants(event model.Event) bool {
	if c.projectID != 0 && c.projectID != event.ProjectID {
		return false
	}
	if c.userID == 0 || event.Users == nil {
		return true
	}
	return slices.Contains(event.Users, c.userID)
}

type hub struct {
	upgrader   websocket.Upgrader
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan model.Event
	done       chan struct{}
	clients    map[*wsClient]struct{}
	logger     *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	h := &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan model.Event, 128),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *hub) Close() {
	close(h.done)
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request, projectID, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn, projectID: projectID, userID: userID}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := client.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish never blocks the mutation path; events are dropped when the
// queue is full.
func (h *hub) Publish(event model.Event) {
	select {
	case h.broadcast <- event:
	default:
		if h.logger != nil {
			h.logger.Warn("live event dropped", "type", event.Type, "project_id", event.ProjectID, "entry_id", event.EntryID)
		}
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.conn.Close()
			}
		case event := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				client.mu.Lock()
				_ = client.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				err := client.conn.WriteJSON(event)
				client.mu.Unlock()
				if err != nil {
					delete(h.clients, client)
					_ = client.conn.Close()
				}
			}
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.Close()
			}
			return
		}
	}
}

// serveWS resolves the project slug and user filters before upgrading.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var projectID, userID int64
	if slug := query.Get("project"); slug != "" {
		project, err := s.service.GetProject(r.Context(), slug)
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		projectID = project.ID
	}
	if raw := query.Get("user"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}
		userID = id
	}
	s.hub.serve(w, r, projectID, userID)
}
