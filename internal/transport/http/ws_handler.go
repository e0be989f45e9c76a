package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
)

// FeedSource hands out per-student change event streams (normally *app.Hub).
type FeedSource interface {
	Subscribe(studentID string) (<-chan domain.ChangeEvent, func())
}

// Presence records which students have an open feed.
type Presence interface {
	Join(ctx context.Context, studentID string)
	Leave(ctx context.Context, studentID string)
	IsOnline(ctx context.Context, studentID string) (bool, error)
}

// Feed envelope types.
const (
	MessageSubscribed = "subscribed"
	MessageInsert     = "insert"
	MessageUpdate     = "update"
	MessageError      = "error"
)

// ChangePayload carries the row images of a change.
type ChangePayload struct {
	Old *domain.Assignment `json:"old,omitempty"`
	New domain.Assignment  `json:"new"`
}

// Envelope is one message on the change feed.
type Envelope[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type WSHandler struct {
	feeds        FeedSource
	presence     Presence
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	log          zerolog.Logger
}

// NewWSHandler builds the change feed endpoint. An empty allowedOrigins permits all origins.
func NewWSHandler(feeds FeedSource, presence Presence, pingInterval time.Duration, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WSHandler{
		feeds:        feeds,
		presence:     presence,
		pingInterval: pingInterval,
		log:          log.With().Str("component", "ws_handler").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if strings.EqualFold(allowed, origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS upgrades the request and streams the student's row events until
// either side goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		http.Error(w, "missing studentId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("student_id", studentID).Logger()

	// Subscribe before acknowledging so nothing published after the ack is lost.
	events, cancel := h.feeds.Subscribe(studentID)
	defer cancel()

	ctx := context.WithoutCancel(r.Context())
	h.presence.Join(ctx, studentID)
	defer h.presence.Leave(ctx, studentID)

	readerDone := make(chan struct{})
	conn.SetReadLimit(4096)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))

	// The feed is server to client only; reading keeps pongs and close frames flowing.
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
		}
	}()

	if err := h.write(conn, Envelope[struct{}]{Type: MessageSubscribed}); err != nil {
		wsLog.Debug().Err(err).Msg("Ack write failed")
		return
	}
	wsLog.Info().Msg("Feed subscribed")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			wsLog.Debug().Msg("Connection closed")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				wsLog.Debug().Err(err).Msg("Ping failed")
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Dropped by the hub for falling behind; the client reconnects and refetches.
				wsLog.Warn().Msg("Feed subscriber lagged, closing")
				_ = h.write(conn, Envelope[errorPayload]{Type: MessageError, Payload: errorPayload{Message: "feed overflow"}})
				return
			}
			msgType := MessageInsert
			if ev.Kind == domain.ChangeUpdate {
				msgType = MessageUpdate
			}
			if err := h.write(conn, Envelope[ChangePayload]{Type: msgType, Payload: ChangePayload{Old: ev.Old, New: ev.New}}); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}
