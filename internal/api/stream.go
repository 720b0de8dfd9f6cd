package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/quicksettings/internal/tray"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Streams are one-way; peers only send control frames.
	maxMessageSize = 512

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are local tools and the host shell, not browsers.
		return true
	},
}

// streamClient is one WebSocket peer receiving JSON frames.
type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newStreamClient(conn *websocket.Conn, logger *slog.Logger) *streamClient {
	return &streamClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// push queues v for delivery without blocking. Frames to a peer that is too
// slow to drain its buffer are dropped.
func (c *streamClient) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encoding stream frame failed", "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("stream peer too slow, dropping frame")
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards peer frames until the connection ends.
func (c *streamClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read error", "error", err)
			}
			return
		}
	}
}

func (c *streamClient) writePump(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-c.done:
			return
		}
	}
}

// serveStream upgrades the request and keeps the subscription made by
// subscribe alive until the peer disconnects or the request context ends.
func serveStream(w http.ResponseWriter, r *http.Request, logger *slog.Logger, subscribe func(push func(any)) (cancel func(), err error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newStreamClient(conn, logger)
	cancel, err := subscribe(c.push)
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		c.close()
		return
	}
	defer cancel()

	go c.writePump(r.Context().Done())
	c.readPump()
}

func handleSettingStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		serveStream(w, r, deps.Logger, func(push func(any)) (func(), error) {
			sub, err := deps.Observer.Observe(key, nil, func(v any) {
				push(SettingValue{Key: key, Value: v})
			})
			if err != nil {
				return nil, err
			}
			deps.Logger.Debug("setting stream opened", "key", key)
			return func() {
				sub.Cancel()
				deps.Logger.Debug("setting stream closed", "key", key)
			}, nil
		})
	}
}

func handleTrayStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveStream(w, r, deps.Logger, func(push func(any)) (func(), error) {
			// Watch pushes the current snapshot before returning.
			return deps.Tray.Watch(func(s tray.Snapshot) { push(s) }), nil
		})
	}
}
