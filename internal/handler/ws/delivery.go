package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/alert-relay-service/internal/domain/registry"
	"github.com/webitel/alert-relay-service/internal/service"
)

const maxClientFrameBytes = 64 << 10

type Options struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
	opts      Options
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, opts Options) *WSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		opts:      opts,
		upgrader: websocket.Upgrader{
			// Subscribers are anonymous; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err, "remote", r.RemoteAddr)
		return
	}
	defer ws.Close()

	// 2. SUBSCRIBE VIA THE DELIVERY SERVICE
	// The request context ends when the hijacked connection's handler returns.
	conn := h.deliverer.Subscribe(r.Context(), registry.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.deliverer.Unsubscribe(conn.GetID())

	log := h.logger.With("conn_id", conn.GetID())
	log.Info("WS_OPENED", "remote", r.RemoteAddr)

	// 3. READ PUMP: keeps pongs flowing, logs and ignores client frames
	readDone := make(chan struct{})
	go h.readPump(ws, log, readDone)

	// 4. MAIN WS PUMP LOOP
	h.writePump(ws, conn, log, readDone)
	log.Info("WS_CLOSED")
}

func (h *WSHandler) readPump(ws *websocket.Conn, log *slog.Logger, done chan<- struct{}) {
	defer close(done)

	ws.SetReadLimit(maxClientFrameBytes)
	deadline := func() time.Time { return time.Now().Add(2 * h.opts.PingInterval) }
	_ = ws.SetReadDeadline(deadline())
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(deadline())
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("WS_READ_FAILED", "err", err)
			}
			return
		}
		log.Debug("WS_CLIENT_MESSAGE_IGNORED", "size", len(data), "message", string(data))
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector, log *slog.Logger, readDone <-chan struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-conn.Done():
			// Evicted by the registry or server shutdown.
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(h.opts.WriteTimeout))
			return
		case frame := <-conn.Recv():
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("WS_SEND_FAILED", "err", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("WS_PING_FAILED", "err", err)
				return
			}
		}
	}
}
