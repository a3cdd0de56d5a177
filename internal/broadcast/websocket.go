package broadcast

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StreamConfig tunes the websocket relay
type StreamConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	CloseDelay   time.Duration // grace period after a terminal status
}

// DefaultStreamConfig returns the relay defaults
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SendBuffer:   64,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		CloseDelay:   time.Second,
	}
}

// StreamHandler relays an order's status updates to a websocket client
type StreamHandler struct {
	hub      *Hub
	cfg      StreamConfig
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a relay on top of hub
func NewStreamHandler(hub *Hub, cfg StreamConfig) *StreamHandler {
	def := DefaultStreamConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	return &StreamHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced by the HTTP server
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the relay under /ws
func (h *StreamHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/orders/:order_id", h.Handle)
}

type stream struct {
	conn   *websocket.Conn
	cfg    StreamConfig
	send   chan types.StatusUpdate
	done   chan struct{}
	logger zerolog.Logger
}

// Handle upgrades the request and streams updates until the order finishes or
// the client goes away
func (h *StreamHandler) Handle(c *gin.Context) {
	orderID := c.Param("order_id")
	logger := log.With().
		Str("component", "ws").
		Str("order_id", orderID).
		Str("remote_addr", c.ClientIP()).
		Logger()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := &stream{
		conn:   conn,
		cfg:    h.cfg,
		send:   make(chan types.StatusUpdate, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}

	cancel := h.hub.Subscribe(orderID, s.push)
	logger.Info().Msg("observer connected")

	go s.writeLoop()
	s.readLoop()

	close(s.done)
	cancel()
	logger.Info().Msg("observer disconnected")
}

// push is the hub sink. It never blocks the publisher.
func (s *stream) push(update types.StatusUpdate) {
	select {
	case <-s.done:
	case s.send <- update:
	default:
		s.logger.Warn().
			Str("status", string(update.Status)).
			Msg("observer send buffer full, dropping update")
	}
}

// readLoop drains control frames until the connection fails or closes
func (s *stream) readLoop() {
	defer s.conn.Close()

	if s.cfg.PongWait > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.conn.SetPongHandler(func(string) error {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
			return nil
		})
	}

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (s *stream) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	var closing <-chan time.Time
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case update := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteJSON(update); err != nil {
				s.logger.Warn().Err(err).Msg("failed to send status update")
				return
			}
			s.logger.Debug().Str("status", string(update.Status)).Msg("sent status update")
			if update.Status.IsTerminal() && closing == nil {
				closing = time.After(s.cfg.CloseDelay)
			}

		case <-closing:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order finished")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait))
			return

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
