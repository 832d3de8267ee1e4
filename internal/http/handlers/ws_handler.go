package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gurssagar/finalicp-sub006/internal/auth"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/events"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"go.uber.org/zap"
)

// wsConn serializes writes; publishers may deliver from several goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.TextMessage, data)
}

type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[models.Principal][]*wsConn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[models.Principal][]*wsConn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	if err := h.subscriber.Subscribe(ctx, events.StreamEscrow, h.dispatch); err != nil {
		h.log.Error("ws hub subscribe failed", zap.Error(err))
	}
}

// Recipients returns the principals an event is delivered to. nil means everyone.
func Recipients(event events.Event) []models.Principal {
	var out []models.Principal
	for _, key := range []string{"client", "freelancer"} {
		if v, ok := event.Payload[key].(string); ok && v != "" {
			out = append(out, models.Principal(v))
		}
	}
	return out
}

func (h *WSHub) dispatch(event events.Event) {
	to := Recipients(event)
	if len(to) == 0 {
		h.broadcast(event)
		return
	}
	for _, p := range to {
		h.SendTo(p, event)
	}
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			conn.write(data)
		}
	}
}

func (h *WSHub) SendTo(p models.Principal, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[p] {
		conn.write(data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	principal := claims.Principal
	c := &wsConn{conn: conn}

	h.mu.Lock()
	h.connections[principal] = append(h.connections[principal], c)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[principal]
		for i, cc := range conns {
			if cc == c {
				h.connections[principal] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[principal]) == 0 {
			delete(h.connections, principal)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
