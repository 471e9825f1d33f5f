package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/custody-ledger/backend/internal/auth"
	"github.com/custody-ledger/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub streams committed ledger events to clients watching a ledger.
type WSHub struct {
	jwtSecret   string
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[string][]*websocket.Conn
}

func NewWSHub(jwtSecret string, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		jwtSecret:   jwtSecret,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[string][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamLedger, h.Broadcast)
}

// Broadcast sends an event to every connection watching its ledger.
func (h *WSHub) Broadcast(event events.Event) {
	id := event.LedgerID()
	if id == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[id] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Watchers returns how many connections watch a ledger.
func (h *WSHub) Watchers(ledgerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[ledgerID])
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
	claims, err := auth.ParseJWT(h.jwtSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	ledgerID, err := uuid.Parse(conn.Query("ledger_id"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid ledger_id"}`))
		conn.Close()
		return
	}
	key := ledgerID.String()

	h.mu.Lock()
	h.connections[key] = append(h.connections[key], conn)
	h.mu.Unlock()

	h.log.Debug("ws watcher joined", zap.String("ledger_id", key), zap.String("caller", claims.Address))

	defer func() {
		h.mu.Lock()
		conns := h.connections[key]
		for i, c := range conns {
			if c == conn {
				h.connections[key] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[key]) == 0 {
			delete(h.connections, key)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
