package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte // buffered outbound message queue
	accountID string      // "" = anonymous
}

// envelope is a message queued for delivery. An empty accountID means every
// client receives it.
type envelope struct {
	accountID string
	data      []byte
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients and routes messages.
// Run must be running before ServeWs is used.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	outbound   chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	// JWT signing key (optional – if empty, all connections are anonymous)
	jwtSecret []byte

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHub creates a Hub ready to be started with Run().
// jwtSecret may be nil; WS connections will then be treated as anonymous.
func NewHub(jwtSecret []byte, allowedOrigins []string, m *metrics.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		outbound:   make(chan envelope, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		jwtSecret:  jwtSecret,
		metrics:    m,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run — hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration and delivery events until ctx
// is cancelled. On exit every client's send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWSClients(n)

		case env := <-h.outbound:
			h.mu.RLock()
			for client := range h.clients {
				if env.accountID != "" && client.accountID != env.accountID {
					continue
				}
				select {
				case client.send <- env.data:
				default:
					// Client's buffer full — drop the message for this client.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.metrics.SetWSClients(0)
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection, optionally
// authenticates the caller via a JWT in the ?token= query parameter, and
// starts the read/write pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	var accountID string
	if token := r.URL.Query().Get("token"); token != "" && len(h.jwtSecret) > 0 {
		accountID = h.parseJWT(token)
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		accountID: accountID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// parseJWT extracts the account id (the token subject) from a signed access
// token. Returns "" on any failure, which is treated as anonymous.
func (h *Hub) parseJWT(tokenString string) string {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return ""
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	if typ, _ := claims["type"].(string); typ != "access" {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles pongs; the protocol is server-push. When the
// connection drops the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ws unexpected close", "account", c.accountID, "err", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Broadcast helpers — implement service.Broadcaster
// ──────────────────────────────────────────────────────────────────────────────

// BroadcastPoolUpdate announces a pool's state after operation op.
func (h *Hub) BroadcastPoolUpdate(op string, info domain.PoolInfo) {
	h.enqueue("", PoolUpdateMessage{
		Type:      MsgTypePoolUpdate,
		Op:        op,
		Pool:      info,
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastLiquidation announces an executed liquidation.
func (h *Hub) BroadcastLiquidation(l *domain.Liquidation) {
	h.enqueue("", LiquidationMessage{
		Type:        MsgTypeLiquidation,
		Liquidation: l,
		Timestamp:   time.Now().UTC(),
	})
}

// BroadcastPriceUpdate announces a new oracle snapshot.
func (h *Hub) BroadcastPriceUpdate(d *domain.PriceData) {
	h.enqueue("", NewPriceUpdateMessage(d))
}

// BroadcastRiskAlert announces a position found by the risk scan.
func (h *Hub) BroadcastRiskAlert(alert domain.RiskAlert) {
	h.enqueue("", RiskAlertMessage{Type: MsgTypeRiskAlert, RiskAlert: alert})
}

// BroadcastTransferStatus notifies the transfer's receiver only.
func (h *Hub) BroadcastTransferStatus(t *domain.Transfer) {
	h.enqueue(t.ReceiverID, TransferStatusMessage{
		Type:       MsgTypeTransferStatus,
		TransferID: t.ID,
		PoolID:     t.PoolID,
		TokenID:    t.TokenID,
		Amount:     t.Amount,
		Status:     t.Status,
		Attempts:   t.Attempts,
		Timestamp:  time.Now().UTC(),
	})
}

// enqueue is the common marshalling path.
func (h *Hub) enqueue(accountID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("ws marshal failed", "err", err)
		return
	}
	select {
	case h.outbound <- envelope{accountID: accountID, data: data}:
	default:
		h.log.Warn("ws outbound channel full, message dropped")
	}
}

// SendError writes an error message directly to one client's send channel.
func (h *Hub) SendError(client *Client, code, message string) {
	data, err := json.Marshal(ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}
