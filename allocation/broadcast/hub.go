// Package broadcast distribui eventos de disponibilidade para clientes WebSocket.
//
// Hub é um assinante do Emitter. Cada cliente recebe primeiro um snapshot e depois
// só eventos com sequência maior que a do snapshot. Cliente lento (fila cheia) é
// desconectado: a entrega para os outros nunca espera por ele.
package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"seat-gateway/allocation/domain"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SnapshotMessage é a primeira mensagem de cada conexão.
type SnapshotMessage struct {
	Type string `json:"type"`
	domain.Snapshot
}

type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	snapshot     func() domain.Snapshot
	sendBuffer   int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub recebe a função que lê o snapshot consistente do pool (Engine.Snapshot).
// Ela é chamada com o lock do Hub: não pode chamar de volta o Hub.
func NewHub(snapshot func() domain.Snapshot, opts ...Option) *Hub {
	h := &Hub{
		logger:       zap.NewNop(),
		snapshot:     snapshot,
		sendBuffer:   64,
		writeTimeout: 10 * time.Second,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	after uint64
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Handle implementa domain.Subscriber.
func (h *Hub) Handle(_ context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if ev.Sequence <= c.after {
			continue
		}
		c.after = ev.Sequence
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("slow websocket client dropped", zap.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients retorna quantas conexões estão ativas.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	// snapshot e registro na mesma seção de h.mu: um Handle concorrente ou vem antes
	// (e o snapshot já o inclui) ou depois (e o cliente já está registrado).
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	snap := h.snapshot()
	first, err := json.Marshal(SnapshotMessage{Type: "snapshot", Snapshot: snap})
	if err != nil {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer), after: snap.LastSequence}
	c.send <- first
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Close desconecta todos os clientes e recusa novos.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump só existe para detectar desconexão e responder pongs.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
