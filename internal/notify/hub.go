package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// ClientMsg é uma mensagem recebida do cliente WebSocket.
// Type: subscribe | unsubscribe | ping; Room obrigatório em subscribe/unsubscribe (ex.: "match_1.234", "user_42").
type ClientMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Envelope é o formato enviado aos clientes e trafegado no Redis Pub/Sub.
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// conn serializa as escritas: gorilla/websocket não aceita escritores concorrentes.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub gerencia conexões WebSocket e as salas em que cada uma está inscrita.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// sala -> conexões
	rooms map[string]map[*conn]struct{}
}

// NewHub cria um Hub com a política de origem informada.
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		rooms:    make(map[string]map[*conn]struct{}),
	}
}

// HandleWS atende uma conexão até ela fechar. Um cliente pode estar em várias salas.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	for {
		var msg ClientMsg
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.Room == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.rooms[msg.Room]; !ok {
				h.rooms[msg.Room] = make(map[*conn]struct{})
			}
			h.rooms[msg.Room][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.leave(msg.Room, c)
		case "ping":
			_ = c.writeJSON(map[string]string{"type": "pong"})
		}
	}

	h.mu.Lock()
	for room, set := range h.rooms {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) leave(room string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast envia o envelope a todos os inscritos na sala.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.rooms[env.Room]))
	for c := range h.rooms[env.Room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, _ := json.Marshal(env)
	for _, c := range targets {
		_ = c.write(b)
	}
}

// Subscribers retorna quantas conexões estão na sala.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) PublishOrderMatched(_ context.Context, e events.OrderMatched) error {
	env, err := NewEnvelope(MatchRoom(e.MarketID), EventOrdersUpdated, e)
	if err != nil {
		return err
	}
	h.Broadcast(env)
	return nil
}

func (h *Hub) PublishUserUpdated(_ context.Context, e events.UserUpdated) error {
	env, err := NewEnvelope(UserRoom(e.UserID), EventUserUpdated, e)
	if err != nil {
		return err
	}
	h.Broadcast(env)
	return nil
}

// NewEnvelope serializa o payload para a sala e evento informados.
func NewEnvelope(room, event string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Room: room, Event: event, Payload: b}, nil
}
