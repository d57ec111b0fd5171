package ws

import (
	"sync"

	"reward_platform/internal/logger"
)

// Hub хранит открытые соединения по пользователям.
// У одного пользователя может быть несколько вкладок
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[int64]map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
}

// SendToUser кладет payload в очередь каждого соединения пользователя.
// Соединение с переполненной очередью пропускается. Возвращает число доставленных
func (h *Hub) SendToUser(userID int64, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			sent++
		default:
			logger.Warn("ws send queue full, dropping message", "user_id", userID)
		}
	}
	return sent
}

// Connections - число открытых соединений пользователя
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close закрывает очереди всех клиентов, writePump отправит close frame
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, id)
	}
}
