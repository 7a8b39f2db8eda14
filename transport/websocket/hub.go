package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	conn    *websocket.Conn
	account string

	// gorilla connections allow one concurrent writer.
	mu sync.Mutex
}

func (that *client) send(v any) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return that.conn.WriteJSON(v)
}

// hub tracks which connections watch which match.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
}

func newHub() *hub {
	return &hub{
		subs: make(map[string]map[*client]struct{}),
	}
}

func (that *hub) Subscribe(matchID string, c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	clients, ok := that.subs[matchID]
	if !ok {
		clients = make(map[*client]struct{})
		that.subs[matchID] = clients
	}
	clients[c] = struct{}{}
}

func (that *hub) UnsubscribeAll(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for matchID, clients := range that.subs {
		delete(clients, c)
		if len(clients) == 0 {
			delete(that.subs, matchID)
		}
	}
}

func (that *hub) Subscribers(matchID string) []*client {
	that.mu.RLock()
	defer that.mu.RUnlock()

	clients := make([]*client, 0, len(that.subs[matchID]))
	for c := range that.subs[matchID] {
		clients = append(clients, c)
	}

	return clients
}
