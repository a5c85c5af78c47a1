package chat

import "sync"

// Client is a live connection that can receive relay events.
type Client interface {
	Send(eventType string, payload any) error
}

// Directory maps user ids to their single active connection.
type Directory interface {
	// Register makes c the connection for userID, replacing any earlier one.
	Register(userID string, c Client)
	// Deregister removes c, but only if it is still the registered
	// connection for userID.
	Deregister(userID string, c Client)
	Lookup(userID string) (Client, bool)
}

// MemoryDirectory is the in-process Directory used by one server.
type MemoryDirectory struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{clients: make(map[string]Client)}
}

func (d *MemoryDirectory) Register(userID string, c Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[userID] = c
}

func (d *MemoryDirectory) Deregister(userID string, c Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.clients[userID]; ok && current == c {
		delete(d.clients, userID)
	}
}

func (d *MemoryDirectory) Lookup(userID string) (Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[userID]
	return c, ok
}

// Len reports the number of connected users.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}
