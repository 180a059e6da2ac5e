// Package channel tracks which connected clients watch which chat channel.
package channel

import (
	"sort"
	"sync"
)

type member struct {
	userID  string
	channel string
}

// Manager maps clients to the single channel each one watches.
type Manager struct {
	mu       sync.Mutex
	clients  map[string]*member
	channels map[string]map[string]struct{}
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		clients:  make(map[string]*member),
		channels: make(map[string]map[string]struct{}),
	}
}

// RegisterClient records a connected client for userID.
func (m *Manager) RegisterClient(clientID string, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[clientID]; ok {
		c.userID = userID
		return
	}
	m.clients[clientID] = &member{userID: userID}
}

// Join moves clientID to channel and returns the channel it left, if any.
// Unregistered clients are registered without a user.
func (m *Manager) Join(clientID string, channel string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		c = &member{}
		m.clients[clientID] = c
	}
	previous := c.channel
	if previous == channel {
		return ""
	}
	m.leaveLocked(clientID, c)
	c.channel = channel
	if channel == "" {
		return previous
	}
	watchers, ok := m.channels[channel]
	if !ok {
		watchers = make(map[string]struct{})
		m.channels[channel] = watchers
	}
	watchers[clientID] = struct{}{}
	return previous
}

// RemoveClient forgets clientID and returns the clients still watching
// its channel.
func (m *Manager) RemoveClient(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	channel := c.channel
	m.leaveLocked(clientID, c)
	delete(m.clients, clientID)
	if channel == "" {
		return nil
	}
	return sortedKeys(m.channels[channel])
}

func (m *Manager) leaveLocked(clientID string, c *member) {
	if c.channel == "" {
		return
	}
	watchers := m.channels[c.channel]
	delete(watchers, clientID)
	if len(watchers) == 0 {
		delete(m.channels, c.channel)
	}
	c.channel = ""
}

// ChannelOf returns the channel clientID watches.
func (m *Manager) ChannelOf(clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[clientID]; ok {
		return c.channel
	}
	return ""
}

// Members returns the client ids watching channel, sorted.
func (m *Manager) Members(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.channels[channel])
}

// Users returns the distinct user ids watching channel, sorted.
func (m *Manager) Users(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for clientID := range m.channels[channel] {
		if user := m.clients[clientID].userID; user != "" {
			seen[user] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Channels returns the channels with at least one watcher, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for channel := range m.channels {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
