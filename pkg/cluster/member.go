package cluster

import (
	"sync"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
)

// Member is one database instance known to the cluster
type Member struct {
	Addr string

	mu       sync.RWMutex
	role     protocol.NodeRole
	alive    bool
	lastSeen time.Time
}

// NewMember creates a member that is assumed alive until a heartbeat says
// otherwise.
func NewMember(addr string, role protocol.NodeRole) *Member {
	return &Member{
		Addr:  addr,
		role:  role,
		alive: true,
	}
}

// SetAlive updates the member's health. A healthy report also refreshes
// LastSeen.
func (m *Member) SetAlive(alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = alive
	if alive {
		m.lastSeen = time.Now()
	}
}

func (m *Member) Alive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive
}

func (m *Member) SetRole(role protocol.NodeRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.role = role
}

func (m *Member) Role() protocol.NodeRole {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *Member) LastSeen() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen
}

// Info renders the member for the cluster endpoint
func (m *Member) Info() protocol.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return protocol.NodeInfo{
		Address:  m.Addr,
		Role:     string(m.role),
		Alive:    m.alive,
		LastSeen: m.lastSeen,
	}
}
