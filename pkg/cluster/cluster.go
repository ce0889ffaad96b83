package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.uber.org/zap"
)

// Cluster tracks the members this node knows about and which of them is
// the elected master.
type Cluster struct {
	mu      sync.RWMutex
	members map[string]*Member // address -> member
	master  *Member
	logger  *zap.Logger
}

// NewCluster creates an empty cluster
func NewCluster(logger *zap.Logger) *Cluster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cluster{
		members: make(map[string]*Member),
		logger:  logger.Named("cluster"),
	}
}

// AddMember adds m, replacing any member with the same address
func (c *Cluster) AddMember(m *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[m.Addr] = m
}

// RemoveMember removes a member, clearing the master if it was the one removed
func (c *Cluster) RemoveMember(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, exists := c.members[addr]; exists {
		if c.master == m {
			c.master = nil
		}
		delete(c.members, addr)
	}
}

// Member returns a member by address
func (c *Cluster) Member(addr string) *Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[addr]
}

// Members returns all members sorted by address
func (c *Cluster) Members() []*Member {
	c.mu.RLock()
	members := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	c.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].Addr < members[j].Addr })
	return members
}

// AliveMembers returns all members currently reported alive
func (c *Cluster) AliveMembers() []*Member {
	alive := make([]*Member, 0)
	for _, m := range c.Members() {
		if m.Alive() {
			alive = append(alive, m)
		}
	}
	return alive
}

// Master returns the elected master, or nil
func (c *Cluster) Master() *Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.master
}

// IsMaster reports whether addr is the elected master and still alive
func (c *Cluster) IsMaster(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.master != nil && c.master.Addr == addr && c.master.Alive()
}

// Size returns the number of members
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Info describes the cluster for the /cluster/nodes endpoint
func (c *Cluster) Info() *protocol.ClusterInfoResponse {
	members := c.Members()
	infos := make([]protocol.NodeInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, m.Info())
	}

	masterAddr := ""
	if m := c.Master(); m != nil {
		masterAddr = m.Addr
	}

	return &protocol.ClusterInfoResponse{
		MasterAddr: masterAddr,
		Nodes:      infos,
		Generated:  time.Now(),
	}
}
