package cluster

import (
	"github.com/baxromumarov/ha-master/pkg/protocol"
	"go.uber.org/zap"
)

// ElectMaster performs a deterministic election: the alive member with the
// lowest address becomes master.
func (c *Cluster) ElectMaster() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.electMasterLocked()
}

// CheckAndElect re-runs the election when the master died or a lower
// addressed member came back. Returns true if the master changed.
func (c *Cluster) CheckAndElect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lowestAlive := c.lowestAliveAddrLocked()

	if c.master != nil && !c.master.Alive() {
		c.logger.Warn("master is dead, triggering election", zap.String("master", c.master.Addr))
		c.master.SetRole(protocol.RoleSlave)
		c.master = nil
	}

	if lowestAlive == "" {
		return false
	}

	if c.master == nil || c.master.Addr != lowestAlive {
		return c.electMasterLocked()
	}

	return false
}

// lowestAliveAddrLocked returns the smallest alive address. Caller must hold c.mu.
func (c *Cluster) lowestAliveAddrLocked() string {
	lowest := ""
	for addr, m := range c.members {
		if !m.Alive() {
			continue
		}
		if lowest == "" || addr < lowest {
			lowest = addr
		}
	}
	return lowest
}

// electMasterLocked elects from the current alive members. Caller must hold c.mu.
func (c *Cluster) electMasterLocked() bool {
	lowestAlive := c.lowestAliveAddrLocked()
	if lowestAlive == "" {
		c.logger.Warn("no alive members, no master elected")
		c.master = nil
		return false
	}

	for _, m := range c.members {
		m.SetRole(protocol.RoleSlave)
	}

	elected := c.members[lowestAlive]
	elected.SetRole(protocol.RoleMaster)
	c.master = elected

	c.logger.Info("elected new master", zap.String("master", lowestAlive))
	return true
}
