package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baxromumarov/ha-master/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestClusterAddRemoveMember(t *testing.T) {
	c := NewCluster(nil)

	c.AddMember(NewMember("localhost:8081", protocol.RoleSlave))
	c.AddMember(NewMember("localhost:8082", protocol.RoleSlave))
	require.Equal(t, 2, c.Size())

	c.RemoveMember("localhost:8081")
	require.Equal(t, 1, c.Size())
	require.NotNil(t, c.Member("localhost:8082"))
	require.Nil(t, c.Member("localhost:8081"))
}

func TestClusterAliveMembers(t *testing.T) {
	c := NewCluster(nil)

	n1 := NewMember("localhost:8081", protocol.RoleSlave)
	n2 := NewMember("localhost:8082", protocol.RoleSlave)
	n3 := NewMember("localhost:8083", protocol.RoleSlave)
	n2.SetAlive(false)

	c.AddMember(n1)
	c.AddMember(n2)
	c.AddMember(n3)

	require.Len(t, c.AliveMembers(), 2)
}

func TestElectMasterPicksLowestAddress(t *testing.T) {
	c := NewCluster(nil)

	n3 := NewMember("localhost:8083", protocol.RoleSlave)
	n1 := NewMember("localhost:8081", protocol.RoleSlave)
	n2 := NewMember("localhost:8082", protocol.RoleSlave)
	c.AddMember(n3)
	c.AddMember(n1)
	c.AddMember(n2)

	c.ElectMaster()

	master := c.Master()
	require.NotNil(t, master)
	require.Equal(t, "localhost:8081", master.Addr)
	require.Equal(t, protocol.RoleMaster, master.Role())
	require.Equal(t, protocol.RoleSlave, n2.Role())
	require.Equal(t, protocol.RoleSlave, n3.Role())
}

func TestElectMasterAfterFailure(t *testing.T) {
	c := NewCluster(nil)

	n1 := NewMember("localhost:8081", protocol.RoleSlave)
	n2 := NewMember("localhost:8082", protocol.RoleSlave)
	c.AddMember(n1)
	c.AddMember(n2)

	c.ElectMaster()
	require.Equal(t, "localhost:8081", c.Master().Addr)

	n1.SetAlive(false)
	require.True(t, c.CheckAndElect())
	require.Equal(t, "localhost:8082", c.Master().Addr)
	require.Equal(t, protocol.RoleSlave, n1.Role())

	require.False(t, c.CheckAndElect(), "stable cluster does not re-elect")
}

func TestNoMasterWhenAllDead(t *testing.T) {
	c := NewCluster(nil)

	n1 := NewMember("localhost:8081", protocol.RoleSlave)
	n2 := NewMember("localhost:8082", protocol.RoleSlave)
	n1.SetAlive(false)
	n2.SetAlive(false)
	c.AddMember(n1)
	c.AddMember(n2)

	c.ElectMaster()

	require.Nil(t, c.Master())
	require.Empty(t, c.Info().MasterAddr)
}

func TestOracleFollowsElection(t *testing.T) {
	c := NewCluster(nil)
	self := NewMember("localhost:8081", protocol.RoleSlave)
	peer := NewMember("localhost:8082", protocol.RoleSlave)
	c.AddMember(self)
	c.AddMember(peer)

	oracle := NewOracle(c, self.Addr)
	require.False(t, oracle.IsAccessible(), "no election yet")

	c.ElectMaster()
	require.True(t, oracle.IsAccessible())
	require.False(t, NewOracle(c, peer.Addr).IsAccessible())

	self.SetAlive(false)
	require.False(t, oracle.IsAccessible(), "dead master is not accessible")

	c.CheckAndElect()
	require.True(t, NewOracle(c, peer.Addr).IsAccessible())
}

type fakeChecker struct {
	mu   sync.Mutex
	down map[string]bool
	hits map[string]int
}

func (f *fakeChecker) HealthCheck(_ context.Context, addr string) (*protocol.HealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[addr]++
	if f.down[addr] {
		return nil, errors.New("connection refused")
	}
	return &protocol.HealthResponse{Status: "OK", Address: addr}, nil
}

func TestHeartbeatMarksDeadAndReelects(t *testing.T) {
	c := NewCluster(nil)
	low := NewMember("localhost:8080", protocol.RoleSlave)
	self := NewMember("localhost:8081", protocol.RoleSlave)
	c.AddMember(low)
	c.AddMember(self)
	c.ElectMaster()
	require.Equal(t, low.Addr, c.Master().Addr)

	checker := &fakeChecker{down: map[string]bool{low.Addr: true}, hits: map[string]int{}}
	hb := NewHeartbeatManager(c, checker, self.Addr, time.Hour, nil)

	hb.CheckAll()

	require.False(t, low.Alive())
	require.True(t, self.Alive())
	require.Equal(t, self.Addr, c.Master().Addr)
	require.Zero(t, checker.hits[self.Addr], "self is never probed")
	require.False(t, self.LastSeen().IsZero())
}

func TestHeartbeatStartStop(t *testing.T) {
	c := NewCluster(nil)
	c.AddMember(NewMember("localhost:8081", protocol.RoleSlave))
	checker := &fakeChecker{down: map[string]bool{}, hits: map[string]int{}}

	hb := NewHeartbeatManager(c, checker, "localhost:8081", 5*time.Millisecond, nil)
	hb.Start()
	time.Sleep(20 * time.Millisecond)
	hb.Stop()
	require.NotPanics(t, hb.Stop, "second Stop is a no-op")

	require.Equal(t, "localhost:8081", c.Master().Addr)
}
