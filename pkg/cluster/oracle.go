package cluster

// Oracle answers whether the local member may coordinate transactions:
// it must be the elected master and currently alive.
type Oracle struct {
	cluster *Cluster
	self    string
}

// NewOracle creates an oracle for the member at self
func NewOracle(c *Cluster, self string) *Oracle {
	return &Oracle{cluster: c, self: self}
}

// IsAccessible takes only read locks and has no side effects.
func (o *Oracle) IsAccessible() bool {
	return o.cluster.IsMaster(o.self)
}
