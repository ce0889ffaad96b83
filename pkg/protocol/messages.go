package protocol

import "time"

// InitializeTxRequest asks the master to begin a transaction for a slave
type InitializeTxRequest struct {
	Context RequestContext `json:"context"`
}

// FinishTxRequest asks the master to commit or roll back the transaction
// previously initialized for the same context key.
type FinishTxRequest struct {
	Context RequestContext `json:"context"`
	Success bool           `json:"success"`
}

// TxResponse is returned for both initialize and finish requests
type TxResponse struct {
	Code          ErrorCode `json:"code"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// OK reports whether the master acknowledged the request.
func (r *TxResponse) OK() bool {
	return r != nil && r.Code == CodeOK
}

// ActiveTx describes one registered master-local transaction
type ActiveTx struct {
	SessionID       int64     `json:"session_id"`
	EventIdentifier int64     `json:"event_identifier"`
	MachineID       int32     `json:"machine_id"`
	TransactionID   string    `json:"transaction_id"`
	AdmittedAt      time.Time `json:"admitted_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// ActiveTxResponse lists registered transactions
type ActiveTxResponse struct {
	Transactions []ActiveTx `json:"transactions"`
	Total        int        `json:"total"`
}

// HealthResponse is returned by health check endpoint
type HealthResponse struct {
	Status     string `json:"status"`
	Address    string `json:"address"`
	Role       string `json:"role"`
	Accessible bool   `json:"accessible"`
}

// RoleResponse returns the current role of the node
type RoleResponse struct {
	Role    string `json:"role"`
	Address string `json:"address"`
}

// NodeInfo is one member as seen by the answering node
type NodeInfo struct {
	Address  string    `json:"address"`
	Role     string    `json:"role"`
	Alive    bool      `json:"alive"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// ClusterInfoResponse describes cluster membership
type ClusterInfoResponse struct {
	MasterAddr string     `json:"master_addr"`
	Nodes      []NodeInfo `json:"nodes"`
	Generated  time.Time  `json:"generated_at"`
}
