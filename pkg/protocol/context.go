package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyDataSource     = errors.New("data source name is empty")
	ErrDuplicateDataSource = errors.New("data source listed more than once")
	ErrNegativeTxID        = errors.New("transaction id is negative")
	ErrNegativeEventID     = errors.New("event identifier is negative")
)

// Tx is the last transaction a slave applied for one data source.
type Tx struct {
	DataSource string `json:"data_source"`
	TxID       int64  `json:"tx_id"`
}

// ContextKey identifies a request in the transaction registry.
type ContextKey struct {
	SessionID       int64
	EventIdentifier int64
}

func (k ContextKey) String() string {
	return fmt.Sprintf("%d/%d", k.SessionID, k.EventIdentifier)
}

// RequestContext is the causal position and identity of one slave request.
// It is immutable once created: the last-applied slice is copied on the way
// in and on the way out.
type RequestContext struct {
	sessionID       int64
	machineID       int32
	eventIdentifier int64
	lastApplied     []Tx
	masterID        int32
	checksum        int64
}

// NewRequestContext builds a RequestContext.
func NewRequestContext(sessionID int64, machineID int32, eventIdentifier int64, lastApplied []Tx, masterID int32, checksum int64) RequestContext {
	return RequestContext{
		sessionID:       sessionID,
		machineID:       machineID,
		eventIdentifier: eventIdentifier,
		lastApplied:     copyTxs(lastApplied),
		masterID:        masterID,
		checksum:        checksum,
	}
}

func (rc RequestContext) SessionID() int64       { return rc.sessionID }
func (rc RequestContext) MachineID() int32       { return rc.machineID }
func (rc RequestContext) EventIdentifier() int64 { return rc.eventIdentifier }
func (rc RequestContext) MasterID() int32        { return rc.masterID }
func (rc RequestContext) Checksum() int64        { return rc.checksum }

// LastApplied returns a copy of the last-applied transactions.
func (rc RequestContext) LastApplied() []Tx {
	return copyTxs(rc.lastApplied)
}

// Key returns the registry key. Two contexts with the same session and
// event identifier are the same request regardless of their other fields.
func (rc RequestContext) Key() ContextKey {
	return ContextKey{SessionID: rc.sessionID, EventIdentifier: rc.eventIdentifier}
}

// Validate checks the context is well formed. It does not judge causal
// consistency of the last-applied transactions.
func (rc RequestContext) Validate() error {
	if rc.eventIdentifier < 0 {
		return ErrNegativeEventID
	}
	seen := make(map[string]struct{}, len(rc.lastApplied))
	for _, tx := range rc.lastApplied {
		if tx.DataSource == "" {
			return ErrEmptyDataSource
		}
		if tx.TxID < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeTxID, tx.DataSource, tx.TxID)
		}
		if _, dup := seen[tx.DataSource]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDataSource, tx.DataSource)
		}
		seen[tx.DataSource] = struct{}{}
	}
	return nil
}

func (rc RequestContext) String() string {
	return fmt.Sprintf("RequestContext[session:%d, machine:%d, event:%d, master:%d, txs:%d]",
		rc.sessionID, rc.machineID, rc.eventIdentifier, rc.masterID, len(rc.lastApplied))
}

type wireContext struct {
	SessionID       int64 `json:"session_id"`
	MachineID       int32 `json:"machine_id"`
	EventIdentifier int64 `json:"event_identifier"`
	LastApplied     []Tx  `json:"last_applied"`
	MasterID        int32 `json:"master_id"`
	Checksum        int64 `json:"checksum"`
}

func (rc RequestContext) MarshalJSON() ([]byte, error) {
	txs := rc.lastApplied
	if txs == nil {
		txs = []Tx{}
	}
	return json.Marshal(wireContext{
		SessionID:       rc.sessionID,
		MachineID:       rc.machineID,
		EventIdentifier: rc.eventIdentifier,
		LastApplied:     txs,
		MasterID:        rc.masterID,
		Checksum:        rc.checksum,
	})
}

func (rc *RequestContext) UnmarshalJSON(data []byte) error {
	var w wireContext
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*rc = NewRequestContext(w.SessionID, w.MachineID, w.EventIdentifier, w.LastApplied, w.MasterID, w.Checksum)
	return nil
}

func copyTxs(txs []Tx) []Tx {
	if len(txs) == 0 {
		return nil
	}
	out := make([]Tx, len(txs))
	copy(out, txs)
	return out
}
