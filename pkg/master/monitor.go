package master

import "github.com/baxromumarov/ha-master/pkg/protocol"

// Monitor observes coordinator events. It is passed in at construction and
// must not block.
type Monitor interface {
	TxAdmitted(key protocol.ContextKey)
	TxRejected(key protocol.ContextKey, code protocol.ErrorCode)
	TxFinished(key protocol.ContextKey, committed bool, err error)
	TxReaped(key protocol.ContextKey)
}

type nopMonitor struct{}

func (nopMonitor) TxAdmitted(protocol.ContextKey)                   {}
func (nopMonitor) TxRejected(protocol.ContextKey, protocol.ErrorCode) {}
func (nopMonitor) TxFinished(protocol.ContextKey, bool, error)      {}
func (nopMonitor) TxReaped(protocol.ContextKey)                     {}
