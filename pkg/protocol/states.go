package protocol

// NodeRole represents the role of a node in the cluster
type NodeRole string

const (
	RoleMaster NodeRole = "MASTER"
	RoleSlave  NodeRole = "SLAVE"
)

// ErrorCode is the stable reason code a slave sees for a transaction request.
// Values are part of the wire contract and must not be renamed.
type ErrorCode string

const (
	CodeOK                 ErrorCode = "OK"
	CodeNotAccessible      ErrorCode = "NOT_ACCESSIBLE"
	CodeBeginFailed        ErrorCode = "BEGIN_FAILED"
	CodeUnknownTransaction ErrorCode = "UNKNOWN_TRANSACTION"
	CodeFinishFailed       ErrorCode = "FINISH_FAILED"
	CodeBadRequest         ErrorCode = "BAD_REQUEST"
)

// Retryable reports whether a slave may retry the same request later,
// possibly against a different master.
func (c ErrorCode) Retryable() bool {
	return c == CodeNotAccessible
}
