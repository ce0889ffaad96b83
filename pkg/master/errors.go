package master

import (
	"errors"
	"fmt"

	"github.com/baxromumarov/ha-master/pkg/protocol"
)

// FailureKind is the closed set of reasons a coordinator call can fail.
type FailureKind int

const (
	NotAccessible FailureKind = iota + 1
	BeginFailed
	FinishFailed
)

func (k FailureKind) String() string {
	switch k {
	case NotAccessible:
		return "not accessible"
	case BeginFailed:
		return "begin failed"
	case FinishFailed:
		return "finish failed"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Code maps the kind to its wire error code.
func (k FailureKind) Code() protocol.ErrorCode {
	switch k {
	case NotAccessible:
		return protocol.CodeNotAccessible
	case BeginFailed:
		return protocol.CodeBeginFailed
	default:
		return protocol.CodeFinishFailed
	}
}

var (
	// Kind sentinels, matched with errors.Is against a *Failure.
	ErrNotAccessible = errors.New("master is not accessible for new transactions")
	ErrBeginFailed   = errors.New("unable to begin transaction")
	ErrFinishFailed  = errors.New("unable to finish transaction")

	ErrDuplicateRequest   = errors.New("a transaction is already registered for this request")
	ErrNilHandle          = errors.New("backend returned neither a transaction nor an error")
	ErrUnknownTransaction = errors.New("no transaction registered for this request")
)

// Failure is the only error type the coordinator returns for a failed call.
// Cause carries the underlying error for diagnostics; callers branch on Kind.
type Failure struct {
	Kind  FailureKind
	Key   protocol.ContextKey
	Cause error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s for request %s", f.sentinel().Error(), f.Key)
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Cause }

// Is matches the kind sentinel, so errors.Is(err, ErrNotAccessible) works
// without unwrapping into the cause.
func (f *Failure) Is(target error) bool {
	return target == f.sentinel()
}

func (f *Failure) sentinel() error {
	switch f.Kind {
	case NotAccessible:
		return ErrNotAccessible
	case BeginFailed:
		return ErrBeginFailed
	default:
		return ErrFinishFailed
	}
}

// KindOf returns the failure kind of err, or zero if err is not a *Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// CodeOf maps any error returned by the coordinator to a wire code.
func CodeOf(err error) protocol.ErrorCode {
	if err == nil {
		return protocol.CodeOK
	}
	if errors.Is(err, ErrUnknownTransaction) {
		return protocol.CodeUnknownTransaction
	}
	if k := KindOf(err); k != 0 {
		return k.Code()
	}
	return protocol.CodeBeginFailed
}
