package commitment

import (
	"errors"
	"fmt"
	"net/http"

	"commitvault/core/state"
	core "commitvault/native/commitment"
	"commitvault/rpc"
)

// ErrTransport wraps failures to reach the server or read its reply.
var ErrTransport = errors.New("commitment client: transport failure")

// RPCError is a JSON-RPC error reply. It matches the engine sentinels with
// errors.Is so callers can branch on protocol outcomes.
type RPCError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d %s", e.Code, e.Message)
}

// Is maps the reply code onto the sentinel errors of the engine and ledger.
func (e *RPCError) Is(target error) bool {
	switch e.Code {
	case rpc.CodeUnauthorized:
		return target == core.ErrUnauthorized
	case rpc.CodeAlreadyResolved:
		return target == core.ErrAlreadyResolved
	case rpc.CodeDeadlinePassed:
		return target == core.ErrDeadlinePassed
	case rpc.CodeNotExpiredYet:
		return target == core.ErrNotExpiredYet
	case rpc.CodeNotFound:
		return target == core.ErrNotFound
	case rpc.CodeInsufficientFunds:
		return target == state.ErrInsufficientFunds
	case rpc.CodeConflict:
		return target == core.ErrDefinitionMismatch
	}
	return false
}

// Retryable reports whether err is an infrastructure failure worth resending.
// Throttled requests count as infrastructure failures; protocol rejections
// are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == rpc.CodeInternal ||
			rpcErr.Code == rpc.CodeRateLimited ||
			rpcErr.HTTPStatus == http.StatusTooManyRequests ||
			rpcErr.HTTPStatus >= http.StatusInternalServerError
	}
	return false
}
