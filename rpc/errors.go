package rpc

import (
	"errors"
	"net/http"

	"commitvault/core/state"
	"commitvault/native/commitment"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

// Commitment error codes. Each engine outcome has its own code; clients
// rely on them being distinct.
const (
	CodeUnauthorized      = -32031
	CodeAlreadyResolved   = -32032
	CodeDeadlinePassed    = -32033
	CodeNotExpiredYet     = -32034
	CodeNotFound          = -32035
	CodeInvalidParams     = -32036
	CodeInsufficientFunds = -32037
	CodeConflict          = -32038
	CodeInternal          = -32039
	CodeRateLimited       = -32040
)

const (
	codeUnauthorized  = CodeUnauthorized
	codeInvalidParams = CodeInvalidParams
	codeRateLimited   = CodeRateLimited
)

type mappedError struct {
	status  int
	code    int
	message string
}

func classify(err error) mappedError {
	switch {
	case errors.Is(err, commitment.ErrUnauthorized):
		return mappedError{http.StatusForbidden, CodeUnauthorized, "unauthorized"}
	case errors.Is(err, commitment.ErrAlreadyResolved):
		return mappedError{http.StatusConflict, CodeAlreadyResolved, "already_resolved"}
	case errors.Is(err, commitment.ErrDeadlinePassed):
		return mappedError{http.StatusConflict, CodeDeadlinePassed, "deadline_passed"}
	case errors.Is(err, commitment.ErrNotExpiredYet):
		return mappedError{http.StatusConflict, CodeNotExpiredYet, "not_expired_yet"}
	case errors.Is(err, commitment.ErrNotFound):
		return mappedError{http.StatusNotFound, CodeNotFound, "not_found"}
	case errors.Is(err, commitment.ErrInvalidAmount),
		errors.Is(err, commitment.ErrInvalidDeadline),
		errors.Is(err, commitment.ErrInvalidDescription),
		errors.Is(err, commitment.ErrInvalidArbiter),
		errors.Is(err, commitment.ErrInvalidAction):
		return mappedError{http.StatusBadRequest, CodeInvalidParams, "invalid_params"}
	case errors.Is(err, state.ErrInsufficientFunds):
		return mappedError{http.StatusConflict, CodeInsufficientFunds, "insufficient_funds"}
	case errors.Is(err, commitment.ErrDefinitionMismatch):
		return mappedError{http.StatusConflict, CodeConflict, "conflict"}
	default:
		return mappedError{http.StatusInternalServerError, CodeInternal, "internal_error"}
	}
}

func writeCommitmentError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	mapped := classify(err)
	writeError(w, mapped.status, id, mapped.code, mapped.message, err.Error())
}
