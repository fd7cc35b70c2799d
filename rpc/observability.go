package rpc

import (
	"time"

	"commitvault/observability"
)

const (
	methodLabelInvalid = "invalid_request"
	methodLabelUnknown = "unknown_method"
)

func observeRequest(method string, status int, duration time.Duration) {
	observability.ModuleMetrics().Observe("commitment", method, status, duration)
}
