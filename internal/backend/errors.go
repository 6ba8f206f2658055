package backend

import (
	"context"
	"errors"
	"net/http"

	"cloudsync/internal/syncer"
)

// classifyStatus maps an HTTP status returned by a cloud API onto the
// transient/permanent split the orchestrator retries on.
func classifyStatus(kind syncer.BackendKind, op string, status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return syncer.TransientError(kind, op, err)
	case status >= 400:
		return syncer.PermanentError(kind, op, err)
	}
	return classify(kind, op, err)
}

// classify handles errors that carry no HTTP status. A canceled context is
// permanent for this attempt; timeouts, network failures and anything else
// are retried.
func classify(kind syncer.BackendKind, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return syncer.PermanentError(kind, op, err)
	}
	return syncer.TransientError(kind, op, err)
}
