package app

import (
	"strings"
	"time"
)

// Operation identifies one CLI invocation. Its ID tags every log line the
// run writes so interleaved runs (a `serve` process next to CLI commands)
// can be told apart in the shared log file.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
	Err       string
}

// NewOperation creates an operation named after the CLI command being run.
func NewOperation(name string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z") + "-" + strings.ToLower(name),
		Name:      name,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed. The first failure wins.
func (op *Operation) Fail(err error) {
	if err == nil || op.Status == "error" {
		return
	}
	op.Status = "error"
	op.Err = err.Error()
}

// Failed reports whether Fail has been called with an error.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}
