package types

import (
	"context"
)

// Context is handed to every Action. It is the run context plus the
// identity of the run and of the task being executed.
type Context interface {
	context.Context

	GetRunID() string
	GetTaskPath() string
}
