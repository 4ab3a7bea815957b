package worker

import (
	"context"
	"fmt"
)

type EventKind int

const (
	EventOutputLine EventKind = iota + 1
	EventErrorLine
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventOutputLine:
		return "stdout"
	case EventErrorLine:
		return "stderr"
	case EventTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one unit of output from the worker.
// Line is set for EventOutputLine and EventErrorLine, without the line delimiter.
// Exit is set for EventTerminated.
type Event struct {
	Kind EventKind
	Line []byte
	Exit *ExitInfo
}

// ExitInfo describes how the worker exited.
type ExitInfo struct {
	// Code is the exit code, or -1 if the process was killed by a signal.
	Code int
	// Status is the human readable wait status, e.g. "exit status 1" or "signal: killed".
	Status string
}

func (e ExitInfo) String() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Handle is one live worker process.
type Handle interface {
	// ID uniquely identifies this spawn. It is never reused.
	ID() string
	PID() int
	// Write writes raw bytes to the worker's stdin.
	Write(b []byte) error
	// Events returns the worker's output stream. It is closed after the last event.
	Events() <-chan Event
	// Close closes stdin, kills the process if it is still running, and waits for it to be reaped.
	// It is safe to call more than once.
	Close() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context) (Handle, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context) (Handle, error)

func (f SpawnerFunc) Spawn(ctx context.Context) (Handle, error) { return f(ctx) }
