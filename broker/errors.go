package broker

import "errors"

var (
	// ErrSpawn means the worker process could not be started.
	ErrSpawn = errors.New("spawning backend")
	// ErrWrite means the request could not be written to the worker's stdin.
	ErrWrite = errors.New("writing request to backend")
	// ErrDecode means the response line was not valid text, or not a valid reply envelope.
	ErrDecode = errors.New("decoding backend response")
	// ErrBackendTerminated means the worker exited before responding.
	ErrBackendTerminated = errors.New("backend terminated unexpectedly")
	// ErrNoResponse means the worker's output stream ended without a response.
	ErrNoResponse = errors.New("no response from backend")
	// ErrCanceled means the call's context ended before it completed.
	ErrCanceled = errors.New("backend call canceled")
	// ErrClosed means the broker has been shut down.
	ErrClosed = errors.New("broker closed")
)
