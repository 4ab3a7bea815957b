package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/guseggert/sidecarshell/codec"
	"github.com/guseggert/sidecarshell/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/semaphore"
)

// Broker owns at most one worker session and funnels every call through it, one at a time.
// A Broker is safe for concurrent use.
type Broker struct {
	log         *zap.SugaredLogger
	spawner     worker.Spawner
	callTimeout time.Duration

	// gate serializes calls and guards every write to session.
	gate *semaphore.Weighted
	// session is nil when no worker is running. It is only swapped with gate held,
	// but may be loaded without it for status reporting.
	session atomic.Pointer[session]
	closed  atomic.Bool

	spawns atomic.Int64
	calls  atomic.Int64
}

type session struct {
	handle    worker.Handle
	startedAt time.Time
}

type Option func(b *Broker)

func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) {
		b.log = l.Named("broker").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(b *Broker) {
		b.log = b.log.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithCallTimeout bounds calls whose context has no deadline. Zero, the default, waits indefinitely.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.callTimeout = d
	}
}

// New constructs a Broker. No worker is spawned until the first call.
func New(spawner worker.Spawner, opts ...Option) (*Broker, error) {
	if spawner == nil {
		return nil, errors.New("nil spawner")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	b := &Broker{
		log:     logger.Named("broker").Sugar(),
		spawner: spawner,
		gate:    semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Call sends one request line to the worker and returns the first stdout line written after it.
// The payload is opaque and must not contain a line break; use Invoke for typed requests.
func (b *Broker) Call(ctx context.Context, payload string) (string, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	if b.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
			defer cancel()
		}
	}

	if err := b.gate.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for backend: %w", ErrCanceled, err)
	}
	defer b.gate.Release(1)

	if b.closed.Load() {
		return "", ErrClosed
	}

	s, err := b.ensureWorker(ctx)
	if err != nil {
		return "", err
	}
	return b.exchange(ctx, s, payload)
}

// Invoke encodes req as a request line, calls the worker, and decodes the reply envelope into result.
// A reply with ok=false is returned as a *codec.ReplyError.
func (b *Broker) Invoke(ctx context.Context, req any, result any) error {
	line, err := codec.Encode(req)
	if err != nil {
		return err
	}
	resp, err := b.Call(ctx, line)
	if err != nil {
		return err
	}
	err = codec.Decode(resp, result)
	var replyErr *codec.ReplyError
	if err != nil && !errors.As(err, &replyErr) {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return err
}

// ensureWorker returns the live session, spawning a worker if there is none. The gate must be held.
func (b *Broker) ensureWorker(ctx context.Context) (*session, error) {
	if s := b.session.Load(); s != nil {
		return s, nil
	}
	b.log.Debug("no backend running, spawning")
	h, err := b.spawner.Spawn(ctx)
	if err != nil {
		b.log.Infow("error spawning backend", "Error", err)
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	s := &session{handle: h, startedAt: time.Now()}
	b.session.Store(s)
	b.spawns.Add(1)
	b.log.Infow("backend started", "Session", h.ID(), "PID", h.PID())
	return s, nil
}

// exchange writes one request and waits for its response. The gate must be held.
func (b *Broker) exchange(ctx context.Context, s *session, payload string) (string, error) {
	// Nothing has been written yet, so the session is still in a known state.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')
	if err := s.handle.Write(line); err != nil {
		b.invalidate(s, "write failed")
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	events := s.handle.Events()
	for {
		select {
		case <-ctx.Done():
			// The worker may still answer later, which would desync the next call.
			b.invalidate(s, "call canceled")
			return "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				b.invalidate(s, "output stream closed")
				return "", ErrNoResponse
			}
			switch ev.Kind {
			case worker.EventOutputLine:
				b.calls.Add(1)
				if !utf8.Valid(ev.Line) {
					return "", fmt.Errorf("%w: response is not valid UTF-8", ErrDecode)
				}
				return string(ev.Line), nil
			case worker.EventErrorLine:
				b.log.Debugw("backend stderr", "Session", s.handle.ID(), "Line", string(ev.Line))
			case worker.EventTerminated:
				b.invalidate(s, "terminated")
				if ev.Exit != nil {
					return "", fmt.Errorf("%w (%s)", ErrBackendTerminated, ev.Exit)
				}
				return "", ErrBackendTerminated
			default:
				b.log.Debugw("ignoring backend event", "Kind", ev.Kind)
			}
		}
	}
}

// invalidate drops s if it is still the current session and releases its process.
func (b *Broker) invalidate(s *session, reason string) {
	if !b.session.CompareAndSwap(s, nil) {
		return
	}
	b.log.Infow("backend session ended", "Session", s.handle.ID(), "PID", s.handle.PID(), "Reason", reason)
	if err := s.handle.Close(); err != nil {
		b.log.Debugw("error closing backend", "Session", s.handle.ID(), "Error", err)
	}
}

// Restart tears down the current worker, if any. The next call spawns a new one.
func (b *Broker) Restart(ctx context.Context) error {
	if err := b.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for backend: %w", ErrCanceled, err)
	}
	defer b.gate.Release(1)
	if s := b.session.Load(); s != nil {
		b.invalidate(s, "restart requested")
	}
	return nil
}

// Close kills the worker and rejects further calls.
// A call blocked on the worker's response fails once the worker is gone.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	var err error
	if s := b.session.Load(); s != nil {
		err = s.handle.Close()
	}
	// Wait for any in-flight call to observe the exit before clearing state.
	if acqErr := b.gate.Acquire(context.Background(), 1); acqErr != nil {
		return acqErr
	}
	defer b.gate.Release(1)
	if s := b.session.Load(); s != nil {
		b.invalidate(s, "broker closed")
	}
	return err
}

// Status is a snapshot of the broker's state.
type Status struct {
	Running   bool      `json:"running"`
	SessionID string    `json:"sessionId,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Spawns    int64     `json:"spawns"`
	Calls     int64     `json:"calls"`
}

// Status reports the current session without waiting for in-flight calls.
func (b *Broker) Status() Status {
	st := Status{
		Spawns: b.spawns.Load(),
		Calls:  b.calls.Load(),
	}
	if s := b.session.Load(); s != nil {
		st.Running = true
		st.SessionID = s.handle.ID()
		st.PID = s.handle.PID()
		st.StartedAt = s.startedAt
	}
	return st
}
