package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultEventBuffer = 64
	defaultReapTimeout  = 5 * time.Second
	defaultDrainTimeout = 500 * time.Millisecond
)

// ErrClosed is returned when writing to a Handle that has been closed.
var ErrClosed = errors.New("worker handle closed")

// ExecSpawner spawns the worker as a local child process.
type ExecSpawner struct {
	Command string
	Args    []string
	// Env is appended to the host environment.
	Env []string
	WD  string

	Log *zap.SugaredLogger

	// EventBuffer is the capacity of each Handle's event channel. Defaults to 64.
	EventBuffer int
	// ReapTimeout bounds how long Close waits for the process to be reaped after killing it. Defaults to 5s.
	ReapTimeout time.Duration
	// DrainTimeout bounds how long output is read after the worker exits. Descendants still holding
	// its stdout or stderr are killed once it elapses. Defaults to 500ms.
	DrainTimeout time.Duration
}

func (s *ExecSpawner) Spawn(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Command == "" {
		return nil, errors.New("no worker command configured")
	}

	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	bufSize := s.EventBuffer
	if bufSize <= 0 {
		bufSize = defaultEventBuffer
	}
	reapTimeout := s.ReapTimeout
	if reapTimeout <= 0 {
		reapTimeout = defaultReapTimeout
	}
	drainTimeout := s.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}

	// The process outlives the spawn request, so it is not bound to ctx.
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.WD
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	setProcessGroup(cmd)

	var files []io.Closer
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	files = append(files, stdin)
	// Output pipes are plain files rather than StdoutPipe/StderrPipe, so that Wait neither closes them
	// before they are drained nor blocks on descendants that inherited the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	files = append(files, stdoutR, stdoutW)
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	files = append(files, stderrR, stderrW)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, fmt.Errorf("starting %q: %w", s.Command, err)
	}
	// the child holds its own copies
	_ = stdoutW.Close()
	_ = stderrW.Close()

	id := uuid.New().String()
	h := &execHandle{
		id:           id,
		cmd:          cmd,
		log:          log.With("Session", id, "PID", cmd.Process.Pid),
		stdin:        stdin,
		events:       make(chan Event, bufSize),
		closing:      make(chan struct{}),
		exited:       make(chan struct{}),
		stdout:       stdoutR,
		stderr:       stderrR,
		readersDone:  make(chan struct{}),
		reapTimeout:  reapTimeout,
		drainTimeout: drainTimeout,
	}
	h.log.Debugw("worker started", "Command", s.Command, "Args", s.Args)

	h.readers.Add(2)
	go h.readStdout(stdoutR)
	go h.readStderr(stderrR)
	go func() {
		h.readers.Wait()
		_ = stdoutR.Close()
		_ = stderrR.Close()
		close(h.readersDone)
	}()
	go h.waitAndSendExit()

	return h, nil
}

type execHandle struct {
	id  string
	cmd *exec.Cmd
	log *zap.SugaredLogger

	stdinMut sync.Mutex
	stdin    io.WriteCloser

	events chan Event

	stdout, stderr *os.File
	readers        sync.WaitGroup
	readersDone    chan struct{}
	drainTimeout   time.Duration

	closeOnce   sync.Once
	closing     chan struct{}
	exited      chan struct{}
	reapTimeout time.Duration
}

func (h *execHandle) ID() string           { return h.id }
func (h *execHandle) PID() int             { return h.cmd.Process.Pid }
func (h *execHandle) Events() <-chan Event { return h.events }

func (h *execHandle) Write(b []byte) error {
	select {
	case <-h.closing:
		return ErrClosed
	default:
	}
	h.stdinMut.Lock()
	defer h.stdinMut.Unlock()
	_, err := h.stdin.Write(b)
	return err
}

func (h *execHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closing)
		h.stdinMut.Lock()
		_ = h.stdin.Close()
		h.stdinMut.Unlock()
		if err := killProcessGroup(h.cmd); err != nil {
			h.log.Debugf("error killing worker: %s", err)
		}
	})
	select {
	case <-h.exited:
		return nil
	case <-time.After(h.reapTimeout):
		return fmt.Errorf("worker %d not reaped after %s", h.PID(), h.reapTimeout)
	}
}

// send delivers an event unless the handle is being torn down.
func (h *execHandle) send(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.closing:
		return false
	}
}

func (h *execHandle) readStdout(r io.Reader) {
	defer h.readers.Done()
	err := readLines(r, func(line []byte) bool {
		return h.send(Event{Kind: EventOutputLine, Line: line})
	})
	h.log.Debugw("stdout reader done", "Error", err)
}

func (h *execHandle) readStderr(r io.Reader) {
	defer h.readers.Done()
	err := readLines(r, func(line []byte) bool {
		h.log.Infow("worker stderr", "Line", string(line))
		select {
		case h.events <- Event{Kind: EventErrorLine, Line: line}:
		default:
			h.log.Debug("event buffer full, dropping stderr line")
		}
		return true
	})
	h.log.Debugw("stderr reader done", "Error", err)
}

// waitAndSendExit reaps the process, then waits for both output streams to drain so that Terminated is always the last event.
// Descendants that inherited the output pipes are killed if the streams are still open after the drain timeout.
func (h *execHandle) waitAndSendExit() {
	defer close(h.exited)
	defer close(h.events)

	err := h.cmd.Wait()

	exit := ExitInfo{Code: -1}
	if state := h.cmd.ProcessState; state != nil {
		exit.Code = state.ExitCode()
		exit.Status = state.String()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			h.log.Debugf("unexpected wait error: %s", err)
		}
	}
	h.log.Debugw("worker exited", "Status", exit.String())

	select {
	case <-h.readersDone:
	case <-time.After(h.drainTimeout):
		h.log.Debugw("output still open after worker exit, killing its process group", "DrainTimeout", h.drainTimeout)
		if err := killProcessGroup(h.cmd); err != nil {
			h.log.Debugf("error killing process group: %s", err)
		}
		_ = h.stdout.Close()
		_ = h.stderr.Close()
		<-h.readersDone
	}
	h.send(Event{Kind: EventTerminated, Exit: &exit})
}

// readLines calls fn for every newline-delimited line in r, with the delimiter and any trailing \r removed.
// A final unterminated line is delivered too. Reading stops early when fn returns false.
func readLines(r io.Reader, fn func(line []byte) bool) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if err == nil || len(line) > 0 {
				if !fn(line) {
					// keep draining so the worker never blocks on a full pipe
					_, _ = io.Copy(io.Discard, br)
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
