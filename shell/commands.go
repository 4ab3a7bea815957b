package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/guseggert/sidecarshell/broker"
	"github.com/guseggert/sidecarshell/codec"
	"github.com/guseggert/sidecarshell/worker"
)

// CommandFunc handles one invocation. args is the raw JSON argument object, possibly empty.
type CommandFunc func(ctx context.Context, args json.RawMessage) (any, error)

var (
	errUnknownCommand = errors.New("unknown command")
	errInvalidArgs    = errors.New("invalid arguments")
)

// Error kinds reported to the UI so it can tell backend failures apart without parsing messages.
const (
	KindSpawn          = "spawn"
	KindWrite          = "write"
	KindDecode         = "decode"
	KindTerminated     = "terminated"
	KindNoResponse     = "no_response"
	KindCanceled       = "canceled"
	KindClosed         = "closed"
	KindInvalidArgs    = "invalid_args"
	KindUnknownCommand = "unknown_command"
	KindInternal       = "internal"
)

var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{broker.ErrSpawn, KindSpawn, http.StatusServiceUnavailable},
	{broker.ErrWrite, KindWrite, http.StatusBadGateway},
	{broker.ErrDecode, KindDecode, http.StatusBadGateway},
	{broker.ErrBackendTerminated, KindTerminated, http.StatusBadGateway},
	{broker.ErrNoResponse, KindNoResponse, http.StatusBadGateway},
	{broker.ErrCanceled, KindCanceled, http.StatusGatewayTimeout},
	{broker.ErrClosed, KindClosed, http.StatusServiceUnavailable},
	{errInvalidArgs, KindInvalidArgs, http.StatusBadRequest},
	{errUnknownCommand, KindUnknownCommand, http.StatusNotFound},
}

// classify maps an invocation error to its kind and HTTP status.
func classify(err error) (string, int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s", errInvalidArgs, err)
	}
	return nil
}

func (s *Shell) registerCommands() {
	s.commands = map[string]CommandFunc{
		"backend_call":      s.backendCall,
		"backend_status":    s.backendStatus,
		"backend_restart":   s.backendRestart,
		"get_branding":      s.getBranding,
		"save_branding":     s.saveBranding,
		"clear_branding":    s.clearBranding,
		"download_logo":     s.downloadLogo,
		"get_logo_path":     s.getLogoPath,
		"get_logo_data_url": s.getLogoDataURL,
		"get_platform":      s.getPlatform,
	}
}

func (s *Shell) invoke(ctx context.Context, command string, args json.RawMessage) (any, error) {
	f, ok := s.commands[command]
	if !ok {
		return nil, fmt.Errorf("%w %q", errUnknownCommand, command)
	}
	return f(ctx, args)
}

func (s *Shell) backendCall(ctx context.Context, raw json.RawMessage) (any, error) {
	var args backendCallArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	// The worker skips blank lines without replying.
	if strings.TrimSpace(args.MsgJSON) == "" {
		return nil, fmt.Errorf("%w: msgJson is empty", errInvalidArgs)
	}
	// A line break would split one request into two and desync every later response.
	payload, err := codec.EncodeRaw(args.MsgJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: msgJson: %s", errInvalidArgs, err)
	}
	return s.broker.Call(ctx, payload)
}

type backendStatus struct {
	broker.Status
	Process *worker.Stats `json:"process,omitempty"`
}

func (s *Shell) backendStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	st := backendStatus{Status: s.broker.Status()}
	if st.Running {
		stats, err := worker.ProcessStats(ctx, st.PID)
		if err != nil {
			s.logger.Debugw("error reading backend process stats", "PID", st.PID, "Error", err)
		} else {
			st.Process = &stats
		}
	}
	return st, nil
}

func (s *Shell) backendRestart(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, s.broker.Restart(ctx)
}

func (s *Shell) getBranding(ctx context.Context, _ json.RawMessage) (any, error) {
	b, err := s.branding.Get()
	if err != nil || b == nil {
		return nil, err
	}
	return b, nil
}

func (s *Shell) saveBranding(ctx context.Context, raw json.RawMessage) (any, error) {
	var args saveBrandingArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(args.BrandingJSON)) {
		return nil, fmt.Errorf("%w: brandingJson is not valid JSON", errInvalidArgs)
	}
	return nil, s.branding.Save(args.BrandingJSON)
}

func (s *Shell) clearBranding(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, s.branding.Clear()
}

func (s *Shell) downloadLogo(ctx context.Context, raw json.RawMessage) (any, error) {
	var args downloadLogoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.URL == "" {
		return nil, fmt.Errorf("%w: url is required", errInvalidArgs)
	}
	return s.logo.Download(ctx, args.URL)
}

func (s *Shell) getLogoPath(ctx context.Context, _ json.RawMessage) (any, error) {
	p, ok := s.logo.Path()
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (s *Shell) getLogoDataURL(ctx context.Context, _ json.RawMessage) (any, error) {
	u, ok, err := s.logo.DataURL()
	if err != nil || !ok {
		return nil, err
	}
	return u, nil
}

func (s *Shell) getPlatform(ctx context.Context, _ json.RawMessage) (any, error) {
	return runtime.GOOS, nil
}
