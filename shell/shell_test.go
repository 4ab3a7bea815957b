package shell

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/sidecarshell/broker"
	"github.com/guseggert/sidecarshell/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var logger *zap.Logger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	logger = l
}

const echoScript = `while IFS= read -r line; do printf '%s\n' "$line"; done`

func newShell(t *testing.T, script string, opts ...Option) (*Shell, *Client) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	b, err := broker.New(&worker.ExecSpawner{
		Command: "sh",
		Args:    []string{"-c", script},
		Log:     logger.Sugar(),
	}, broker.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s, err := New(b, t.TempDir(), append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	go s.Serve()
	t.Cleanup(func() { require.NoError(t, s.Stop()) })

	client := NewClient(logger.Sugar(), s.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))
	return s, client
}

func requireInvokeError(t *testing.T, err error, kind string, status int) {
	t.Helper()
	var invokeErr *InvokeError
	require.True(t, errors.As(err, &invokeErr), "expected *InvokeError, got %v", err)
	assert.Equal(t, kind, invokeErr.Kind)
	assert.Equal(t, status, invokeErr.StatusCode)
}

func TestBackendCall(t *testing.T) {
	_, client := newShell(t, echoScript)
	ctx := context.Background()

	var resp string
	err := client.Invoke(ctx, "backend_call", map[string]string{"msgJson": `{"cmd":"ping"}`}, &resp)
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"ping"}`, resp)

	err = client.Invoke(ctx, "backend_call", map[string]string{"msgJson": "a\nb"}, nil)
	requireInvokeError(t, err, KindInvalidArgs, http.StatusBadRequest)

	err = client.Invoke(ctx, "no_such_command", nil, nil)
	requireInvokeError(t, err, KindUnknownCommand, http.StatusNotFound)
}

func TestBackendCallRejectsBlankPayload(t *testing.T) {
	_, client := newShell(t, echoScript)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, args := range []any{nil, map[string]string{}, map[string]string{"msgJson": ""}, map[string]string{"msgJson": " \t "}} {
		err := client.Invoke(ctx, "backend_call", args, nil)
		requireInvokeError(t, err, KindInvalidArgs, http.StatusBadRequest)
	}

	var st backendStatus
	require.NoError(t, client.Invoke(ctx, "backend_status", nil, &st))
	assert.Equal(t, int64(0), st.Spawns)
}

func TestInvalidArgsBody(t *testing.T) {
	s, _ := newShell(t, echoScript)

	resp, err := http.Post("http://"+s.Addr()+"/invoke/backend_call", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBackendFailureKinds(t *testing.T) {
	_, client := newShell(t, `read line; exit 2`)
	ctx := context.Background()

	err := client.Invoke(ctx, "backend_call", map[string]string{"msgJson": "x"}, nil)
	requireInvokeError(t, err, KindTerminated, http.StatusBadGateway)

	var st backendStatus
	require.NoError(t, client.Invoke(ctx, "backend_status", nil, &st))
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.Spawns)
}

func TestBackendStatusAndRestart(t *testing.T) {
	_, client := newShell(t, echoScript)
	ctx := context.Background()

	var st backendStatus
	require.NoError(t, client.Invoke(ctx, "backend_status", nil, &st))
	assert.False(t, st.Running)
	assert.Nil(t, st.Process)

	require.NoError(t, client.Invoke(ctx, "backend_call", map[string]string{"msgJson": "x"}, nil))

	require.NoError(t, client.Invoke(ctx, "backend_status", nil, &st))
	assert.True(t, st.Running)
	require.NotNil(t, st.Process)
	assert.Equal(t, st.PID, st.Process.PID)
	firstSession := st.SessionID

	require.NoError(t, client.Invoke(ctx, "backend_restart", nil, nil))
	require.NoError(t, client.Invoke(ctx, "backend_call", map[string]string{"msgJson": "y"}, nil))

	st = backendStatus{}
	require.NoError(t, client.Invoke(ctx, "backend_status", nil, &st))
	assert.NotEqual(t, firstSession, st.SessionID)
	assert.Equal(t, int64(2), st.Spawns)
}

func TestBranding(t *testing.T) {
	_, client := newShell(t, echoScript)
	ctx := context.Background()

	var branding map[string]any
	require.NoError(t, client.Invoke(ctx, "get_branding", nil, &branding))
	assert.Nil(t, branding)

	err := client.Invoke(ctx, "save_branding", map[string]string{"brandingJson": `{"appName":"Acme"}`}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Invoke(ctx, "get_branding", nil, &branding))
	assert.Equal(t, map[string]any{"appName": "Acme"}, branding)

	err = client.Invoke(ctx, "save_branding", map[string]string{"brandingJson": `{"appName"`}, nil)
	requireInvokeError(t, err, KindInvalidArgs, http.StatusBadRequest)

	require.NoError(t, client.Invoke(ctx, "clear_branding", nil, nil))
	branding = nil
	require.NoError(t, client.Invoke(ctx, "get_branding", nil, &branding))
	assert.Nil(t, branding)
}

func TestLogo(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nlogo")
	logoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(png)
	}))
	t.Cleanup(logoServer.Close)

	_, client := newShell(t, echoScript)
	ctx := context.Background()

	var path *string
	require.NoError(t, client.Invoke(ctx, "get_logo_path", nil, &path))
	assert.Nil(t, path)

	err := client.Invoke(ctx, "download_logo", map[string]string{}, nil)
	requireInvokeError(t, err, KindInvalidArgs, http.StatusBadRequest)

	var dataURL string
	require.NoError(t, client.Invoke(ctx, "download_logo", map[string]string{"url": logoServer.URL}, &dataURL))
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), dataURL)

	require.NoError(t, client.Invoke(ctx, "get_logo_path", nil, &path))
	require.NotNil(t, path)
	assert.True(t, strings.HasSuffix(*path, "/app_logo.png"))

	var cached string
	require.NoError(t, client.Invoke(ctx, "get_logo_data_url", nil, &cached))
	assert.Equal(t, dataURL, cached)

	// clearing branding also drops the logo
	require.NoError(t, client.Invoke(ctx, "clear_branding", nil, nil))
	path = nil
	require.NoError(t, client.Invoke(ctx, "get_logo_path", nil, &path))
	assert.Nil(t, path)
}

func TestGetPlatform(t *testing.T) {
	_, client := newShell(t, echoScript)
	var platform string
	require.NoError(t, client.Invoke(context.Background(), "get_platform", nil, &platform))
	assert.Equal(t, runtime.GOOS, platform)
}

func TestInvokeWebSocket(t *testing.T) {
	s, _ := newShell(t, echoScript)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/invoke", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	const n = 10
	for i := 0; i < n; i++ {
		frame := invokeFrame{
			ID:      fmt.Sprintf("call-%d", i),
			Command: "backend_call",
			Args:    []byte(fmt.Sprintf(`{"msgJson":"req %d"}`, i)),
		}
		require.NoError(t, wsjson.Write(ctx, conn, frame))
	}
	require.NoError(t, wsjson.Write(ctx, conn, invokeFrame{ID: "platform", Command: "get_platform"}))
	require.NoError(t, wsjson.Write(ctx, conn, invokeFrame{ID: "bad", Command: "nope"}))

	type frame struct {
		ID     string `json:"id"`
		Result any    `json:"result"`
		Error  string `json:"error"`
		Kind   string `json:"kind"`
	}
	got := map[string]frame{}
	for len(got) < n+2 {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		got[f.ID] = f
	}

	for i := 0; i < n; i++ {
		f := got[fmt.Sprintf("call-%d", i)]
		assert.Empty(t, f.Error)
		assert.Equal(t, fmt.Sprintf("req %d", i), f.Result)
	}
	assert.Equal(t, runtime.GOOS, got["platform"].Result)
	assert.Equal(t, KindUnknownCommand, got["bad"].Kind)
}

func TestInvokeWebSocketAssignsIDs(t *testing.T) {
	s, _ := newShell(t, echoScript)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/invoke", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, invokeFrame{Command: "get_platform"}))
	var f resultFrame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.NotEmpty(t, f.ID)
}

func TestCORS(t *testing.T) {
	s, _ := newShell(t, echoScript, WithAllowedOrigins("tauri.localhost"))

	req, err := http.NewRequest(http.MethodOptions, "http://"+s.Addr()+"/invoke/get_platform", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://tauri.localhost")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://tauri.localhost", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(nil, t.TempDir())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("%w: %w", broker.ErrSpawn, errors.New("no such file")), KindSpawn, http.StatusServiceUnavailable},
		{broker.ErrNoResponse, KindNoResponse, http.StatusBadGateway},
		{fmt.Errorf("%w: %w", broker.ErrCanceled, context.DeadlineExceeded), KindCanceled, http.StatusGatewayTimeout},
		{errors.New("disk full"), KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		kind, status := classify(c.err)
		assert.Equal(t, c.kind, kind, c.err.Error())
		assert.Equal(t, c.status, status, c.err.Error())
	}
}
