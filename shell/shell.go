package shell

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"runtime"
	"time"

	"github.com/guseggert/sidecarshell/broker"
	"github.com/guseggert/sidecarshell/internal/branding"
	"github.com/guseggert/sidecarshell/internal/logo"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
)

// maxArgsBytes bounds a single invocation's arguments. Uploaded files travel base64-encoded inside msgJson.
const maxArgsBytes = 64 << 20

// Shell is the HTTP bridge between the UI and the host.
type Shell struct {
	logger *zap.SugaredLogger

	broker   *broker.Broker
	branding *branding.Store
	logo     *logo.Cache
	commands map[string]CommandFunc

	listenAddr     string
	allowedOrigins []string

	httpServer *http.Server
	listener   net.Listener
	listening  chan struct{}

	startedAt time.Time
}

type Option func(s *Shell)

func WithListenAddr(addr string) Option {
	return func(s *Shell) {
		s.listenAddr = addr
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Shell) {
		s.logger = l.Named("shell").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Shell) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithAllowedOrigins sets the host patterns (path.Match syntax, e.g. "tauri.localhost" or "localhost:*")
// of the UI origins allowed to call the bridge from a browser context.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Shell) {
		s.allowedOrigins = patterns
	}
}

// WithLogoCache replaces the default logo cache.
func WithLogoCache(c *logo.Cache) Option {
	return func(s *Shell) {
		s.logo = c
	}
}

// New constructs a Shell that serves b and keeps its branding and logo in dataDir.
func New(b *broker.Broker, dataDir string, opts ...Option) (*Shell, error) {
	if b == nil {
		return nil, errors.New("nil broker")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Shell{
		logger:     logger.Named("shell").Sugar(),
		broker:     b,
		branding:   &branding.Store{Dir: dataDir},
		listenAddr: "127.0.0.1:0",
		listening:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logo == nil {
		s.logo = logo.NewCache(dataDir, s.logger)
	}
	s.registerCommands()
	return s, nil
}

func (s *Shell) router() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.POST("/invoke/:command", s.invokeHTTP)
	router.GET("/invoke", s.invokeWS)
	router.HandleOPTIONS = true
	router.GlobalOPTIONS = http.HandlerFunc(s.preflight)
	return s.cors(router)
}

// Listen binds the listen address. Addr is valid once it returns.
func (s *Shell) Listen() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.listener = l
	s.httpServer = &http.Server{Handler: s.router()}
	s.startedAt = time.Now()
	close(s.listening)
	s.logger.Infow("bridge listening", "Addr", l.Addr().String())
	return nil
}

// Addr returns the bound address. It must not be called before Listen succeeds.
func (s *Shell) Addr() string {
	return s.listener.Addr().String()
}

// Serve serves on the listener bound by Listen and returns once the server has stopped.
func (s *Shell) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run listens and serves, returning once the server has stopped.
func (s *Shell) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the server. The broker is left to the caller.
func (s *Shell) Stop() error {
	select {
	case <-s.listening:
		return s.httpServer.Close()
	default:
		return nil
	}
}

func (s *Shell) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, p := range s.allowedOrigins {
		if ok, _ := path.Match(p, hostOf(origin)); ok {
			return true
		}
	}
	return false
}

func hostOf(origin string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}

func (s *Shell) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Shell) preflight(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Access-Control-Request-Method") != "" && s.originAllowed(r.Header.Get("Origin")) {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Shell) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	response := struct {
		StartedAt string
		Platform  string
		Backend   broker.Status
	}{
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		Platform:  runtime.GOOS,
		Backend:   s.broker.Status(),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *Shell) writeInvokeResponse(w http.ResponseWriter, status int, resp InvokeResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// invokeHTTP runs a single command. The request context is passed through, so a client that gives up
// on a backend_call also abandons the worker session.
func (s *Shell) invokeHTTP(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	command := params.ByName("command")
	args, err := io.ReadAll(io.LimitReader(r.Body, maxArgsBytes+1))
	if err != nil {
		s.writeInvokeResponse(w, http.StatusBadRequest, InvokeResponse{Error: err.Error(), Kind: KindInvalidArgs})
		return
	}
	if len(args) > maxArgsBytes {
		s.writeInvokeResponse(w, http.StatusRequestEntityTooLarge, InvokeResponse{Error: "arguments too large", Kind: KindInvalidArgs})
		return
	}

	start := time.Now()
	result, err := s.invoke(r.Context(), command, args)
	s.logger.Debugw("invoked command", "Command", command, "Duration", time.Since(start), "Error", err)
	if err != nil {
		kind, status := classify(err)
		s.writeInvokeResponse(w, status, InvokeResponse{Error: err.Error(), Kind: kind})
		return
	}

	b, err := json.Marshal(result)
	if err != nil {
		s.writeInvokeResponse(w, http.StatusInternalServerError, InvokeResponse{Error: err.Error(), Kind: KindInternal})
		return
	}
	s.writeInvokeResponse(w, http.StatusOK, InvokeResponse{Result: b})
}

func (s *Shell) invokeWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.allowedOrigins,
	}
	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(maxArgsBytes)
	s.logger.Debug("accepted WebSocket conn")

	session := &invokeSession{
		log:   s.logger.Named("invoke_ws"),
		conn:  wsConn,
		shell: s,
	}
	session.run(r.Context())
}
