package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/sidecarshell/broker"
	"github.com/guseggert/sidecarshell/internal/appdir"
	"github.com/guseggert/sidecarshell/internal/config"
	"github.com/guseggert/sidecarshell/shell"
	"github.com/guseggert/sidecarshell/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a YAML config file. Flags override its values.",
		},
		&cli.StringFlag{
			Name:  "app-id",
			Usage: "The application identifier, used to name the per-user data directory.",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Override the per-user data directory.",
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the bridge to listen on.",
		},
		&cli.StringFlag{
			Name:  "sidecar",
			Usage: "The bundle name of the sidecar executable.",
		},
		&cli.StringFlag{
			Name:  "sidecar-path",
			Usage: "Explicit path to the sidecar executable, skipping name resolution.",
		},
		&cli.StringSliceFlag{
			Name:  "sidecar-arg",
			Usage: "Argument passed to the sidecar. May be repeated.",
		},
		&cli.DurationFlag{
			Name:  "call-timeout",
			Usage: "Default deadline for a backend call. Zero waits indefinitely.",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "One of [debug,info,warn,error].",
		},
		&cli.StringSliceFlag{
			Name:  "allowed-origin",
			Usage: "Host pattern of a UI origin allowed to call the bridge. May be repeated.",
		},
		&cli.StringFlag{
			Name:  "dev-search",
			Usage: "Development only: search this directory and its ancestors for the sidecar.",
		},
	}
}

func main() {
	app := &cli.App{
		Name:   "sidecarshell",
		Usage:  "desktop shell host that brokers UI requests to a sidecar backend process",
		Flags:  serveFlags(),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the bridge (the default)",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:      "invoke",
				Usage:     "invoke a command on a running bridge and print its result",
				ArgsUsage: "COMMAND [ARGS_JSON]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "addr",
						Usage:    "The address of the running bridge.",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the result.",
						Value: time.Minute,
					},
				},
				Action: invoke,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("app-id") {
		cfg.AppID = ctx.String("app-id")
	}
	if ctx.IsSet("data-dir") {
		cfg.DataDir = ctx.String("data-dir")
	}
	if ctx.IsSet("listen-addr") {
		cfg.ListenAddr = ctx.String("listen-addr")
	}
	if ctx.IsSet("sidecar") {
		cfg.Sidecar.Name = ctx.String("sidecar")
	}
	if ctx.IsSet("sidecar-path") {
		cfg.Sidecar.Path = ctx.String("sidecar-path")
	}
	if ctx.IsSet("sidecar-arg") {
		cfg.Sidecar.Args = ctx.StringSlice("sidecar-arg")
	}
	if ctx.IsSet("call-timeout") {
		cfg.Sidecar.CallTimeout = ctx.Duration("call-timeout")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(level))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	dataDir, err := appdir.Resolve(cfg.AppID, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}

	var resolveOpts []worker.ResolveOption
	if dir := ctx.String("dev-search"); dir != "" {
		resolveOpts = append(resolveOpts, worker.WithSearchFrom(dir))
	}
	spawner := &worker.SidecarSpawner{
		Name:        cfg.Sidecar.Name,
		Path:        cfg.Sidecar.Path,
		Args:        cfg.Sidecar.Args,
		Env:         cfg.Sidecar.Env,
		ResolveOpts: resolveOpts,
		Log:         logger.Named("sidecar").Sugar(),
	}

	b, err := broker.New(spawner,
		broker.WithLogger(logger),
		broker.WithCallTimeout(cfg.Sidecar.CallTimeout),
	)
	if err != nil {
		return fmt.Errorf("building broker: %w", err)
	}
	defer b.Close()

	s, err := shell.New(b, dataDir,
		shell.WithLogger(logger),
		shell.WithListenAddr(cfg.ListenAddr),
		shell.WithAllowedOrigins(ctx.StringSlice("allowed-origin")...),
	)
	if err != nil {
		return fmt.Errorf("building shell: %w", err)
	}
	if err := s.Listen(); err != nil {
		return err
	}
	// the UI host reads the bridge address from the first line of stdout
	fmt.Println(s.Addr())

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		logger.Sugar().Infow("shutting down", "DataDir", dataDir)
		if err := s.Stop(); err != nil {
			logger.Sugar().Debugf("error stopping shell: %s", err)
		}
	}()

	return s.Serve()
}

func invoke(ctx *cli.Context) error {
	command := ctx.Args().First()
	if command == "" {
		return errors.New("a command is required")
	}
	var args any
	if raw := ctx.Args().Get(1); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("arguments are not valid JSON: %s", raw)
		}
		args = json.RawMessage(raw)
	}

	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zapcore.WarnLevel))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	client := shell.NewClient(logger.Sugar(), ctx.String("addr"))

	cctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
	defer cancel()
	if err := client.WaitForServer(cctx); err != nil {
		return fmt.Errorf("waiting for bridge: %w", err)
	}

	var result json.RawMessage
	if err := client.Invoke(cctx, command, args, &result); err != nil {
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	fmt.Println(string(result))
	return nil
}
