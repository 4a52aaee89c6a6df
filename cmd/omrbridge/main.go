package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guseggert/omrbridge/bridge"
	"github.com/guseggert/omrbridge/config"
	"github.com/guseggert/omrbridge/dispatch"
	"github.com/guseggert/omrbridge/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "omrbridge",
		Usage: "runs the OMR backend and exposes its methods to the desktop UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file.",
				Value:   "omrbridge.yaml",
				EnvVars: []string{"OMRBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Runtime mode. One of [packaged,development]. Overrides the config file.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. Overrides the config file.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the backend and serve its methods over HTTP and WebSocket",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen-addr",
						Usage: "The address for the HTTP server to listen on. Overrides the config file.",
					},
				},
				Action: serve,
			},
			{
				Name:      "call",
				Usage:     "invoke one backend method and print its result",
				ArgsUsage: "METHOD [PARAMS_JSON]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "server",
						Usage: "Base URL of a running omrbridge server. When empty, a backend is started for this call.",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the result.",
						Value: 5 * time.Minute,
					},
				},
				Action: call,
			},
			{
				Name:   "methods",
				Usage:  "list the methods the backend exposes",
				Action: methods,
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
	if v := ctx.String("mode"); v != "" {
		cfg.Mode = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.Logger.Level = v
	}
	if v := ctx.String("listen-addr"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM instead of letting the signal end the process,
// so a running backend is still stopped on the way out.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("finding executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

func newBridge(cfg *config.Config, log *zap.SugaredLogger) (*bridge.Bridge, error) {
	exeDir, err := executableDir()
	if err != nil {
		return nil, err
	}
	bc, err := cfg.BridgeConfig(runtime.GOOS, exeDir)
	if err != nil {
		return nil, err
	}
	return bridge.New(bc, bridge.WithLogger(log))
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	sigCtx, stop := signalContext(ctx.Context)
	defer stop()

	b, err := newBridge(cfg, log)
	if err != nil {
		return err
	}
	srv := server.New(dispatch.New(b, dispatch.WithLogger(log)), b, append(cfg.ServerOptions(), server.WithLogger(log))...)

	group, groupCtx := errgroup.WithContext(sigCtx)
	// the server reports "starting" while the backend comes up
	group.Go(srv.Run)
	group.Go(func() error {
		return b.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
		case <-b.Done():
			if err := b.Err(); err != nil {
				log.Errorw("backend stopped, shutting down", "Error", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Bridge.ShutdownGrace)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), b.Close(shutdownCtx))
	})

	err = group.Wait()
	if err == nil {
		err = b.Err()
	}
	if err != nil && sigCtx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func call(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return cli.Exit("missing METHOD", 2)
	}
	method := ctx.Args().Get(0)
	var params any
	if raw := ctx.Args().Get(1); raw != "" {
		if !json.Valid([]byte(raw)) {
			return cli.Exit("PARAMS_JSON is not valid JSON", 2)
		}
		params = json.RawMessage(raw)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	sigCtx, stop := signalContext(ctx.Context)
	defer stop()
	callCtx, cancel := context.WithTimeout(sigCtx, ctx.Duration("timeout"))
	defer cancel()

	var result json.RawMessage
	if addr := ctx.String("server"); addr != "" {
		result, err = server.NewClient(log, addr).Invoke(callCtx, method, params)
	} else {
		result, err = callLocal(callCtx, cfg, log, method, params)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// callLocal starts a private backend, makes one call, and stops it.
func callLocal(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, method string, params any) (json.RawMessage, error) {
	b, err := newBridge(cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Bridge.ShutdownGrace)
		defer cancel()
		if err := b.Close(closeCtx); err != nil {
			log.Warnw("error stopping backend", "Error", err)
		}
	}()

	d := dispatch.New(b, dispatch.WithLogger(log))
	fut, err := d.Go(method, params)
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

func methods(ctx *cli.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, m := range dispatch.Methods() {
		fmt.Fprintf(w, "%s\t%s\n", m.Name, m.Summary)
	}
	return w.Flush()
}
