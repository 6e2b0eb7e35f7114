package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/config"
	"github.com/alexjbarnes/notesync/internal/connectivity"
	"github.com/alexjbarnes/notesync/internal/logging"
	"github.com/alexjbarnes/notesync/internal/offline"
	"github.com/alexjbarnes/notesync/internal/state"
	"github.com/alexjbarnes/notesync/internal/syncapi"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	if current != nil {
		if closeErr := current.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by every subcommand. It is built in
// PersistentPreRunE and closed by main once the command returns.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.State
	cache   *cache.Cache
	monitor *connectivity.Monitor
	probe   *connectivity.Probe
	engine  *offline.Engine
	http    *http.Client
}

var current *app

var rootCmd = &cobra.Command{
	Use:           "notesync",
	Short:         "Offline-first client for the notes API",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		current = a

		if isNetworkCommand(cmd) {
			current.checkConnectivity(cmd.Context())
		}

		current.engine.Init(cmd.Context())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(getCmd)
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	st, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	c := cache.New(st, logger)

	// Without a presence endpoint the client starts online and request
	// outcomes drive the monitor.
	monitor := connectivity.NewMonitor(cfg.ConnectivityURL == "", logger)

	var probe *connectivity.Probe
	if cfg.ConnectivityURL != "" {
		probe = connectivity.NewProbe(connectivity.ProbeConfig{
			URL:   cfg.ConnectivityURL,
			Token: cfg.Token,
		}, monitor, logger)
	}

	network := &bearerTransport{token: cfg.Token, base: http.DefaultTransport}

	engineCfg := offline.Config{
		Cache:        c,
		Sync:         syncapi.NewClient(cfg.APIURL, cfg.Token, &http.Client{Timeout: cfg.HTTPTimeout}),
		Connectivity: monitor,
		Transport:    network,
		Logger:       logger,
	}

	if probe == nil {
		engineCfg.Reachability = monitor.Set
	}

	engine := offline.New(engineCfg)

	return &app{
		cfg:     cfg,
		logger:  logger,
		state:   st,
		cache:   c,
		monitor: monitor,
		probe:   probe,
		engine:  engine,
		http:    &http.Client{Transport: engine.Transport(), Timeout: cfg.HTTPTimeout},
	}, nil
}

// checkConnectivity refreshes the online flag once for one-shot commands.
func (a *app) checkConnectivity(ctx context.Context) bool {
	if a.probe == nil {
		return a.monitor.Online()
	}

	return a.probe.Check(ctx)
}

func (a *app) close() error {
	a.engine.Dispose()

	if err := a.state.Close(); err != nil {
		return fmt.Errorf("closing state: %w", err)
	}

	return nil
}

// apiURL joins a request path onto the configured API base URL.
func (a *app) apiURL(path string) string {
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}

	return a.cfg.APIURL + path
}
