package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tripd/internal/api"
	"github.com/kalambet/tripd/internal/checkpoint"
	"github.com/kalambet/tripd/internal/config"
	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/engine"
	"github.com/kalambet/tripd/internal/executor"
	"github.com/kalambet/tripd/internal/extractor"
	"github.com/kalambet/tripd/internal/jobs"
	"github.com/kalambet/tripd/internal/metrics"
	"github.com/kalambet/tripd/internal/notify"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/provider"
	"github.com/kalambet/tripd/internal/search"
	"github.com/kalambet/tripd/internal/storage"
	"github.com/kalambet/tripd/internal/synthesis"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tripd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tripd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tripd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// errProvidersUnconfigured is what every search fails with when no gateway
// URL is set.
var errProvidersUnconfigured = errors.New("no search provider configured (set providers.base_url)")

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tripd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newProviders returns the search providers for every category.
func newProviders(cfg config.ProvidersConfig) search.Providers {
	var p search.Provider
	if cfg.BaseURL == "" {
		slog.Warn("providers.base_url is empty; every search will report an outage")
		p = search.ProviderFunc(func(context.Context, search.Query) ([]search.Offer, error) {
			return nil, errProvidersUnconfigured
		})
	} else {
		p = provider.NewClient(cfg.BaseURL, cfg.APIKey).
			WithRetry(cfg.MaxAttempts, time.Duration(cfg.BackoffMS)*time.Millisecond)
	}
	return search.Providers{
		plan.CategoryFlights:    p,
		plan.CategoryHotels:     p,
		plan.CategoryActivities: p,
	}
}

// newCheckpointStore opens the configured conversation store. The returned
// close func is never nil.
func newCheckpointStore(ctx context.Context, cfg config.StorageConfig, store *storage.Store) (conversation.Store, func(), error) {
	if cfg.CheckpointBackend != config.BackendRedis {
		return checkpoint.NewSQLite(store), func() {}, nil
	}
	rdb, err := checkpoint.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	ttl := time.Duration(cfg.RedisTTLHours) * time.Hour
	return checkpoint.NewRedis(rdb, ttl), func() { rdb.Close() }, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tripd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	logger := slog.Default()

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tripd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tripd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.Model, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if n, err := store.FailInterruptedJobs(); err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	} else if n > 0 {
		slog.Warn("marked jobs interrupted by the last shutdown as failed", "count", n)
	}

	checkpoints, closeCheckpoints, err := newCheckpointStore(ctx, cfg.Storage, store)
	if err != nil {
		return err
	}
	defer closeCheckpoints()
	slog.Info("conversation checkpoints", "backend", cfg.Storage.CheckpointBackend)

	m := metrics.New()
	if c, ok := checkpoints.(checkpoint.SuspendedCounter); ok {
		m.TrackSuspended(c.CountSuspended)
	}

	exec := executor.New(newProviders(cfg.Providers),
		executor.WithDelay(time.Duration(cfg.Executor.DelayMS)*time.Millisecond),
		executor.WithLocator(provider.NewStaticLocator()),
		executor.WithObserver(m),
		executor.WithLogger(logger),
	)

	var narrator synthesis.Narrator
	if cfg.Synthesis.Narrator == config.NarratorLLM {
		narrator = synthesis.NewLLMNarrator(eng, cfg.Ollama.Model)
	}
	synth := synthesis.New(narrator, logger)

	sinks := []notify.Sink{notify.LogSink{Logger: logger}}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
	}
	dispatcher := notify.NewDispatcher(logger, sinks...)
	defer dispatcher.Wait()

	ctrl := conversation.NewController(checkpoints, extractor.New(eng, cfg.Ollama.Model), exec, synth, conversation.Options{
		Notifier:      dispatcher,
		Observer:      m,
		Logger:        logger,
		DefaultOrigin: cfg.Plan.DefaultOrigin,
		AllowOneWay:   cfg.Plan.AllowOneWay,
	})

	svc := jobs.NewService(store, ctrl, time.Duration(cfg.Jobs.CeilingSeconds)*time.Second, m)
	worker := jobs.NewWorker(store, ctrl, time.Duration(cfg.Jobs.PollMS)*time.Millisecond, cfg.Jobs.Workers, m)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			slog.Error("job worker stopped", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Chat:    svc,
		Token:   apiToken,
		Metrics: m.Handler(),
		Ready:   store.Ping,
	})

	if cfg.Server.MCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Chat: svc, Wait: 2 * time.Minute})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tripd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			<-workerDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	// Claimed turns run to completion before storage closes.
	<-workerDone
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tripd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tripd (PID %d): %v", pid, err)
		os.Remove(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tripd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		if eng.HasModel(ctx, cfg.Ollama.Model) {
			printStatus("Model", "%s", cfg.Ollama.Model)
		} else {
			printStatus("Model", "%s (not pulled)", cfg.Ollama.Model)
		}
	} else {
		printStatus("Ollama", "not running")
	}

	if cfg.Providers.BaseURL == "" {
		printStatus("Providers", "not configured")
	} else {
		printStatus("Providers", "%s", cfg.Providers.BaseURL)
	}
	printStatus("Checkpoints", "%s", cfg.Storage.CheckpointBackend)
	printStatus("Narrator", "%s", cfg.Synthesis.Narrator)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
