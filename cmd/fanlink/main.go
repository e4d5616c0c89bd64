// ABOUTME: Entry point for the fanlink server
// ABOUTME: Wires config, backend client, conversations, live session, archive and the HTTP gateway

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fanlink/internal/archive"
	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/config"
	"github.com/2389/fanlink/internal/conversation"
	"github.com/2389/fanlink/internal/gateway"
	"github.com/2389/fanlink/internal/live"
)

// Version is set at build time.
var version = "dev"

const banner = `
  __              _ _       _
 / _| __ _ _ __  | (_)_ __ | | __
| |_ / _' | '_ \ | | | '_ \| |/ /
|  _| (_| | | | || | | | | |   <
|_|  \__,_|_| |_||_|_|_| |_|_|\_\
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: fanlink <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the fanlink server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		fmt.Println("  ready    Check server readiness")
		os.Exit(1)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config at path, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if fromFile {
		fmt.Printf("Config:    %s\n", configPath)
	} else {
		fmt.Print("Config:    ")
		yellow.Println("defaults (no config file)")
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.BaseURL)
	green.Print("    ▶ ")
	fmt.Print("Archive:   ")
	if cfg.Archive.Path != "" {
		fmt.Println(cfg.Archive.Path)
	} else {
		gray.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting fanlink",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.BaseURL,
	)

	return serve(ctx, cfg, logger)
}

// serve builds every component from cfg and runs until ctx is canceled
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	var (
		store *archive.SQLiteArchive
		sink  conversation.TranscriptSink
		reads gateway.TranscriptStore
	)
	if cfg.Archive.Path != "" {
		store, err = archive.Open(cfg.Archive.Path, logger)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer store.Close()
		sink, reads = store, store
	}

	manager := conversation.NewManager(conversation.ManagerConfig{
		Client:      client,
		MaxInFlight: cfg.Conversation.MaxInFlight,
		TurnTimeout: cfg.Conversation.TurnTimeout,
		Greeting:    cfg.Conversation.Greeting,
		Suggestions: cfg.Conversation.Suggestions,
		Sink:        sink,
		Logger:      logger,
	})

	bus := live.NewBus(live.BusConfig{
		HistoryLimit: cfg.Live.HistoryLimit,
		DedupeWindow: cfg.Live.DedupeWindow,
		DedupeTTL:    cfg.Live.DedupeTTL,
		Logger:       logger,
	})
	defer bus.Close()

	aggregator, err := live.NewAggregator(bus, live.AggregatorConfig{
		Title:           cfg.Live.Title,
		Host:            cfg.Live.Host,
		TopicWindow:     cfg.Live.TopicWindow,
		MaxTopics:       cfg.Live.MaxTopics,
		SummarySchedule: cfg.Live.SummarySchedule,
		QuickTips:       cfg.Live.QuickTips,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating live aggregator: %w", err)
	}
	aggregator.Start()

	gw, err := gateway.New(gateway.Options{
		Addr:            cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Conversations:   manager,
		Bus:             bus,
		Aggregator:      aggregator,
		History:         client,
		Archive:         reads,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	runErr := gw.Run(ctx)

	// Fresh context: ctx is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := aggregator.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping aggregator: %w", err))
	}
	if err := manager.CloseAll(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("closing conversations: %w", err))
	}

	logger.Info("fanlink stopped")
	return errors.Join(errs...)
}

// runProbe requests a health endpoint of a running server
func runProbe(ctx context.Context, path string) error {
	cfg, _, err := loadConfig(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
