package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/blackboxhq/blackbox-gw/internal/api"
	"github.com/blackboxhq/blackbox-gw/internal/config"
	"github.com/blackboxhq/blackbox-gw/internal/decision"
	"github.com/blackboxhq/blackbox-gw/internal/dispatch"
	"github.com/blackboxhq/blackbox-gw/internal/enrich"
	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/log"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
	"github.com/blackboxhq/blackbox-gw/internal/slack"
	"github.com/blackboxhq/blackbox-gw/internal/storage"
	"github.com/blackboxhq/blackbox-gw/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("blackbox-gw version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`blackbox-gw - Career decision capture gateway

Usage:
  blackbox-gw <command> [flags]

Commands:
  start     Start the gateway service in foreground
  version   Show version information
  help      Show this help message

Start flags:
  --config <path>   Path to configuration file or directory
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("blackbox-gw starting", "version", version, "config", *configPath)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if cfg.Redis.Required {
				logger.Error("redis unreachable and marked required", "addr", cfg.Redis.Addr, "error", err)
				return 1
			}
			// The limiter falls back per check, so a flaky Redis at boot
			// is a warning, not a failure.
			logger.Warn("redis unreachable, rate limits fall back to per-process counters",
				"addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		defer redisClient.Close()
	} else if cfg.Redis.Required {
		logger.Error("redis marked required but no addr configured")
		return 1
	}

	q := queue.New(db)
	links := linkcode.NewStore(db)
	decisions := decision.NewStore(db)
	limiter := ratelimit.New(redisClient, log.WithComponent("ratelimit"))
	enricher := enrich.New(cfg.AI, log.WithComponent("enrich"))
	notifier := slack.NewClient(log.WithComponent("slack"))

	disp := dispatch.New(q, enricher, decisions, notifier)
	webhookServer := webhook.New(*cfg, q, links, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := disp.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	go func() {
		if err := webhookServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(cfg.API, links, q, limiter)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("blackbox-gw running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("blackbox-gw stopped")
	return 0
}
