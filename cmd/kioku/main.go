// Kioku is the conversational-agent backend daemon.
//
// All configuration is loaded from environment variables (a .env file in the
// working directory is read first when present). The daemon builds the
// memory store, rate limiter, audit sink and turn coordinator, serves the
// loopback admin plane, and runs background memory retention until stopped.
//
// Required environment variables:
//
//	ANTHROPIC_API_KEY     - completion collaborator credential
//
// Optional environment variables:
//
//	HOST, PORT            - public bind address, passed to the serving layer (default 0.0.0.0:8000)
//	AGENT_MODEL           - model name (default "claude-3-sonnet-20241022")
//	AGENT_MAX_TOKENS      - max tokens per completion (default 2000)
//	AGENT_TEMPERATURE     - sampling temperature 0..2 (default 0.7)
//	AGENT_CONTEXT_WINDOW  - prior entries fed back per turn (default 20)
//	AGENT_PROFILE         - path to a YAML agent profile
//	MEMORY_STORE_TYPE     - "in_memory", "sqlite" or "postgresql" (default "in_memory")
//	MEMORY_STORE_PATH     - sqlite file path or postgres connection string
//	MEMORY_STORE_TIMEOUT  - per-operation store deadline (default 5s)
//	MEMORY_MAX_ENTRIES    - per-session entry cap (default 200)
//	MEMORY_MAX_AGE        - age cap enforced by the retention sweep (default off)
//	MEMORY_PRUNE_INTERVAL - retention sweep period (default 10m)
//	RATE_LIMIT_REQUESTS   - admissions per caller per window (default 10)
//	RATE_LIMIT_WINDOW     - window length, duration or seconds (default 60)
//	COMPLETION_TIMEOUT    - per-call provider deadline (default 60s)
//	API_KEY_HEADER        - serving-layer passthrough (default "X-API-Key")
//	CORS_ORIGINS          - serving-layer passthrough (default "*")
//	LOG_LEVEL             - "debug", "info", "warn", "error" (default "info")
//	LOG_FORMAT            - "json" or "text" (default "json")
//	ENABLE_AUDIT_LOGS     - audit sink on/off (default true)
//	ADMIN_ADDR            - loopback admin plane (default "127.0.0.1:8900")
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/completion"
	"github.com/bdobrica/Kioku/internal/kioku/config"
)

func main() {
	// A missing .env is fine; environment variables win either way.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalConfig(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The concrete LLM network client is injected by the embedding
	// deployment; the bare daemon runs with the canned provider so the whole
	// pipeline stays exercisable without a live model.
	provider := &completion.Static{}
	slog.Warn("no completion client injected; running with the static provider")

	kioku, err := app.New(ctx, cfg, provider)
	if err != nil {
		fatalConfig(err)
	}

	slog.Info("kioku starting", "version", version.Info())
	if err := kioku.Run(ctx); err != nil {
		slog.Error("kioku exited with error", "err", err)
		os.Exit(1)
	}
}

// fatalConfig reports a startup failure. Configuration errors are printed
// without a stack of wrapping so the operator sees the offending key first.
func fatalConfig(err error) {
	var cerr *config.Error
	if errors.As(err, &cerr) {
		slog.Error("invalid configuration", "key", cerr.Key, "reason", cerr.Reason)
	} else {
		slog.Error("startup failed", "err", err)
	}
	os.Exit(1)
}
