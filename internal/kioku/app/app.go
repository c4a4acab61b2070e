// Package app wires the Kioku core together: configuration in, a running
// coordinator plus its operator plane out.
//
// The admin plane is a loopback HTTP listener for operators (health, stats,
// Prometheus metrics). It is deliberately framework-free and is not the turn
// transport: the serving layer that fronts Coordinator with a wire protocol
// lives outside this repository and receives the Coordinator by injection.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/agent"
	"github.com/bdobrica/Kioku/internal/kioku/audit"
	"github.com/bdobrica/Kioku/internal/kioku/completion"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/profile"
	"github.com/bdobrica/Kioku/internal/kioku/ratelimit"
)

// App is the assembled Kioku backend.
type App struct {
	cfg         config.Config
	prof        *profile.Profile
	store       memory.Store
	limiter     *ratelimit.Limiter
	recorder    audit.Recorder
	metrics     *observability.Metrics
	coordinator *agent.Coordinator

	server    *http.Server
	startedAt time.Time
}

// New builds every subsystem from the configuration. provider is the
// injected completion collaborator; it must not be nil (cmd/kioku falls back
// to completion.Static before calling New).
func New(ctx context.Context, cfg config.Config, provider completion.Provider) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("app: completion provider is required")
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return nil, &config.Error{Key: "AGENT_PROFILE", Reason: err.Error()}
	}

	store, err := memory.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		store.Close()
		return nil, err
	}

	var recorder audit.Recorder = audit.Noop{}
	if cfg.AuditEnabled {
		recorder = audit.NewLog(slog.Default(), cfg.SensitiveValues()...)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	coordinator, err := agent.New(agent.Options{
		Store:             store,
		Limiter:           limiter,
		Provider:          provider,
		Recorder:          recorder,
		Profile:           prof,
		Metrics:           metrics,
		Model:             cfg.Model,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		CompletionTimeout: cfg.CompletionTimeout,
		ContextWindow:     cfg.ContextWindow,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		prof:        prof,
		store:       store,
		limiter:     limiter,
		recorder:    recorder,
		metrics:     metrics,
		coordinator: coordinator,
		startedAt:   time.Now(),
	}
	a.server = &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      a.adminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("kioku initialized",
		"store", string(cfg.StoreType),
		"profile", prof.Name,
		"profile_hash", shortHash(prof.Hash()),
		"rate_limit", fmt.Sprintf("%d/%s", cfg.RateLimitRequests, cfg.RateLimitWindow),
		"audit", cfg.AuditEnabled,
		"version", version.Short(),
	)
	return a, nil
}

// Coordinator exposes the turn orchestrator to the serving layer.
func (a *App) Coordinator() *agent.Coordinator { return a.coordinator }

// Run serves the admin plane and the retention janitor until ctx is
// cancelled, then shuts both down and closes the store.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.AdminAddr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", a.cfg.AdminAddr, err)
	}
	slog.Info("admin plane listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		a.janitor(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutting down admin server", "err", err)
	}
	<-janitorDone

	if err := a.store.Close(); err != nil {
		slog.Warn("closing memory store", "err", err)
	}
	slog.Info("kioku stopped")
	return nil
}

// janitor periodically enforces the age-based retention policy. When no age
// cap is configured it exits immediately; the count cap is enforced inline
// by Append.
func (a *App) janitor(ctx context.Context) {
	if a.cfg.RetentionMaxAge <= 0 {
		return
	}

	ticker := time.NewTicker(a.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// sweep prunes entries older than the age cap across all sessions. Each
// sweep that removes entries is audited.
func (a *App) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-a.cfg.RetentionMaxAge)

	sessions, err := a.store.Sessions(ctx, 0)
	if err != nil {
		slog.Warn("retention sweep: listing sessions failed", "err", err)
		return
	}

	removed := 0
	for _, info := range sessions {
		n, err := a.store.Prune(ctx, info.Caller, cutoff)
		if err != nil {
			slog.Warn("retention sweep: prune failed", "caller", info.Caller, "err", err)
			continue
		}
		removed += n
	}
	if removed == 0 {
		return
	}

	a.metrics.PrunedEntries.Add(float64(removed))
	a.recorder.Record(ctx, audit.Event{
		Kind:    audit.KindMemoryPrune,
		Caller:  "janitor",
		Outcome: audit.OutcomeAdmitted,
		Detail:  fmt.Sprintf("removed %d entries older than %s", removed, a.cfg.RetentionMaxAge),
	})
	slog.Info("retention sweep complete", "removed", removed, "cutoff", cutoff)
}

// --- admin plane ---

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	StoreType        string `json:"store_type"`
	Profile          string `json:"profile"`
	UptimeSec        int64  `json:"uptime_seconds"`
	RateLimit        int    `json:"rate_limit_requests"`
	RateLimitWindowS int64  `json:"rate_limit_window_seconds"`
}

func (a *App) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/sessions", a.handleSessions)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		Version:          version.Short(),
		StoreType:        string(a.cfg.StoreType),
		Profile:          a.prof.Name,
		UptimeSec:        int64(time.Since(a.startedAt).Seconds()),
		RateLimit:        a.limiter.Limit(),
		RateLimitWindowS: int64(a.limiter.Period().Seconds()),
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := a.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *App) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	infos, err := a.store.Sessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// shortHash trims a content hash for log lines.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
