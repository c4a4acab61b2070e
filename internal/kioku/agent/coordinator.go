// Package agent implements the per-turn orchestration: admission control,
// context loading, completion, memory commit, and audit.
//
// The Coordinator is stateless — it owns no conversational data of its own
// and only sequences the rate limiter, the memory store, the completion
// provider and the audit sink. Each request walks an explicit state machine:
//
//	received → admitted|rejected
//	admitted → context_loaded → completing → memory_committed|memory_failed
//	any path → audited (terminal)
//
// Exactly one audit event is recorded per request, whatever the path, and
// internal store/provider errors never leak past a coarse failure category.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/audit"
	"github.com/bdobrica/Kioku/internal/kioku/completion"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/profile"
	"github.com/bdobrica/Kioku/internal/kioku/ratelimit"
)

// User-visible turn failures. Callers (and the serving layer in front of
// them) match these with errors.Is; the messages deliberately carry no
// internal detail.
var (
	// ErrRateLimited means the caller exceeded their admission window.
	ErrRateLimited = errors.New("agent: rate limit exceeded")
	// ErrInvalidInput means the request was rejected before admission.
	ErrInvalidInput = errors.New("agent: invalid input")
	// ErrCompletionTimeout means the completion provider exceeded its deadline.
	ErrCompletionTimeout = errors.New("agent: completion timed out")
	// ErrCompletionFailed means the completion provider failed.
	ErrCompletionFailed = errors.New("agent: completion failed")
	// ErrMemoryFailed means the turn completed but its memory commit did not.
	ErrMemoryFailed = errors.New("agent: memory commit failed")
)

// State is a stop on the per-request state machine.
type State string

const (
	StateReceived        State = "received"
	StateAdmitted        State = "admitted"
	StateRejected        State = "rejected"
	StateContextLoaded   State = "context_loaded"
	StateCompleting      State = "completing"
	StateMemoryCommitted State = "memory_committed"
	StateMemoryFailed    State = "memory_failed"
	StateAudited         State = "audited"
)

// FailureCategory is the coarse, user-visible classification of a failed
// turn. Full errors stay in internal logs.
type FailureCategory string

const (
	FailRateLimited       FailureCategory = "rate_limited"
	FailInvalidInput      FailureCategory = "invalid_input"
	FailCompletionTimeout FailureCategory = "completion_timeout"
	FailCompletionError   FailureCategory = "completion_error"
	FailMemoryFailed      FailureCategory = "memory_failed"
)

// Request is one inbound conversational turn.
type Request struct {
	// Caller is the identity scoping rate limiting and memory.
	Caller string
	// Input is the user's message.
	Input string
}

// Result is the outcome of one turn. It is always populated, including on
// failure, so the serving layer and tests can inspect the terminal state.
type Result struct {
	TurnID  string
	TraceID string
	Caller  string
	// Reply is the assistant text; empty unless the turn succeeded.
	Reply string
	// State is the last state reached before the audit record was written.
	State   State
	Outcome audit.Outcome
	// FailureCategory is empty on success.
	FailureCategory FailureCategory
	Elapsed         time.Duration
	Usage           completion.Usage
	// ContextDegraded notes that prior memory could not be read and the
	// turn ran with an empty context.
	ContextDegraded bool
}

// Options configures a Coordinator. Store, Limiter, Provider and Recorder
// are required.
type Options struct {
	Store    memory.Store
	Limiter  *ratelimit.Limiter
	Provider completion.Provider
	Recorder audit.Recorder
	Profile  *profile.Profile
	// Metrics may be nil; instruments are then skipped.
	Metrics *observability.Metrics

	// Completion parameters, forwarded verbatim.
	Model       string
	MaxTokens   int
	Temperature float64

	// CompletionTimeout bounds each provider call. Zero disables the bound.
	CompletionTimeout time.Duration
	// ContextWindow is how many prior entries are fed to the provider; the
	// profile may override it.
	ContextWindow int
}

// Coordinator sequences one conversational turn at a time. It is safe for
// concurrent use: all per-caller state lives in the store and the limiter.
type Coordinator struct {
	opts Options
	prof *profile.Profile
}

// New validates the options and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("agent: memory store is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("agent: rate limiter is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent: completion provider is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("agent: audit recorder is required")
	}
	prof := opts.Profile
	if prof == nil {
		prof = profile.Default()
	}
	return &Coordinator{opts: opts, prof: prof}, nil
}

// Turn runs one request through the state machine. The returned Result is
// never nil; err is non-nil for every non-successful outcome and matches one
// of the package sentinels.
func (c *Coordinator) Turn(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ctx, traceID := trace.Ensure(ctx)
	turnID, err := gonanoid.New()
	if err != nil {
		// Entropy exhaustion is effectively impossible; fall back to the
		// trace ID rather than failing the turn over an identifier.
		turnID = traceID
	}

	res := &Result{
		TurnID:  turnID,
		TraceID: traceID,
		Caller:  req.Caller,
		State:   StateReceived,
	}
	log := observability.WithTrace(ctx).With("turn_id", turnID, "caller", req.Caller)

	// received → rejected: input validation happens before any expensive
	// work, same as admission control.
	if req.Caller == "" || req.Input == "" {
		return c.finish(ctx, res, start, StateRejected, audit.OutcomeRejected, FailInvalidInput, ErrInvalidInput)
	}

	// received → admitted|rejected.
	if !c.opts.Limiter.Allow(req.Caller) {
		log.Info("turn rejected", "reason", "rate_limited")
		return c.finish(ctx, res, start, StateRejected, audit.OutcomeRejected, FailRateLimited, ErrRateLimited)
	}
	res.State = StateAdmitted

	// admitted → context_loaded. A store failure here degrades to an empty
	// context: memory is best-effort context, not a hard dependency for
	// generation.
	history := c.loadContext(ctx, log, req.Caller, res)
	res.State = StateContextLoaded

	// context_loaded → completing.
	res.State = StateCompleting
	resp, err := c.complete(ctx, history, req.Input, res)
	if err != nil {
		category, sentinel := classifyCompletionErr(err)
		log.Warn("completion failed", "category", string(category), "err", err)
		return c.finish(ctx, res, start, StateMemoryFailed, audit.OutcomeError, category, sentinel)
	}
	res.Reply = resp.Content
	res.Usage = resp.Usage

	// completing → memory_committed|memory_failed: the user entry and the
	// assistant entry land as one atomic unit.
	appendStart := time.Now()
	appendErr := c.opts.Store.Append(ctx, req.Caller,
		memory.Entry{Role: memory.RoleUser, Content: req.Input},
		memory.Entry{Role: memory.RoleAssistant, Content: resp.Content},
	)
	c.observeStoreOp("append", appendErr, time.Since(appendStart))
	if appendErr != nil {
		log.Error("memory commit failed", "err", appendErr)
		return c.finish(ctx, res, start, StateMemoryFailed, audit.OutcomeError, FailMemoryFailed, ErrMemoryFailed)
	}

	return c.finish(ctx, res, start, StateMemoryCommitted, audit.OutcomeAdmitted, "", nil)
}

// loadContext reads the caller's prior entries, degrading to an empty slice
// on store failure.
func (c *Coordinator) loadContext(ctx context.Context, log *slog.Logger, caller string, res *Result) []memory.Entry {
	getStart := time.Now()
	history, err := c.opts.Store.Get(ctx, caller)
	c.observeStoreOp("get", err, time.Since(getStart))
	if err != nil {
		log.Warn("memory read degraded to empty context", "err", err)
		res.ContextDegraded = true
		return nil
	}
	return history
}

// complete invokes the provider with the windowed history and the new input.
func (c *Coordinator) complete(ctx context.Context, history []memory.Entry, input string, res *Result) (*completion.Response, error) {
	window := c.prof.EffectiveContextWindow(c.opts.ContextWindow)
	if len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]completion.Message, 0, len(history)+1)
	for _, e := range history {
		role := completion.RoleUser
		if e.Role == memory.RoleAssistant {
			role = completion.RoleAssistant
		}
		messages = append(messages, completion.Message{Role: role, Content: e.Content})
	}
	messages = append(messages, completion.Message{Role: completion.RoleUser, Content: input})

	callCtx := ctx
	if c.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.CompletionTimeout)
		defer cancel()
	}

	callStart := time.Now()
	resp, err := c.opts.Provider.Complete(callCtx, completion.Request{
		Model:       c.opts.Model,
		System:      c.prof.SystemPrompt,
		Messages:    messages,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveCompletion(time.Since(callStart))
	}
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Content == "" {
		return nil, completion.ErrMalformed
	}
	return resp, nil
}

// finish is the single exit point: it stamps the terminal state, records
// exactly one audit event, updates the metrics, and maps the outcome onto
// the user-visible error.
func (c *Coordinator) finish(ctx context.Context, res *Result, start time.Time, state State, outcome audit.Outcome, category FailureCategory, err error) (*Result, error) {
	res.State = state
	res.Outcome = outcome
	res.FailureCategory = category
	res.Elapsed = time.Since(start)

	detail := string(category)
	if res.ContextDegraded {
		if detail != "" {
			detail += ", "
		}
		detail += "context_degraded"
	}

	c.opts.Recorder.Record(ctx, audit.Event{
		TraceID: res.TraceID,
		TurnID:  res.TurnID,
		Caller:  res.Caller,
		Kind:    audit.KindTurn,
		Outcome: outcome,
		Detail:  detail,
		Elapsed: res.Elapsed,
	})
	res.State = StateAudited

	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveTurn(string(outcome), res.Elapsed)
	}
	return res, err
}

// observeStoreOp updates the store instruments when metrics are wired.
func (c *Coordinator) observeStoreOp(op string, err error, d time.Duration) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveStoreOp(op, err, d)
	}
}

// classifyCompletionErr maps a provider error onto the coarse category and
// the user-visible sentinel.
func classifyCompletionErr(err error) (FailureCategory, error) {
	if errors.Is(err, completion.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return FailCompletionTimeout, ErrCompletionTimeout
	}
	return FailCompletionError, ErrCompletionFailed
}
