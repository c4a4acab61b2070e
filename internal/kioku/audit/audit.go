// Package audit provides the append-only audit trail for conversational
// turns.
//
// Every request produces exactly one audit event, whatever its outcome. The
// sink must never be the reason a turn fails: Record does not return an
// error, malformed fields are coerced to a safe placeholder, and internal
// write degradation is logged at WARN and swallowed. Retention, rotation and
// shipping of the emitted records belong to the log pipeline, not to this
// package.
//
// Ordering: Record runs synchronously in the calling goroutine, so events
// for one caller land in submission order. Cross-caller ordering is
// unspecified.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/trace"
)

// placeholder substitutes for any field a caller left empty or malformed.
// The record is still written; a hole in the audit trail is worse than a
// placeholder in it.
const placeholder = "unknown"

// Kind is a machine-readable event category.
type Kind string

const (
	// KindTurn is the per-request event: one per conversational turn.
	KindTurn Kind = "turn"
	// KindMemoryPrune records a retention sweep that removed entries.
	KindMemoryPrune Kind = "memory.prune"
)

// Outcome is the coarse result of the audited action.
type Outcome string

const (
	// OutcomeAdmitted marks a turn that passed admission and completed.
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeRejected marks a turn refused before any expensive work.
	OutcomeRejected Outcome = "rejected"
	// OutcomeError marks a turn that was admitted but failed.
	OutcomeError Outcome = "error"
)

// Event is one immutable audit record.
type Event struct {
	// ID is assigned by the sink when empty.
	ID string
	// Time defaults to the moment of recording when zero.
	Time time.Time
	// TraceID ties the event to the turn's log lines. When empty the value
	// is taken from the context.
	TraceID string
	// TurnID is the coordinator's per-turn identifier.
	TurnID string
	// Caller is the identity whose turn is being audited.
	Caller string
	// Kind identifies the type of event.
	Kind Kind
	// Outcome is the coarse result.
	Outcome Outcome
	// Detail carries the failure category or other short context. Secrets
	// are scrubbed before the detail is written.
	Detail string
	// Elapsed is the wall-clock duration of the audited action.
	Elapsed time.Duration
}

// Recorder appends audit events. Implementations MUST NOT fail the caller:
// Record returns nothing, and write problems are handled internally.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// Log is a Recorder that writes structured records through slog. The zero
// value is not usable; construct with NewLog.
type Log struct {
	logger    *slog.Logger
	sensitive []string
}

// NewLog builds a slog-backed sink. logger may be nil, in which case the
// default logger is used. sensitive lists values (API keys, DSNs) that must
// never appear in a detail field.
func NewLog(logger *slog.Logger, sensitive ...string) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("subsystem", "audit"), sensitive: sensitive}
}

// Record writes one event. It never fails and never panics: missing fields
// are coerced to a placeholder and the record is written regardless.
func (l *Log) Record(ctx context.Context, evt Event) {
	evt = sanitize(ctx, evt)
	evt.Detail = redact.String(evt.Detail, l.sensitive...)

	attrs := []any{
		"audit_id", evt.ID,
		"time", evt.Time,
		"trace_id", evt.TraceID,
		"turn_id", evt.TurnID,
		"caller", evt.Caller,
		"kind", string(evt.Kind),
		"outcome", string(evt.Outcome),
		"elapsed_ms", evt.Elapsed.Milliseconds(),
	}
	if evt.Detail != "" {
		attrs = append(attrs, "detail", evt.Detail)
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", argsToAttrs(attrs)...)
}

// argsToAttrs converts the key/value pairs into slog attrs, dropping any
// trailing unpaired key rather than panicking.
func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

// sanitize fills defaults and coerces malformed fields so the record is
// always writable.
func sanitize(ctx context.Context, evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	if evt.TraceID == "" {
		evt.TraceID = trace.FromContext(ctx)
	}
	if evt.TraceID == "" {
		evt.TraceID = placeholder
	}
	if evt.Caller == "" {
		evt.Caller = placeholder
	}
	if evt.Kind == "" {
		evt.Kind = Kind(placeholder)
	}
	switch evt.Outcome {
	case OutcomeAdmitted, OutcomeRejected, OutcomeError:
	default:
		evt.Outcome = Outcome(placeholder)
	}
	if evt.Elapsed < 0 {
		evt.Elapsed = 0
	}
	return evt
}

// Noop is a Recorder that discards every event. Used when audit logging is
// disabled so the coordinator keeps calling Record unconditionally.
type Noop struct{}

// Record does nothing.
func (Noop) Record(_ context.Context, _ Event) {}
