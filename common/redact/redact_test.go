package redact_test

import (
	"errors"
	"testing"

	"github.com/bdobrica/Kioku/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	secret := "sk-ant-live-12345"
	line := "completion call failed: key sk-ant-live-12345 rejected"
	got := redact.String(line, secret)
	if got == line {
		t.Fatal("expected redaction, got unchanged string")
	}
	const want = "completion call failed: key [REDACTED] rejected"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "abc token"
	// "abc" is only 3 chars — should not be redacted
	got := redact.String(line, "abc")
	if got != line {
		t.Fatalf("short value should not be redacted; got %q", got)
	}
}

func TestString_MultipleValues(t *testing.T) {
	apiKey := "sk-ant-hunter2"
	dsn := "postgres://kioku:pw@db/kioku"
	line := "key=sk-ant-hunter2 dsn=postgres://kioku:pw@db/kioku end"
	got := redact.String(line, apiKey, dsn)
	if got != "key=[REDACTED] dsn=[REDACTED] end" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestError(t *testing.T) {
	if got := redact.Error(nil, "whatever"); got != "" {
		t.Fatalf("expected empty string for nil error, got %q", got)
	}
	err := errors.New("dial postgres://kioku:pw@db/kioku: refused")
	got := redact.Error(err, "postgres://kioku:pw@db/kioku")
	if got != "dial [REDACTED]: refused" {
		t.Fatalf("unexpected result: %q", got)
	}
}
