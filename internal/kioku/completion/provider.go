// Package completion defines the contract between the turn coordinator and
// the LLM that produces agent replies.
//
// The concrete network client is an external collaborator: the embedding
// process injects whatever Provider implementation it likes (Anthropic,
// OpenAI-compatible, a local model). This package only fixes the request and
// response shapes, the error taxonomy the coordinator maps onto turn
// outcomes, and a canned Static provider for development and tests.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout is returned by a Provider when the upstream call exceeded its
// deadline. The coordinator surfaces it as a completion-timeout outcome
// rather than a generic failure so operators can tell slowness from
// brokenness.
var ErrTimeout = errors.New("completion: provider timed out")

// ErrMalformed is returned by a Provider when the upstream answered but the
// body could not be interpreted as a completion (JSON parse failure, empty
// content, unexpected schema).
var ErrMalformed = errors.New("completion: malformed provider response")

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in the conversation fed to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a single completion call. Model, MaxTokens and
// Temperature are forwarded verbatim from configuration.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the provider's answer.
type Response struct {
	// Content is the assistant reply text.
	Content string
	// Model is the model that actually served the call, when reported.
	Model string
	// StopReason explains why generation ended ("end_turn", "max_tokens", …).
	StopReason string
	// Usage holds token counts when the provider reports them.
	Usage Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the interface every completion backend implements.
// Implementations must be safe for concurrent use and must honour ctx
// cancellation and deadlines, returning ErrTimeout on expiry.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Static is a Provider returning a canned reply. It stands in when no real
// client is injected (development mode) and backs tests across packages.
type Static struct {
	// Reply is the fixed response content. When empty a short echo of the
	// last user message is produced instead.
	Reply string
	// Err, when set, is returned instead of a response.
	Err error
}

var _ Provider = (*Static)(nil)

// Complete returns the canned reply, or Err when configured. Context
// cancellation is honoured so timeout behaviour matches a real client.
func (s *Static) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("static: %w", ErrTimeout)
		}
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	content := s.Reply
	if content == "" {
		last := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				last = req.Messages[i].Content
				break
			}
		}
		content = fmt.Sprintf("I received your message (%d chars) and I'm running without a live model. Echo: %s", len(last), last)
	}

	return &Response{
		Content:    content,
		Model:      req.Model,
		StopReason: "end_turn",
	}, nil
}
