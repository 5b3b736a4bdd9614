// Package provider defines the capability contract the routing engine
// consumes. Concrete network clients live outside the engine; they plug in
// by registering an implementation of Provider.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// EventType discriminates chat stream events.
type EventType string

const (
	EventDelta EventType = "delta"
	EventUsage EventType = "usage"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// Usage is the token usage a provider reports for one completed call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatEvent is one element of the finite, single-pass chat stream. A stream
// terminates with exactly one Done or Error event and is never restartable.
type ChatEvent struct {
	Type  EventType
	Delta string
	Usage *Usage
	Err   error
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries per-call tuning parameters.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the closed contract every backend implements.
type Provider interface {
	// ID returns the unique provider id matching the profile's provider config.
	ID() string

	// Supports reports whether the provider can serve the named model.
	Supports(model string) bool

	// EstimateTokens is a cheap length-based token estimate for the given text.
	EstimateTokens(text string) int

	// IsAvailable is a cheap liveness/credential probe. A probe failure is
	// reported as unavailable, never as an error.
	IsAvailable(ctx context.Context) bool

	// Chat starts a completion and returns the event stream. The stream is
	// closed after its terminal event. Cancelling ctx aborts the call.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (<-chan ChatEvent, error)
}

// Response is the aggregated form of a fully drained chat stream.
type Response struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Collect drains a chat stream to completion and aggregates it into a single
// response, the non-streaming convenience form of Chat. The onDelta callback
// is optional and receives content deltas as they arrive.
func Collect(ctx context.Context, p Provider, model string, messages []Message, opts ChatOptions, onDelta func(string)) (*Response, error) {
	events, err := p.Chat(ctx, model, messages, opts)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	var usage *Usage
	for ev := range events {
		switch ev.Type {
		case EventDelta:
			sb.WriteString(ev.Delta)
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case EventUsage:
			usage = ev.Usage
		case EventError:
			return &Response{Content: sb.String(), Usage: usage}, ev.Err
		case EventDone:
			return &Response{Content: sb.String(), Usage: usage}, nil
		}
	}

	// Channel closed without a terminal event: treat as a malformed stream.
	return &Response{Content: sb.String(), Usage: usage}, fmt.Errorf("chat stream for model %s closed without terminal event", model)
}
