//go:build !integration && !e2e

package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider plays back a fixed event sequence.
type scriptedProvider struct {
	events []ChatEvent
}

func (s *scriptedProvider) ID() string                  { return "scripted" }
func (s *scriptedProvider) Supports(string) bool        { return true }
func (s *scriptedProvider) EstimateTokens(t string) int { return len(t) }
func (s *scriptedProvider) IsAvailable(context.Context) bool {
	return true
}

func (s *scriptedProvider) Chat(_ context.Context, _ string, _ []Message, _ ChatOptions) (<-chan ChatEvent, error) {
	ch := make(chan ChatEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name        string
		events      []ChatEvent
		wantContent string
		wantUsage   *Usage
		wantErr     string
	}{
		{
			name: "full stream",
			events: []ChatEvent{
				{Type: EventDelta, Delta: "Hello, "},
				{Type: EventDelta, Delta: "world"},
				{Type: EventUsage, Usage: &Usage{InputTokens: 5, OutputTokens: 3}},
				{Type: EventDone},
			},
			wantContent: "Hello, world",
			wantUsage:   &Usage{InputTokens: 5, OutputTokens: 3},
		},
		{
			name: "error mid stream keeps partial content",
			events: []ChatEvent{
				{Type: EventDelta, Delta: "partial"},
				{Type: EventError, Err: errors.New("connection reset")},
			},
			wantContent: "partial",
			wantErr:     "connection reset",
		},
		{
			name: "closed without terminal event",
			events: []ChatEvent{
				{Type: EventDelta, Delta: "oops"},
			},
			wantContent: "oops",
			wantErr:     "closed without terminal event",
		},
		{
			name:    "empty stream",
			events:  nil,
			wantErr: "closed without terminal event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{events: tt.events}

			var streamed string
			resp, err := Collect(context.Background(), p, "m", nil, ChatOptions{}, func(d string) {
				streamed += d
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantContent, resp.Content)
			assert.Equal(t, tt.wantContent, streamed, "onDelta sees every delta")
			assert.Equal(t, tt.wantUsage, resp.Usage)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := NewLocalEcho("a", "m1")
	b := NewLocalEcho("b", "m1")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	err := r.Register(NewLocalEcho("a", "m2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")

	assert.Same(t, a, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, r.IDs())
}

func TestLocalEchoChat(t *testing.T) {
	p := NewLocalEcho("local", "llama3")

	assert.True(t, p.Supports("llama3"))
	assert.False(t, p.Supports("gpt-4o"))
	assert.True(t, p.IsAvailable(context.Background()))

	messages := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello there"},
	}
	resp, err := Collect(context.Background(), p, "llama3", messages, ChatOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "[local] hello there", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Positive(t, resp.Usage.InputTokens)
	assert.Positive(t, resp.Usage.OutputTokens)
}

func TestLocalEchoCancellation(t *testing.T) {
	p := NewLocalEcho("local", "llama3")

	ctx, cancel := context.WithCancel(context.Background())

	events, err := p.Chat(ctx, "llama3", []Message{{Role: "user", Content: "one two three four"}}, ChatOptions{})
	require.NoError(t, err)

	// Consume one delta, then cancel while still draining. The channel must
	// close promptly; any terminal error carries the cancellation cause.
	first := <-events
	assert.Equal(t, EventDelta, first.Type)
	cancel()

	for ev := range events {
		if ev.Type == EventError {
			assert.ErrorIs(t, ev.Err, context.Canceled)
		}
	}
}

func TestLocalEchoAbandonedConsumer(t *testing.T) {
	p := NewLocalEcho("local", "llama3")

	// Cancel before reading anything and never drain: the emitter must shut
	// down on its own instead of parking forever on a channel send.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := p.Chat(ctx, "llama3", []Message{{Role: "user", Content: "one two three four"}}, ChatOptions{})
	require.NoError(t, err)

	var delivered bool
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			delivered = delivered || ok
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "stream never closed")
	assert.False(t, delivered, "no events should reach a consumer that never reads")
}
