package testutil

import (
	"context"
	"sync/atomic"

	"github.com/user/model-router-go/internal/pricing"
	"github.com/user/model-router-go/internal/provider"
)

// FakeProvider is a scripted provider for dispatcher tests. Each Chat call
// plays back the configured event script.
type FakeProvider struct {
	ProviderID  string
	ModelNames  []string
	Unavailable bool
	ChatErr     error // returned directly from Chat, before any stream exists
	Script      []provider.ChatEvent

	chatCalls atomic.Int64
}

// ChatCalls reports how many times Chat was invoked.
func (f *FakeProvider) ChatCalls() int64 { return f.chatCalls.Load() }

func (f *FakeProvider) ID() string { return f.ProviderID }

func (f *FakeProvider) Supports(model string) bool {
	for _, m := range f.ModelNames {
		if m == model {
			return true
		}
	}
	return false
}

func (f *FakeProvider) EstimateTokens(text string) int {
	return pricing.EstimateTokens(text)
}

func (f *FakeProvider) IsAvailable(_ context.Context) bool {
	return !f.Unavailable
}

func (f *FakeProvider) Chat(ctx context.Context, _ string, _ []provider.Message, _ provider.ChatOptions) (<-chan provider.ChatEvent, error) {
	f.chatCalls.Add(1)
	if f.ChatErr != nil {
		return nil, f.ChatErr
	}

	events := make(chan provider.ChatEvent)
	go func() {
		defer close(events)
		for _, ev := range f.Script {
			select {
			case <-ctx.Done():
				// Best effort: a consumer that stopped draining must not
				// strand this goroutine on the error send either.
				select {
				case events <- provider.ChatEvent{Type: provider.EventError, Err: ctx.Err()}:
				case <-ctx.Done():
				}
				return
			case events <- ev:
			}
		}
	}()
	return events, nil
}

// ReplyScript builds a well-formed event script: one delta per given chunk,
// a usage report, then done.
func ReplyScript(usage *provider.Usage, chunks ...string) []provider.ChatEvent {
	script := make([]provider.ChatEvent, 0, len(chunks)+2)
	for _, c := range chunks {
		script = append(script, provider.ChatEvent{Type: provider.EventDelta, Delta: c})
	}
	if usage != nil {
		script = append(script, provider.ChatEvent{Type: provider.EventUsage, Usage: usage})
	}
	return append(script, provider.ChatEvent{Type: provider.EventDone})
}

// FailingScript builds a script that emits the given chunks and then fails.
func FailingScript(err error, chunks ...string) []provider.ChatEvent {
	script := make([]provider.ChatEvent, 0, len(chunks)+1)
	for _, c := range chunks {
		script = append(script, provider.ChatEvent{Type: provider.EventDelta, Delta: c})
	}
	return append(script, provider.ChatEvent{Type: provider.EventError, Err: err})
}
