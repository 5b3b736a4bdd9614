package provider

import (
	"context"
	"strings"

	"github.com/user/model-router-go/internal/pricing"
)

// LocalEcho is a self-contained provider that answers from the local process
// without any network traffic. It exists so local-only and privacy-strict
// routing can be exercised end-to-end before a real on-device backend is
// wired in, and it doubles as the reference Provider implementation.
type LocalEcho struct {
	id     string
	models []string
}

// NewLocalEcho creates a local echo provider advertising the given models.
func NewLocalEcho(id string, models ...string) *LocalEcho {
	return &LocalEcho{id: id, models: models}
}

func (p *LocalEcho) ID() string { return p.id }

func (p *LocalEcho) Supports(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *LocalEcho) EstimateTokens(text string) int {
	return pricing.EstimateTokens(text)
}

// IsAvailable always succeeds: the local process is its own backend.
func (p *LocalEcho) IsAvailable(_ context.Context) bool { return true }

// Chat echoes the last user message back as a short stream of word deltas,
// then reports usage and terminates with done.
func (p *LocalEcho) Chat(ctx context.Context, _ string, messages []Message, _ ChatOptions) (<-chan ChatEvent, error) {
	var prompt string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			prompt = messages[i].Content
			break
		}
	}

	events := make(chan ChatEvent)
	go func() {
		defer close(events)

		// Every send honours cancellation so an abandoned consumer never
		// strands this goroutine on a blocked channel write.
		emit := func(ev ChatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reply := "[local] " + prompt
		var emitted strings.Builder
		for _, word := range strings.SplitAfter(reply, " ") {
			if !emit(ChatEvent{Type: EventDelta, Delta: word}) {
				emit(ChatEvent{Type: EventError, Err: ctx.Err()})
				return
			}
			emitted.WriteString(word)
		}

		if !emit(ChatEvent{Type: EventUsage, Usage: &Usage{
			InputTokens:  pricing.EstimateTokens(prompt),
			OutputTokens: pricing.EstimateTokens(emitted.String()),
		}}) {
			return
		}
		emit(ChatEvent{Type: EventDone})
	}()
	return events, nil
}
