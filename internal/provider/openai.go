package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/model-router-go/internal/pricing"
	"go.uber.org/zap"
)

const (
	openAIProbeTimeout = 5 * time.Second
	// Streaming responses can run for minutes; the probe client stays short.
	openAIStreamTimeout = 300 * time.Second
)

// OpenAIChat is a Provider backed by any OpenAI-compatible chat completions
// endpoint (OpenAI itself, Ollama, vLLM, LM Studio). It speaks the
// /chat/completions SSE protocol and reports usage from the final chunk when
// the backend sends one.
type OpenAIChat struct {
	id      string
	baseURL string
	apiKey  string
	models  []string
	logger  *zap.Logger

	client      *http.Client
	probeClient *http.Client
}

// NewOpenAIChat creates a provider for an OpenAI-compatible endpoint. baseURL
// is the API root without a trailing slash, e.g. "https://api.openai.com/v1".
// apiKey may be empty for unauthenticated local backends.
func NewOpenAIChat(id, baseURL, apiKey string, models []string, logger *zap.Logger) *OpenAIChat {
	return &OpenAIChat{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
		logger:  logger,
		client: &http.Client{
			Timeout: openAIStreamTimeout,
		},
		probeClient: &http.Client{
			Timeout: openAIProbeTimeout,
		},
	}
}

func (p *OpenAIChat) ID() string { return p.id }

func (p *OpenAIChat) Supports(model string) bool {
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

func (p *OpenAIChat) EstimateTokens(text string) int {
	return pricing.EstimateTokens(text)
}

// IsAvailable probes GET {baseURL}/models. Any transport error or non-2xx
// status counts as unavailable.
func (p *OpenAIChat) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	p.setAuth(req)

	resp, err := p.probeClient.Do(req)
	if err != nil {
		p.logger.Debug("availability probe failed", zap.String("provider", p.id), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 300
}

// openAIChatRequest is the wire form of a chat completions call.
type openAIChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// openAIStreamChunk is one SSE data payload of a streaming completion.
type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// UpstreamError is a non-2xx response from the backend.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// Chat starts a streaming completion. Connection and status errors are
// returned synchronously; failures after the stream opened arrive as an
// error event so partial output is preserved.
func (p *OpenAIChat) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (<-chan ChatEvent, error) {
	body, err := json.Marshal(&openAIChatRequest{
		Model:         model,
		Messages:      messages,
		MaxTokens:     opts.MaxTokens,
		Temperature:   &opts.Temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	p.setAuth(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return nil, &UpstreamError{StatusCode: resp.StatusCode}
		}
		var apiErr openAIErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	events := make(chan ChatEvent)
	go p.readStream(ctx, resp, events)
	return events, nil
}

// readStream parses the SSE response and forwards events until [DONE], EOF
// or a read error.
func (p *OpenAIChat) readStream(ctx context.Context, resp *http.Response, events chan<- ChatEvent) {
	defer close(events)
	defer resp.Body.Close()

	var usage *Usage
	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A well-formed stream ends with [DONE]; EOF first means the
				// backend hung up early.
				p.emit(ctx, events, ChatEvent{Type: EventError, Err: io.ErrUnexpectedEOF})
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.emit(ctx, events, ChatEvent{Type: EventError, Err: ctxErr})
				return
			}
			p.emit(ctx, events, ChatEvent{Type: EventError, Err: fmt.Errorf("read chat stream: %w", err)})
			return
		}

		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			if usage != nil {
				if !p.emit(ctx, events, ChatEvent{Type: EventUsage, Usage: usage}) {
					return
				}
			}
			p.emit(ctx, events, ChatEvent{Type: EventDone})
			return
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skipping malformed stream chunk",
				zap.String("provider", p.id), zap.Error(err))
			continue
		}

		if chunk.Usage != nil {
			usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if !p.emit(ctx, events, ChatEvent{Type: EventDelta, Delta: choice.Delta.Content}) {
				return
			}
		}
	}
}

// emit sends an event unless the context is cancelled. Reports whether the
// send happened.
func (p *OpenAIChat) emit(ctx context.Context, events chan<- ChatEvent, ev ChatEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *OpenAIChat) setAuth(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
