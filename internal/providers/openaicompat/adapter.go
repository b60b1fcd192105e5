package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

// Config holds the per-backend wiring: name, base URL, and anything that
// differs from the default OpenAI-compatible wire shape. Grounded on
// llm/providers/openaicompat.Config.
type Config struct {
	ProviderName     string
	BaseURL          string
	DefaultModel     string
	EndpointPath     string
	ModelsPath       string
	EmbeddingsPath   string
	SpeechPath       string
	BuildHeaders     func(req *http.Request, apiKey string)
	NoParallelModels map[string]bool
	ForbiddenParams  []string
	AllowReasoningWithTools bool
}

// Adapter implements providers.Adapter for the OpenAI-compatible wire
// format shared across OpenAI, DeepSeek, Groq, Cerebras, Mistral, Qwen,
// GLM, and Kimi.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Adapter. client is the process-wide providers.SharedClient.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Adapter {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = "/v1/models"
	}
	if cfg.EmbeddingsPath == "" {
		cfg.EmbeddingsPath = "/v1/embeddings"
	}
	if cfg.SpeechPath == "" {
		cfg.SpeechPath = "/v1/audio/speech"
	}
	if cfg.BuildHeaders == nil {
		cfg.BuildHeaders = func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string { return a.cfg.ProviderName }

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func (a *Adapter) model(req *providers.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.DefaultModel
}

func (a *Adapter) policyFor(req *providers.ChatRequest, reactActive bool) providers.RequestPolicy {
	return providers.ResolvePolicy(req, a.cfg.NoParallelModels, a.cfg.AllowReasoningWithTools, reactActive, a.cfg.ForbiddenParams)
}

// ChatUnary implements providers.Adapter.
func (a *Adapter) ChatUnary(ctx context.Context, apiKey string, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	policy := a.policyFor(req, req.ReasoningMode == "react")
	wr := buildWireRequest(req, policy, false)
	wr.Model = a.model(req)

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build request: %w", err)
	}
	a.cfg.BuildHeaders(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), a.Name())
	}

	var wresp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	out := fromWireResponse(wresp, a.Name())
	if wresp.Created != 0 {
		out.CreatedAt = time.Unix(wresp.Created, 0)
	}
	return out, nil
}

// ChatStream implements providers.Adapter.
func (a *Adapter) ChatStream(ctx context.Context, apiKey string, req *providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	policy := a.policyFor(req, req.ReasoningMode == "react")
	wr := buildWireRequest(req, policy, true)
	wr.Model = a.model(req)

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build request: %w", err)
	}
	a.cfg.BuildHeaders(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), a.Name())
	}

	return streamSSE(ctx, resp.Body, a.Name()), nil
}

// streamSSE parses a text/event-stream body of OpenAI-wire chunks.
// Grounded on llm/providers/openaicompat.StreamSSE.
func streamSSE(ctx context.Context, body io.ReadCloser, provider string) <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, providers.StreamChunk{Err: upstreamError(provider, err)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var wresp wireResponse
			if err := json.Unmarshal([]byte(data), &wresp); err != nil {
				emit(ctx, ch, providers.StreamChunk{Err: upstreamError(provider, err)})
				return
			}

			for _, choice := range wresp.Choices {
				chunk := providers.StreamChunk{
					ID:           wresp.ID,
					Provider:     provider,
					Model:        wresp.Model,
					Created:      wresp.Created,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Delta:        types.Message{Role: types.RoleAssistant},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
					if len(choice.Delta.ToolCalls) > 0 {
						chunk.ToolCallDeltas = make([]providers.ToolCallDelta, 0, len(choice.Delta.ToolCalls))
						for i, tc := range choice.Delta.ToolCalls {
							chunk.ToolCallDeltas = append(chunk.ToolCallDeltas, providers.ToolCallDelta{
								Index:             i,
								ID:                tc.ID,
								Name:              tc.Function.Name,
								ArgumentsFragment: string(tc.Function.Arguments),
							})
						}
					}
				}
				if wresp.Usage != nil {
					chunk.Usage = &providers.ChatUsage{
						PromptTokens:     wresp.Usage.PromptTokens,
						CompletionTokens: wresp.Usage.CompletionTokens,
						TotalTokens:      wresp.Usage.TotalTokens,
					}
				}
				if !emit(ctx, ch, chunk) {
					return
				}
			}
		}
	}()
	return ch
}

func emit(ctx context.Context, ch chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}

// Embed implements providers.Adapter.
func (a *Adapter) Embed(ctx context.Context, apiKey string, input []string, model string) ([][]float32, error) {
	if model == "" {
		model = a.cfg.DefaultModel
	}
	payload, err := json.Marshal(wireEmbeddingsRequest{Model: model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.cfg.EmbeddingsPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build embeddings request: %w", err)
	}
	a.cfg.BuildHeaders(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), a.Name())
	}

	var wresp wireEmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	out := make([][]float32, len(wresp.Data))
	for _, d := range wresp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// TTS implements providers.Adapter.
func (a *Adapter) TTS(ctx context.Context, apiKey string, text string, voice string) ([]byte, error) {
	payload, err := json.Marshal(wireSpeechRequest{Model: a.cfg.DefaultModel, Input: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.cfg.SpeechPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build speech request: %w", err)
	}
	a.cfg.BuildHeaders(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), a.Name())
	}
	return io.ReadAll(resp.Body)
}

// ListModels implements providers.Adapter.
func (a *Adapter) ListModels(ctx context.Context, apiKey string) ([]providers.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(a.cfg.ModelsPath), nil)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build models request: %w", err)
	}
	a.cfg.BuildHeaders(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), a.Name())
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamError(a.Name(), err)
	}
	return unmarshalModelsResponse(data)
}
