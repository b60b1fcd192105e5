package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/providers"
	"github.com/nexusgate/gateway/types"
)

const defaultAPIVersion = "2023-06-01"

// Config holds Claude-specific wiring.
type Config struct {
	BaseURL      string
	APIVersion   string
	DefaultModel string
}

// Adapter implements providers.Adapter against the Anthropic Messages API.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Claude Adapter.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func (a *Adapter) headers(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", a.cfg.APIVersion)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) model(req *providers.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.DefaultModel
}

// ChatUnary implements providers.Adapter.
func (a *Adapter) ChatUnary(ctx context.Context, apiKey string, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	policy := providers.ResolvePolicy(req, nil, true, req.ReasoningMode == "react", nil)
	wr := toWireRequest(req, policy)
	wr.Model = a.model(req)

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	a.headers(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	var wresp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return nil, upstreamError(err)
	}
	return fromWireResponse(wresp, a.Name()), nil
}

// ChatStream implements providers.Adapter. Claude's content_block_delta
// events carry partial_json fragments for tool_use blocks; the adapter
// surfaces them as ToolCallDelta fragments indexed by content-block index,
// matching the same accumulate-by-index contract as the OpenAI family so
// the reasoning drivers don't special-case providers.
func (a *Adapter) ChatStream(ctx context.Context, apiKey string, req *providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	policy := providers.ResolvePolicy(req, nil, true, req.ReasoningMode == "react", nil)
	wr := toWireRequest(req, policy)
	wr.Model = a.model(req)
	wr.Stream = true

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	a.headers(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	return streamSSE(ctx, resp.Body, a.Name(), wr.Model), nil
}

func streamSSE(ctx context.Context, body io.ReadCloser, provider, model string) <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		blockTypes := map[int]string{}
		msgID := ""

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, providers.StreamChunk{Err: upstreamError(err)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var ev wireStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				emit(ctx, ch, providers.StreamChunk{Err: upstreamError(err)})
				return
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					msgID = ev.Message.ID
				}
			case "content_block_start":
				if ev.ContentBlock != nil {
					blockTypes[ev.Index] = ev.ContentBlock.Type
					if ev.ContentBlock.Type == "tool_use" {
						chunk := providers.StreamChunk{
							ID: msgID, Provider: provider, Model: model,
							ToolCallDeltas: []providers.ToolCallDelta{{
								Index: ev.Index, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name,
							}},
						}
						if !emit(ctx, ch, chunk) {
							return
						}
					}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				chunk := providers.StreamChunk{ID: msgID, Provider: provider, Model: model, Delta: types.Message{Role: types.RoleAssistant}}
				switch ev.Delta.Type {
				case "text_delta":
					chunk.Delta.Content = ev.Delta.Text
				case "input_json_delta":
					chunk.ToolCallDeltas = []providers.ToolCallDelta{{Index: ev.Index, ArgumentsFragment: ev.Delta.PartialJSON}}
				default:
					continue
				}
				if !emit(ctx, ch, chunk) {
					return
				}
			case "message_delta":
				finish := ""
				if ev.Delta != nil {
					finish = mapStopReason(ev.Delta.StopReason)
				}
				chunk := providers.StreamChunk{ID: msgID, Provider: provider, Model: model, FinishReason: finish}
				if ev.Usage != nil {
					chunk.Usage = &providers.ChatUsage{CompletionTokens: ev.Usage.OutputTokens}
				}
				if !emit(ctx, ch, chunk) {
					return
				}
			case "message_stop":
				return
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

// Embed implements providers.Adapter. Anthropic has no embeddings endpoint.
func (a *Adapter) Embed(ctx context.Context, apiKey string, input []string, model string) ([][]float32, error) {
	return nil, providers.ErrUnsupportedOperation
}

// TTS implements providers.Adapter. Anthropic has no speech endpoint.
func (a *Adapter) TTS(ctx context.Context, apiKey string, text string, voice string) ([]byte, error) {
	return nil, providers.ErrUnsupportedOperation
}

// ListModels implements providers.Adapter.
func (a *Adapter) ListModels(ctx context.Context, apiKey string) ([]providers.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build models request: %w", err)
	}
	a.headers(httpReq, apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamError(err)
	}
	return unmarshalModelsResponse(data)
}
