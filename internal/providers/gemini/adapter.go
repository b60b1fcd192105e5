package gemini

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

// Config holds Gemini-specific wiring plus the two optional collaborators
// the signature roundtrip and context caching behaviors need.
type Config struct {
	BaseURL       string
	DefaultModel  string
	SignatureStore providers.SignatureStore
	CacheStore     providers.ContextCacheStore
}

// Adapter implements providers.Adapter against the Generative Language
// API, grounded on llm/providers/gemini/provider.go.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Gemini Adapter.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// Name implements providers.Adapter.
func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) headers(req *http.Request, apiKey string) {
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) model(req *providers.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.DefaultModel
}

func (a *Adapter) endpoint(model, method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimRight(a.cfg.BaseURL, "/"), model, method)
}

func (a *Adapter) sigFor(ctx context.Context, toolCallID string) string {
	sig, ok, err := providers.ReattachToolCallSignature(ctx, a.cfg.SignatureStore, toolCallID)
	if err != nil || !ok {
		return ""
	}
	return sig
}

// buildRequest normalizes messages, converts them to Gemini's content
// shape with signature reattachment, and — when the prefix exceeds
// providers.ContextCacheThreshold — upserts a cached-content object and
// sends only the final turn plus a cachedContent reference.
func (a *Adapter) buildRequest(ctx context.Context, req *providers.ChatRequest, policy providers.RequestPolicy) (wireRequest, error) {
	normalized := providers.NormalizeGemini(req.Messages)
	systemInstruction, contents := toContents(normalized, func(id string) string { return a.sigFor(ctx, id) })

	wr := wireRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}
	if policy.ForceTextResponseFormat {
		wr.GenerationConfig.ResponseMimeType = "text/plain"
	}
	if policy.ToolsEnabled {
		wr.Tools = toTools(req.Tools)
	}

	if a.cfg.CacheStore != nil && len(contents) > 1 {
		prefix := contents[:len(contents)-1]
		charCount := 0
		for _, c := range prefix {
			for _, p := range c.Parts {
				charCount += len(p.Text)
			}
		}
		if providers.ShouldCacheContext(charCount) {
			hash, err := providers.HashPrefix(prefix)
			if err == nil {
				name, err := a.cfg.CacheStore.Upsert(ctx, hash, func(ctx context.Context) (string, error) {
					return a.createCachedContent(ctx, a.model(req), prefix)
				})
				if err == nil && name != "" {
					wr.CachedContent = name
					wr.Contents = contents[len(contents)-1:]
				}
			}
		}
	}

	return wr, nil
}

func (a *Adapter) createCachedContent(ctx context.Context, model string, prefix []content) (string, error) {
	payload, err := json.Marshal(cachedContentRequest{Model: "models/" + model, Contents: prefix})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+"/v1beta/cachedContents", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	var cc cachedContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&cc); err != nil {
		return "", err
	}
	return cc.Name, nil
}

// ChatUnary implements providers.Adapter.
func (a *Adapter) ChatUnary(ctx context.Context, apiKey string, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	policy := providers.ResolvePolicy(req, nil, true, req.ReasoningMode == "react", nil)
	model := a.model(req)
	wr, err := a.buildRequest(ctx, req, policy)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(model, "generateContent"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
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

	out := fromResponse(wresp, a.Name(), model)
	a.annotateAndStoreSignatures(ctx, &wresp, out)
	return out, nil
}

// annotateAndStoreSignatures embeds a thought_signature HTML comment in
// the last textual choice and persists any tool-call signatures for
// reattachment on the next turn, per spec §4.4.
func (a *Adapter) annotateAndStoreSignatures(ctx context.Context, wresp *wireResponse, out *providers.ChatResponse) {
	if a.cfg.SignatureStore == nil {
		return
	}
	for ci, c := range wresp.Candidates {
		if ci >= len(out.Choices) {
			continue
		}
		var lastSig string
		callIndex := 0
		for _, p := range c.Content.Parts {
			if p.FunctionCall != nil {
				if p.ThoughtSignature != "" && callIndex < len(out.Choices[ci].Message.ToolCalls) {
					tc := out.Choices[ci].Message.ToolCalls[callIndex]
					_ = providers.StoreToolCallSignature(ctx, a.cfg.SignatureStore, tc.ID, p.ThoughtSignature)
				}
				callIndex++
			}
			if p.ThoughtSignature != "" {
				lastSig = p.ThoughtSignature
			}
		}
		if lastSig != "" {
			out.Choices[ci].Message.Content += "\n" + providers.SignatureAnnotation(lastSig)
		}
	}
}

// ChatStream implements providers.Adapter.
func (a *Adapter) ChatStream(ctx context.Context, apiKey string, req *providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	policy := providers.ResolvePolicy(req, nil, true, req.ReasoningMode == "react", nil)
	model := a.model(req)
	wr, err := a.buildRequest(ctx, req, policy)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(model, "streamGenerateContent")+"?alt=sse", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
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

	return streamSSE(ctx, resp.Body, a.Name(), model), nil
}

func streamSSE(ctx context.Context, body io.ReadCloser, provider, model string) <-chan providers.StreamChunk {
	ch := make(chan providers.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		toolIndex := 0
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

			var wresp wireResponse
			if err := json.Unmarshal([]byte(data), &wresp); err != nil {
				emit(ctx, ch, providers.StreamChunk{Err: upstreamError(err)})
				return
			}

			for _, c := range wresp.Candidates {
				chunk := providers.StreamChunk{Provider: provider, Model: model, Index: c.Index, Delta: types.Message{Role: types.RoleAssistant}}
				for _, p := range c.Content.Parts {
					if p.Text != "" {
						chunk.Delta.Content += p.Text
					}
					if p.FunctionCall != nil {
						argsJSON, _ := json.Marshal(p.FunctionCall.Args)
						chunk.ToolCallDeltas = append(chunk.ToolCallDeltas, providers.ToolCallDelta{
							Index: toolIndex, Name: p.FunctionCall.Name, ArgumentsFragment: string(argsJSON),
						})
						toolIndex++
					}
				}
				if c.FinishReason != "" {
					chunk.FinishReason = mapFinishReason(c.FinishReason)
				}
				if wresp.UsageMetadata != nil {
					chunk.Usage = &providers.ChatUsage{
						PromptTokens:     wresp.UsageMetadata.PromptTokenCount,
						CompletionTokens: wresp.UsageMetadata.CandidatesTokenCount,
						TotalTokens:      wresp.UsageMetadata.TotalTokenCount,
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
		model = "text-embedding-004"
	}
	out := make([][]float32, 0, len(input))
	for _, text := range input {
		payload, err := json.Marshal(map[string]any{
			"model":   "models/" + model,
			"content": content{Parts: []part{{Text: text}}},
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: marshal embed request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(model, "embedContent"), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gemini: build embed request: %w", err)
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
		var er struct {
			Embedding struct {
				Values []float32 `json:"values"`
			} `json:"embedding"`
		}
		err = json.NewDecoder(resp.Body).Decode(&er)
		resp.Body.Close()
		if err != nil {
			return nil, upstreamError(err)
		}
		out = append(out, er.Embedding.Values)
	}
	return out, nil
}

// TTS implements providers.Adapter. Gemini has no dedicated speech API
// in this adapter's scope.
func (a *Adapter) TTS(ctx context.Context, apiKey string, text string, voice string) ([]byte, error) {
	return nil, providers.ErrUnsupportedOperation
}

// ListModels implements providers.Adapter.
func (a *Adapter) ListModels(ctx context.Context, apiKey string) ([]providers.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1beta/models", nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: build models request: %w", err)
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
	var lr modelsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, upstreamError(err)
	}
	out := make([]providers.Model, 0, len(lr.Models))
	for _, m := range lr.Models {
		out = append(out, providers.Model{ID: strings.TrimPrefix(m.Name, "models/"), OwnedBy: "google"})
	}
	return out, nil
}
