package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
)

// localClient talks to an Ollama-compatible HTTP endpoint. Local calls are
// always free (cost=0)
type localClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	profile    Profile
	retry      RetryPolicy
	sleep      func(time.Duration)
	logger     *slog.Logger
}

func (c *localClient) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func (c *localClient) Kind() Kind        { return KindLocal }
func (c *localClient) Model() string     { return c.model }
func (c *localClient) Profile() Profile  { return c.profile }

func (c *localClient) sleeper() func(time.Duration) {
	if c.sleep != nil {
		return c.sleep
	}
	return time.Sleep
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	Message         struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (c *localClient) Generate(ctx context.Context, prompt string, opts Options) (string, Usage, error) {
	req := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: opts.SystemText,
		Stream: false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	resp, err := c.doWithRetry(ctx, "/api/generate", req)
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Response, usageOf(resp), nil
}

func (c *localClient) Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	req := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	resp, err := c.doWithRetry(ctx, "/api/chat", req)
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Message.Content, usageOf(resp), nil
}

func (c *localClient) VisionGenerate(ctx context.Context, prompt string, images []Image, opts Options) (string, Usage, error) {
	return "", Usage{}, pipelineerr.NewStageError("", pipelineerr.KindConfiguration, "vision_generate is cloud-only", ErrVisionUnsupported)
}

func usageOf(resp ollamaResponse) Usage {
	return Usage{Tokens: model.TokensUsed{Input: resp.PromptEvalCount, Output: resp.EvalCount}, CostUSD: 0}
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// doWithRetry posts body to path and decodes an ollamaResponse, retrying
// transport-layer faults: 3x exponential backoff on
// network errors and 5xx, no retry on 4xx.
func (c *localClient) doWithRetry(ctx context.Context, path string, body any) (ollamaResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ollamaResponse{}, pipelineerr.NewStageError("", pipelineerr.KindConfiguration, "encode request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.NextDelay(attempt)
			c.log().WarnContext(ctx, "local provider retry", "model", c.model, "attempt", attempt, "delay", delay, "error", lastErr)
			c.sleeper()(delay)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return ollamaResponse{}, pipelineerr.NewStageError("", pipelineerr.KindConfiguration, "build request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			fault := ClassifyError(err)
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "local provider request failed", err)
			if !fault.Retryable() || attempt == c.retry.MaxRetries {
				return ollamaResponse{}, lastErr
			}
			continue
		}

		respBody, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "read local provider response", readErr)
			if attempt == c.retry.MaxRetries {
				return ollamaResponse{}, lastErr
			}
			continue
		}

		if fault := ClassifyStatus(httpResp.StatusCode); fault != FaultNone {
			err := fmt.Errorf("local provider returned status %d: %s", httpResp.StatusCode, string(respBody))
			if fault == FaultClient {
				return ollamaResponse{}, pipelineerr.NewStageError("", pipelineerr.KindProvider, "local provider rejected request", err)
			}
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "local provider server error", err)
			if attempt == c.retry.MaxRetries {
				return ollamaResponse{}, lastErr
			}
			continue
		}

		var parsed ollamaResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return ollamaResponse{}, pipelineerr.NewStageError("", pipelineerr.KindSchema, "decode local provider response", err)
		}
		return parsed, nil
	}
	return ollamaResponse{}, lastErr
}
