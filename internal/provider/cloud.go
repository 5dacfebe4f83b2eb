package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
)

// cloudClient talks to the Anthropic Messages API, optionally through an
// HTTP proxy. Cost is computed from the per-model price table.
type cloudClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	profile    Profile
	price      Price
	retry      RetryPolicy
	sleep      func(time.Duration)
	logger     *slog.Logger
}

func (c *cloudClient) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func (c *cloudClient) Kind() Kind       { return KindCloud }
func (c *cloudClient) Model() string    { return c.model }
func (c *cloudClient) Profile() Profile { return c.profile }

func (c *cloudClient) sleeper() func(time.Duration) {
	if c.sleep != nil {
		return c.sleep
	}
	return time.Sleep
}

type anthropicContentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *cloudClient) Generate(ctx context.Context, prompt string, opts Options) (string, Usage, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, opts)
}

func (c *cloudClient) Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokensOrDefault(opts.MaxTokens),
		System:      opts.SystemText,
		Temperature: opts.Temperature,
		Messages:    toAnthropicMessages(messages),
	}
	return c.send(ctx, req)
}

func (c *cloudClient) VisionGenerate(ctx context.Context, prompt string, images []Image, opts Options) (string, Usage, error) {
	blocks := make([]anthropicContentBlock, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicImage{
				Type:      "base64",
				MediaType: img.MimeType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: prompt})

	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokensOrDefault(opts.MaxTokens),
		System:      opts.SystemText,
		Temperature: opts.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
	}
	return c.send(ctx, req)
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 4096
	}
	return v
}

func toAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		out = append(out, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return out
}

func (c *cloudClient) send(ctx context.Context, req anthropicRequest) (string, Usage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, pipelineerr.NewStageError("", pipelineerr.KindConfiguration, "encode request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.NextDelay(attempt)
			c.log().WarnContext(ctx, "cloud provider retry", "model", c.model, "attempt", attempt, "delay", delay, "error", lastErr)
			c.sleeper()(delay)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return "", Usage{}, pipelineerr.NewStageError("", pipelineerr.KindConfiguration, "build request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			fault := ClassifyError(err)
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "cloud provider request failed", err)
			if !fault.Retryable() || attempt == c.retry.MaxRetries {
				return "", Usage{}, lastErr
			}
			continue
		}

		respBody, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "read cloud provider response", readErr)
			if attempt == c.retry.MaxRetries {
				return "", Usage{}, lastErr
			}
			continue
		}

		if fault := ClassifyStatus(httpResp.StatusCode); fault != FaultNone {
			err := fmt.Errorf("cloud provider returned status %d: %s", httpResp.StatusCode, string(respBody))
			if fault == FaultClient {
				return "", Usage{}, pipelineerr.NewStageError("", pipelineerr.KindProvider, "cloud provider rejected request", err)
			}
			lastErr = pipelineerr.NewStageError("", pipelineerr.KindTransport, "cloud provider server error", err)
			if attempt == c.retry.MaxRetries {
				return "", Usage{}, lastErr
			}
			continue
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", Usage{}, pipelineerr.NewStageError("", pipelineerr.KindSchema, "decode cloud provider response", err)
		}

		var text string
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		usage := model.TokensUsed{Input: parsed.Usage.InputTokens, Output: parsed.Usage.OutputTokens}
		return text, Usage{Tokens: usage, CostUSD: costFor(usage, c.price)}, nil
	}
	return "", Usage{}, lastErr
}

func costFor(usage model.TokensUsed, price Price) float64 {
	return (float64(usage.Input)/1_000_000.0)*price.InputPerMtok + (float64(usage.Output)/1_000_000.0)*price.OutputPerMtok
}
