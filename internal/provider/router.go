package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
)

// ModelConfig is the per-model configuration the router consults: its
// profile bucket and (for cloud models) its price table entry.
type ModelConfig struct {
	Profile Profile
	Price   Price
}

// RouterConfig wires the two external LLM backends
type RouterConfig struct {
	LocalBaseURL  string
	CloudBaseURL  string
	CloudAPIKey   string
	CloudProxyURL string
	Timeout       time.Duration
	Models        map[string]ModelConfig
	Retry         RetryPolicy
	Logger        *slog.Logger
}

// Router maps a model identifier to a scoped Client handle.
type Router struct {
	cfg        RouterConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	inUse   int
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	transport := http.DefaultTransport
	if cfg.CloudProxyURL != "" {
		proxyURL, err := url.Parse(cfg.CloudProxyURL)
		if err != nil {
			return nil, pipelineerr.ConfigurationError("invalid cloud proxy URL", err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxyURL)
		transport = t
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

func (r *Router) modelConfig(modelName string) (ModelConfig, error) {
	if r.cfg.Models == nil {
		return ModelConfig{}, pipelineerr.ConfigurationError(fmt.Sprintf("model %q is not configured", modelName), nil)
	}
	mc, ok := r.cfg.Models[modelName]
	if !ok {
		return ModelConfig{}, pipelineerr.ConfigurationError(fmt.Sprintf("model %q is unknown to the provider router", modelName), nil)
	}
	return mc, nil
}

// Acquire returns a scoped Client handle for modelName plus a release
// function. Callers must call release on every exit path (success, error,
// cancellation) — defer release() immediately after a successful Acquire.
func (r *Router) Acquire(ctx context.Context, modelName string) (Client, func(), error) {
	mc, err := r.modelConfig(modelName)
	if err != nil {
		return nil, func() {}, err
	}

	r.mu.Lock()
	r.inUse++
	r.mu.Unlock()
	release := func() {
		r.mu.Lock()
		r.inUse--
		r.mu.Unlock()
	}

	retry := r.cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy()
	}

	switch ClassifyModel(modelName) {
	case KindCloud:
		if r.cfg.CloudAPIKey == "" {
			release()
			return nil, func() {}, pipelineerr.ConfigurationError("cloud provider requires an API key", nil)
		}
		r.logger.InfoContext(ctx, "provider dispatch", "model", modelName, "kind", "cloud")
		client := &cloudClient{
			httpClient: r.httpClient,
			baseURL:    defaultString(r.cfg.CloudBaseURL, "https://api.anthropic.com"),
			apiKey:     r.cfg.CloudAPIKey,
			model:      modelName,
			profile:    mc.Profile,
			price:      mc.Price,
			retry:      retry,
			logger:     r.logger,
		}
		return client, release, nil
	default:
		r.logger.InfoContext(ctx, "provider dispatch", "model", modelName, "kind", "local")
		client := &localClient{
			httpClient: r.httpClient,
			baseURL:    defaultString(r.cfg.LocalBaseURL, "http://localhost:11434"),
			model:      modelName,
			profile:    mc.Profile,
			retry:      retry,
			logger:     r.logger,
		}
		return client, release, nil
	}
}

// Use runs fn with a scoped Client handle, guaranteeing release on every
// exit path including a panic unwinding through fn.
func (r *Router) Use(ctx context.Context, modelName string, fn func(Client) error) error {
	client, release, err := r.Acquire(ctx, modelName)
	if err != nil {
		return err
	}
	defer release()
	return fn(client)
}

// InUse returns the number of currently acquired (not yet released)
// handles, for tests asserting release-on-all-paths.
func (r *Router) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
