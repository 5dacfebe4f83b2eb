// Package provider implements the Provider Router: it maps a model
// identifier to either a local (Ollama-compatible) or cloud
// (Anthropic-compatible) client, attaches a context profile, prices usage,
// and retries transport faults. It generalizes a Backend-interface and
// token-pricing pattern from "dispatch an agent process" to "call a
// chat/completion endpoint".
package provider

import (
	"context"
	"regexp"

	"github.com/antigravity-dev/videoloom/internal/model"
)

// Kind is one of {local, cloud}, selected by model identifier pattern.
type Kind string

const (
	KindLocal Kind = "local"
	KindCloud Kind = "cloud"
)

// cloudModelPattern matches model identifiers routed to the cloud
// provider: identifiers matching claude* route to cloud, everything else
// routes to local.
var cloudModelPattern = regexp.MustCompile(`^claude`)

// ClassifyModel returns the Kind a model identifier routes to.
func ClassifyModel(modelName string) Kind {
	if cloudModelPattern.MatchString(modelName) {
		return KindCloud
	}
	return KindLocal
}

// Message is one turn of a chat-style conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Image is one image attachment for vision_generate, cloud only.
type Image struct {
	MimeType string
	Data     []byte
}

// Options bounds a single generate/chat call.
type Options struct {
	MaxTokens   int
	Temperature float64
	SystemText  string
}

// Usage is what a provider call reports back: tokens used and the USD
// cost computed from the model's price table entry (0 for local models).
type Usage struct {
	Tokens  model.TokensUsed
	CostUSD float64
}

// Client is the capability-typed handle the router hands back: generate,
// chat, and (cloud only) vision_generate, all awaitable via context.
type Client interface {
	Kind() Kind
	Model() string
	Profile() Profile
	Generate(ctx context.Context, prompt string, opts Options) (string, Usage, error)
	Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error)
	VisionGenerate(ctx context.Context, prompt string, images []Image, opts Options) (string, Usage, error)
}

// ErrVisionUnsupported is returned by local clients' VisionGenerate: vision
// is a cloud-only capability
var ErrVisionUnsupported = visionUnsupportedError{}

type visionUnsupportedError struct{}

func (visionUnsupportedError) Error() string {
	return "provider: vision_generate is only supported by the cloud provider"
}
