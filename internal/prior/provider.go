package prior

import (
	"context"
	"fmt"
	"strings"
)

// Provider kinds accepted by New.
const (
	KindNone     = "none"
	KindDeepFace = "deepface"
	KindOllama   = "ollama"
	KindOpenAI   = "openai"
	KindGemini   = "gemini"
)

// Options selects and configures a provider.
type Options struct {
	Kind        string
	URL         string
	Model       string
	OpenAIToken string
	GeminiKey   string
}

// New builds the provider named by opts.Kind. KindNone (or empty) returns nil.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindNone:
		return nil, nil
	case KindDeepFace:
		return NewDeepFace(opts.URL), nil
	case KindOllama:
		return NewOllama(opts.URL, opts.Model), nil
	case KindOpenAI:
		p, err := NewOpenAI(opts.OpenAIToken, opts.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindGemini:
		p, err := NewGemini(ctx, opts.GeminiKey, opts.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown prior provider %q", opts.Kind)
	}
}
