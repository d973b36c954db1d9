package model

import (
	"errors"
	"fmt"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/flowchat/internal/config"
)

// ErrUnsupportedProvider is returned for provider types without a client.
var ErrUnsupportedProvider = errors.New("unsupported provider type")

type providerBuilder func(name string, cfg config.ProviderConfig) adkmodel.LLM

var providerBuilders = map[string]providerBuilder{
	"openai": newOpenAIProvider,
	"gemini": func(name string, cfg config.ProviderConfig) adkmodel.LLM {
		return NewGeminiLLM(name, cfg.APIKey)
	},
}

// BuildLLM creates the client of one configured provider. Types without a
// builder are served by the OpenAI-compatible client when a URL is set.
func BuildLLM(name string, cfg config.ProviderConfig) (adkmodel.LLM, error) {
	if build, ok := providerBuilders[cfg.Type]; ok {
		return build(name, cfg), nil
	}
	if cfg.URL != "" {
		return newOpenAIProvider(name, cfg), nil
	}
	return nil, fmt.Errorf("provider %q: %w %q", name, ErrUnsupportedProvider, cfg.Type)
}

func newOpenAIProvider(name string, cfg config.ProviderConfig) adkmodel.LLM {
	opts := []OpenAIOption{WithOpenAIName(name), WithOpenAITimeout(cfg.Timeout)}
	if cfg.URL != "" {
		opts = append(opts, WithOpenAIBaseURL(cfg.URL))
	}
	return NewOpenAILLM(cfg.APIKey, opts...)
}
