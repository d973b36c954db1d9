package model_test

import (
	"errors"
	"testing"

	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/model"
)

func TestBuildLLM(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.ProviderConfig
		wantName string
	}{
		{"gemini", config.ProviderConfig{Type: "gemini", APIKey: "k"}, "google"},
		{"openai", config.ProviderConfig{Type: "openai", APIKey: "k"}, "primary"},
		{"compatible url", config.ProviderConfig{Type: "vllm", URL: "http://localhost:8000/v1"}, "local"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm, err := model.BuildLLM(tc.wantName, tc.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if llm.Name() != tc.wantName {
				t.Fatalf("expected name %q, got %q", tc.wantName, llm.Name())
			}
		})
	}
}

func TestBuildLLM_Unsupported(t *testing.T) {
	_, err := model.BuildLLM("mystery", config.ProviderConfig{Type: "totally-unknown"})
	if !errors.Is(err, model.ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
