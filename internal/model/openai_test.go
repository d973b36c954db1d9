package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"
)

func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, seq func(func(*adkmodel.LLMResponse, error) bool)) []*adkmodel.LLMResponse {
	t.Helper()
	var out []*adkmodel.LLMResponse
	for resp, err := range seq {
		if err != nil {
			t.Fatalf("GenerateContent error: %v", err)
		}
		out = append(out, resp)
	}
	return out
}

func TestOpenAI_StreamTextAndUsage(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`,
	}, &body)
	defer srv.Close()

	llm := NewOpenAILLM("sk-test", WithOpenAIBaseURL(srv.URL), WithOpenAIName("local"))
	if llm.Name() != "local" {
		t.Errorf("Name() = %q, want local", llm.Name())
	}
	req := &adkmodel.LLMRequest{
		Model: "m",
		Contents: []*genai.Content{
			genai.NewContentFromText("hi", genai.RoleUser),
		},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText("be brief", genai.RoleUser),
		},
	}
	got := collect(t, llm.GenerateContent(context.Background(), req, true))

	var text strings.Builder
	for _, r := range got {
		if r.Partial {
			text.WriteString(Text(r.Content))
		}
	}
	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text.String())
	}
	final := got[len(got)-1]
	if final.Partial || !final.TurnComplete {
		t.Fatalf("last response should be the final one: %+v", final)
	}
	if final.UsageMetadata == nil || final.UsageMetadata.PromptTokenCount != 12 || final.UsageMetadata.CandidatesTokenCount != 2 {
		t.Errorf("unexpected usage: %+v", final.UsageMetadata)
	}
	if Text(final.Content) != "" {
		t.Errorf("final response should not repeat text, got %q", Text(final.Content))
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system + user", len(msgs))
	}
	if role := msgs[0].(map[string]any)["role"]; role != "system" {
		t.Errorf("first message role = %v, want system", role)
	}
	if body["stream"] != true {
		t.Errorf("stream flag not set: %v", body["stream"])
	}
}

func TestOpenAI_StreamToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"c2","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
		`{"id":"c2","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"id":"c2","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer srv.Close()

	llm := NewOpenAILLM("", WithOpenAIBaseURL(srv.URL))
	req := &adkmodel.LLMRequest{
		Model:    "m",
		Contents: []*genai.Content{genai.NewContentFromText("find go", genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 "lookup",
				Description:          "look something up",
				ParametersJsonSchema: map[string]any{"type": "object"},
			}}}},
		},
	}
	got := collect(t, llm.GenerateContent(context.Background(), req, true))
	final := got[len(got)-1]
	if final.Content == nil || len(final.Content.Parts) != 1 {
		t.Fatalf("expected one function call part, got %+v", final.Content)
	}
	fc := final.Content.Parts[0].FunctionCall
	if fc == nil || fc.ID != "call_1" || fc.Name != "lookup" || fc.Args["q"] != "go" {
		t.Errorf("unexpected function call: %+v", fc)
	}
}

func TestOpenAI_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c3","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	llm := NewOpenAILLM("k", WithOpenAIBaseURL(srv.URL))
	got := collect(t, llm.GenerateContent(context.Background(), &adkmodel.LLMRequest{
		Model:    "m",
		Contents: []*genai.Content{genai.NewContentFromText("x", genai.RoleUser)},
	}, false))
	if len(got) != 1 {
		t.Fatalf("got %d responses, want 1", len(got))
	}
	if Text(got[0].Content) != "done" {
		t.Errorf("text = %q, want done", Text(got[0].Content))
	}
	if got[0].UsageMetadata.TotalTokenCount != 4 {
		t.Errorf("total tokens = %d, want 4", got[0].UsageMetadata.TotalTokenCount)
	}
}

func TestOpenAI_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	llm := NewOpenAILLM("k", WithOpenAIBaseURL(srv.URL))
	var gotErr error
	for _, err := range llm.GenerateContent(context.Background(), &adkmodel.LLMRequest{Model: "m"}, true) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "openai") {
		t.Errorf("expected wrapped openai error, got %v", gotErr)
	}
}

func TestConvertContent_ToolRoundTrip(t *testing.T) {
	call := &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{
		FunctionCall: &genai.FunctionCall{ID: "c", Name: "f", Args: map[string]any{"a": 1}},
	}}}
	msgs, err := convertContent(call)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].OfAssistant == nil || len(msgs[0].OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected assistant tool call message, got %+v", msgs)
	}

	reply := &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{
		FunctionResponse: &genai.FunctionResponse{ID: "c", Name: "f", Response: map[string]any{"ok": true}},
	}}}
	msgs, err = convertContent(reply)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].OfTool == nil || msgs[0].OfTool.ToolCallID != "c" {
		t.Fatalf("expected tool message, got %+v", msgs)
	}
}
