package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/services"
	"github.com/soochol/flowchat/internal/sse"
	"github.com/soochol/flowchat/internal/xjson"
)

const maxRequestBytes = 4 << 20

// CompletionRequest is the body of POST /api/v1/chat/completions.
type CompletionRequest struct {
	AppID              string          `json:"appId"`
	ChatID             string          `json:"chatId"`
	ResponseChatItemID string          `json:"responseChatItemId"`
	Stream             bool            `json:"stream"`
	Detail             bool            `json:"detail"`
	Variables          map[string]any  `json:"variables"`
	Messages           []Message       `json:"messages"`
	Nodes              []flowchat.Node `json:"nodes"`
	Edges              []flowchat.Edge `json:"edges"`
	SelectedToolIDs    []string        `json:"selectedToolIds"`
	Resume             bool            `json:"resume"`
}

type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts either a plain string or an array of
// {type: "text", text} parts.
type MessageContent string

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := xjson.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = MessageContent(s)
		return nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := xjson.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	*c = MessageContent(strings.Join(texts, "\n"))
	return nil
}

// query returns the text of the last user message.
func (req *CompletionRequest) query() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return string(req.Messages[i].Content)
		}
	}
	return ""
}

type completionUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TotalPoints      float64 `json:"totalPoints"`
}

type completionChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type CompletionResponse struct {
	ID           string                     `json:"id"`
	Model        string                     `json:"model"`
	Usage        completionUsage            `json:"usage"`
	Choices      []completionChoice         `json:"choices"`
	ResponseData []flowchat.NodeResponse    `json:"responseData,omitempty"`
	Interactive  *flowchat.InteractiveValue `json:"interactive,omitempty"`
}

func (s *Server) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := xjson.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AppID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}

	chatReq := services.ChatRequest{
		AppID:              req.AppID,
		ChatID:             req.ChatID,
		ResponseChatItemID: req.ResponseChatItemID,
		Credentials:        bearer(r),
		Query:              req.query(),
		Stream:             req.Stream,
		Detail:             req.Detail,
		Variables:          req.Variables,
		Nodes:              req.Nodes,
		Edges:              req.Edges,
		SelectedToolIDs:    req.SelectedToolIDs,
		Resume:             req.Resume,
	}

	if req.Stream {
		s.streamCompletion(w, r, chatReq)
		return
	}

	collector := &sse.Collector{}
	res, err := s.chatSvc.Dispatch(r.Context(), chatReq, collector)
	if err != nil {
		slog.Warn("chat completion failed", "app_id", req.AppID, "chat_id", req.ChatID, "err", err)
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buildResponse(req, res, collector.Text()))
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, chatReq services.ChatRequest) {
	writer, err := sse.NewWriter(r.Context(), w, chatReq.Detail)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, err = s.chatSvc.Dispatch(r.Context(), chatReq, writer)
	if err != nil && !errors.Is(err, flowchat.ErrUpstreamAuth) {
		slog.Warn("chat stream failed", "app_id", chatReq.AppID, "chat_id", chatReq.ChatID, "err", err)
	}
	writer.Finish(err)
}

func buildResponse(req CompletionRequest, res *services.ChatResult, streamed string) CompletionResponse {
	id := res.DataID
	if id == "" {
		id = uuid.NewString()
	}
	content := streamed
	if content == "" {
		content = res.Answer
	}
	out := CompletionResponse{
		ID:          id,
		Interactive: res.Interactive,
	}
	for _, u := range res.Usage {
		out.Usage.PromptTokens += u.InputTokens
		out.Usage.CompletionTokens += u.OutputTokens
		if out.Model == "" {
			out.Model = u.Model
		}
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	out.Usage.TotalPoints = res.TotalPoints

	var choice completionChoice
	choice.Message.Role = "assistant"
	choice.Message.Content = content
	choice.FinishReason = "stop"
	out.Choices = []completionChoice{choice}
	if req.Detail {
		out.ResponseData = res.Responses
	}
	return out
}
