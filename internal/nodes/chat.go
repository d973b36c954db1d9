package nodes

import (
	"context"
	"fmt"
	"strings"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/tokens"
)

// defaultQuotePrompt wraps retrieved quotes around the question. The
// node's quotePrompt input replaces it; {{quote}} and {{question}} are
// substituted.
const defaultQuotePrompt = `Use the content inside <data></data> as your knowledge.

<data>
{{quote}}
</data>

Question: "{{question}}"`

const quoteSeparator = "\n------\n"

// ChatHandler runs one chat completion over history, quotes and the user
// question.
type ChatHandler struct {
	deps Deps
}

func (h *ChatHandler) Handle(ctx context.Context, call *engine.Call) (*engine.Result, error) {
	entry, err := resolveModel(h.deps, call)
	if err != nil {
		return nil, err
	}
	counter := h.deps.counter(entry.ID)

	system := call.String(inputSystemPrompt)
	q := question(call)
	history := historyInput(call)
	quotes, _ := convert[[]flowchat.Quote](call.Input(flowchat.PortQuoteQA))

	tmpl := call.String(inputQuotePrompt)
	if tmpl == "" {
		tmpl = defaultQuotePrompt
	}
	quotes, history = fitPrompt(counter, budget(entry.MaxContext, entry.MaxResponse), system, tmpl, q, quotes, history)

	userText := q
	if len(quotes) > 0 {
		userText = renderQuotePrompt(tmpl, quotes, q)
	}

	contents := historyContents(history)
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))
	cfg := generateConfig(call, system)
	if cfg.MaxOutputTokens == 0 && entry.MaxResponse > 0 {
		cfg.MaxOutputTokens = int32(entry.MaxResponse)
	}
	req := &adkmodel.LLMRequest{Model: entry.Name, Contents: contents, Config: cfg}

	speak := respond(call)
	var onDelta func(string)
	if speak && call.Run.Stream {
		onDelta = answerEmitter(call)
	}
	gen, err := generate(llmContext(ctx, h.deps, call.Node), entry.LLM, req, call.Run.Stream, onDelta)
	if err != nil {
		return nil, fmt.Errorf("chat completion with %s: %w", entry.ID, err)
	}
	answer := strings.TrimSpace(gen.text.String())
	if speak && !gen.streamed && answer != "" {
		answerEmitter(call)(answer)
	}

	in, out := tokenUsage(gen, counter, promptTexts(req))
	res := &engine.Result{
		Outputs: map[string]any{
			flowchat.PortAnswerText: answer,
			flowchat.PortHistory:    appendTurn(history, q, answer),
		},
		Usage: []flowchat.UsageEntry{{
			Model:        entry.ID,
			InputTokens:  in,
			OutputTokens: out,
			TotalPoints:  entry.Points(in, out),
		}},
		Response: &flowchat.NodeResponse{
			Query:      q,
			TextOutput: answer,
			QuoteCount: len(quotes),
		},
	}
	if speak {
		res.Answer = answer
	}
	return res, nil
}

// budget is the prompt allowance of a model. A negative result means
// unlimited; a response reservation at or above the context leaves zero.
func budget(maxContext, maxResponse int) int {
	if maxContext <= 0 {
		return -1
	}
	return max(maxContext-maxResponse, 0)
}

// fitPrompt trims quotes and history so that the system prompt, history
// and rendered user turn count at most limit tokens. Quotes claim the
// budget first and keep their longest relevance-ordered prefix; history
// gets what is left and drops its oldest items. The system prompt and
// question are always kept. A negative limit keeps everything.
func fitPrompt(c tokens.Counter, limit int, system, tmpl, q string, quotes []flowchat.Quote, history []flowchat.ChatItem) ([]flowchat.Quote, []flowchat.ChatItem) {
	if limit < 0 {
		return quotes, history
	}
	fixed := c.Count(system)
	turn := q
	if len(quotes) > 0 {
		room := limit - fixed - c.Count(renderQuotePrompt(tmpl, nil, q))
		quotes, _ = tokens.FitPrefix(c, quotes, room, quoteText)
		// Per-quote costs omit separators; confirm against the rendered turn.
		for len(quotes) > 0 && fixed+c.Count(renderQuotePrompt(tmpl, quotes, q)) > limit {
			quotes = quotes[:len(quotes)-1]
		}
		if len(quotes) > 0 {
			turn = renderQuotePrompt(tmpl, quotes, q)
		}
	}
	history, _ = tokens.FitSuffix(c, history, limit-fixed-c.Count(turn), func(it flowchat.ChatItem) string { return it.Text })
	return quotes, history
}

func quoteText(q flowchat.Quote) string {
	if q.A == "" {
		return q.Q
	}
	return q.Q + "\n" + q.A
}

func renderQuotePrompt(tmpl string, quotes []flowchat.Quote, q string) string {
	parts := make([]string, len(quotes))
	for i, quote := range quotes {
		parts[i] = quoteText(quote)
	}
	r := strings.NewReplacer("{{quote}}", strings.Join(parts, quoteSeparator), "{{question}}", q)
	return r.Replace(tmpl)
}
