// Package tokens estimates token counts and trims prompt material to a
// token budget.
package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

const approxRunesPerToken = 4

// Counter estimates the tokens of a text.
type Counter interface {
	Count(text string) int
}

// SimpleCounter approximates one token per four runes.
type SimpleCounter struct{}

func (SimpleCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return max(utf8.RuneCountInString(text)/approxRunesPerToken, 1)
}

// TiktokenCounter counts with a BPE codec.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktoken picks the codec for model, falling back to cl100k_base for
// models tiktoken does not know.
func NewTiktoken(model string) (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return SimpleCounter{}.Count(text)
	}
	return len(ids)
}

var counters sync.Map

// ForModel returns a cached counter for model.
func ForModel(model string) Counter {
	if c, ok := counters.Load(model); ok {
		return c.(Counter)
	}
	var c Counter
	tc, err := NewTiktoken(model)
	if err != nil {
		slog.Warn("tiktoken unavailable, estimating tokens", "model", model, "err", err)
		c = SimpleCounter{}
	} else {
		c = tc
	}
	actual, _ := counters.LoadOrStore(model, c)
	return actual.(Counter)
}
