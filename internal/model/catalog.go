package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/usage"
)

// ErrUnknownModel is returned when a node references a model id the
// catalog does not know.
var ErrUnknownModel = errors.New("unknown model")

// Entry is one configured model.
type Entry struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Provider    string       `json:"provider"`
	MaxContext  int          `json:"maxContext"`
	MaxResponse int          `json:"maxResponse"`
	Price       usage.Price  `json:"price"`
	LLM         adkmodel.LLM `json:"-"`
}

// Points prices a call against this model.
func (e *Entry) Points(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*e.Price.Input + float64(outputTokens)*e.Price.Output) / 1000
}

// Catalog resolves model ids to LLM clients, limits and prices.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	def     string
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// FromConfig builds one client per provider and registers every model.
func FromConfig(cfg *config.Config) (*Catalog, error) {
	c := NewCatalog()
	llms := make(map[string]adkmodel.LLM, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		llm, err := BuildLLM(name, pc)
		if err != nil {
			return nil, err
		}
		llms[name] = llm
	}
	for _, m := range cfg.Models {
		llm, ok := llms[m.Provider]
		if !ok {
			return nil, fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
		c.Add(&Entry{
			ID:          m.ID,
			Name:        m.Name,
			Provider:    m.Provider,
			MaxContext:  m.MaxContext,
			MaxResponse: m.MaxResponse,
			Price:       usage.Price{Input: m.InputPrice, Output: m.OutputPrice},
			LLM:         llm,
		})
	}
	if def, ok := cfg.DefaultModel(); ok {
		c.SetDefault(def.ID)
	}
	return c, nil
}

// Add registers or replaces an entry. The first entry becomes the default
// until SetDefault is called.
func (c *Catalog) Add(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.Name == "" {
		e.Name = e.ID
	}
	c.entries[e.ID] = e
	if c.def == "" {
		c.def = e.ID
	}
}

func (c *Catalog) SetDefault(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.def = id
}

// Get returns the entry for id. An empty id selects the default model.
func (c *Catalog) Get(id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id == "" {
		id = c.def
	}
	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return e, nil
}

// List returns every entry sorted by id.
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prices returns the price table of every entry.
func (c *Catalog) Prices() usage.PriceTable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := make(usage.PriceTable, len(c.entries))
	for id, e := range c.entries {
		t[id] = e.Price
	}
	return t
}

// Text concatenates the text parts of a content.
func Text(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
