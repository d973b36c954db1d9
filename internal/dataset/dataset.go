// Package dataset provides an in-memory keyword searcher behind the
// DatasetSearcher port. Real deployments plug a vector store in instead.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/soochol/flowchat/internal/flowchat"
)

// File is the on-disk layout of one dataset.
type File struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Items []struct {
		Q      string `yaml:"q"`
		A      string `yaml:"a"`
		Source string `yaml:"source"`
	} `yaml:"items"`
}

// Memory ranks quotes by the share of query terms they contain.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]flowchat.Quote
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]flowchat.Quote)}
}

// Add appends quotes to a dataset. Missing ids are generated.
func (m *Memory) Add(datasetID string, quotes ...flowchat.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range quotes {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.DatasetID = datasetID
		m.items[datasetID] = append(m.items[datasetID], q)
	}
}

// LoadDir loads every *.yaml file in dir. A missing dir is not an error.
func (m *Memory) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read dataset %s: %w", p, err)
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parse dataset %s: %w", p, err)
		}
		if f.ID == "" {
			f.ID = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		}
		for _, it := range f.Items {
			m.Add(f.ID, flowchat.Quote{Q: it.Q, A: it.A, SourceName: it.Source})
		}
		slog.Info("dataset loaded", "id", f.ID, "items", len(f.Items))
	}
	return nil
}

// Search returns up to limit quotes ordered by descending score. Quotes
// sharing no term with the query are not returned.
func (m *Memory) Search(ctx context.Context, datasetID, query string, limit int) ([]flowchat.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	m.mu.RLock()
	items := m.items[datasetID]
	m.mu.RUnlock()

	var hits []flowchat.Quote
	for _, q := range items {
		words := make(map[string]bool)
		for _, w := range tokenize(q.Q + " " + q.A) {
			words[w] = true
		}
		matched := 0
		for _, t := range terms {
			if words[t] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		q.Score = float64(matched) / float64(len(terms))
		hits = append(hits, q)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// tokenize lowercases text and splits it into unique words.
func tokenize(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
