// Package usage accumulates the billable ledger of one run.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
)

// Price is the cost of a model in points per 1000 tokens.
type Price struct {
	Input  float64 `json:"inputPrice" yaml:"input_price"`
	Output float64 `json:"outputPrice" yaml:"output_price"`
}

// PriceTable maps model ids to prices.
type PriceTable map[string]Price

// Points prices a call. Unknown models are free.
func (t PriceTable) Points(model string, inputTokens, outputTokens int) float64 {
	p, ok := t[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1000
}

// Aggregator collects usage entries in emission order. It is safe for
// concurrent use and shared by a run and all of its nested runs.
type Aggregator struct {
	mu      sync.Mutex
	entries []flowchat.UsageEntry
	start   time.Time
	flushed bool
}

func New() *Aggregator {
	return &Aggregator{start: time.Now()}
}

// Add appends entries without deduplication.
func (a *Aggregator) Add(entries ...flowchat.UsageEntry) {
	if len(entries) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entries...)
}

// Entries returns a copy of the ledger.
func (a *Aggregator) Entries() []flowchat.UsageEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]flowchat.UsageEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Aggregator) TotalPoints() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, e := range a.entries {
		total += e.TotalPoints
	}
	return total
}

func (a *Aggregator) Duration() time.Duration {
	return time.Since(a.start)
}

// Flush hands the ledger and wall-clock duration to billing. Only the
// first call reaches billing; later calls are no-ops.
func (a *Aggregator) Flush(ctx context.Context, billing ports.Billing, teamID, appID string) error {
	a.mu.Lock()
	if a.flushed {
		a.mu.Unlock()
		return nil
	}
	a.flushed = true
	entries := make([]flowchat.UsageEntry, len(a.entries))
	copy(entries, a.entries)
	a.mu.Unlock()

	if billing == nil {
		return nil
	}
	if err := billing.RecordUsage(ctx, teamID, appID, entries, a.Duration().Seconds()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
