package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/usage"
)

// MaxRunTimes caps node invocations per request, nested runs included.
const MaxRunTimes = 500

// Run is the request-scoped context of one execution. Handlers treat it
// as read-only.
type Run struct {
	ID        string
	AppID     string
	ChatID    string
	Principal flowchat.Principal
	Query     string
	History   []flowchat.ChatItem
	Stream    bool
	Detail    bool
	Emitter   flowchat.Emitter
	Variables *Variables
	Usage     *usage.Aggregator
	Depth     int

	runTimes *atomic.Int64
	trace    *Trace
}

// NewRun creates a top-level run.
func NewRun(vars *Variables, emitter flowchat.Emitter) *Run {
	if emitter == nil {
		emitter = Discard
	}
	return &Run{
		ID:        uuid.NewString(),
		Emitter:   emitter,
		Variables: vars,
		Usage:     usage.New(),
		runTimes:  new(atomic.Int64),
		trace:     &Trace{},
	}
}

// Child derives a nested run sharing the cap, ledger and trace.
func (r *Run) Child(vars *Variables) *Run {
	child := *r
	child.ID = uuid.NewString()
	child.Variables = vars
	child.Depth = r.Depth + 1
	return &child
}

// RunTimes reports node invocations so far across the run tree.
func (r *Run) RunTimes() int64 {
	return r.runTimes.Load()
}

// Responses returns the flattened per-node trace.
func (r *Run) Responses() []flowchat.NodeResponse {
	return r.trace.List()
}

// Trace is the ordered per-node response list of a run tree.
type Trace struct {
	mu    sync.Mutex
	items []flowchat.NodeResponse
}

func (t *Trace) Add(resp flowchat.NodeResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, resp)
}

func (t *Trace) List() []flowchat.NodeResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]flowchat.NodeResponse, len(t.items))
	copy(out, t.items)
	return out
}

type discard struct{}

func (discard) Emit(flowchat.StreamEvent) {}

// Discard is an emitter that drops every event.
var Discard flowchat.Emitter = discard{}

// Quiet wraps an emitter so answer text from a nested run does not reach
// the caller as assistant output.
func Quiet(e flowchat.Emitter) flowchat.Emitter {
	return quiet{e}
}

type quiet struct{ next flowchat.Emitter }

func (q quiet) Emit(ev flowchat.StreamEvent) {
	if ev.Event == flowchat.EventAnswer || ev.Event == flowchat.EventFastAnswer {
		return
	}
	q.next.Emit(ev)
}
