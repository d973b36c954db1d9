// Package engine executes normalized graphs: it activates nodes as their
// inputs settle, dispatches them to handlers and halts at completion, at a
// pause or on the first handler failure.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/soochol/flowchat/internal/dag"
	"github.com/soochol/flowchat/internal/flowchat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Scheduler runs graphs. One Scheduler serves every request; all per-run
// state lives in Execute.
type Scheduler struct {
	registry    Registry
	pool        *ants.Pool
	logger      *slog.Logger
	tracer      trace.Tracer
	nodeTimeout time.Duration
}

type Option func(*Scheduler)

// WithPool runs handlers on p. The pool should be non-blocking; a
// submission it rejects falls back to a plain goroutine.
func WithPool(p *ants.Pool) Option {
	return func(s *Scheduler) { s.pool = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithNodeTimeout bounds each handler invocation. Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.nodeTimeout = d }
}

func New(registry Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/soochol/flowchat/internal/engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is the result of one Execute call.
type Outcome struct {
	RunID       string
	Status      map[string]flowchat.NodeStatus
	Outputs     map[string]map[string]any
	Answer      string
	Interactive *flowchat.InteractiveValue
}

// NodeStatus reports the final status of a node.
func (o *Outcome) NodeStatus(id string) flowchat.NodeStatus {
	return o.Status[id]
}

func (o *Outcome) Paused() bool {
	return o.Interactive != nil
}

type nodeResult struct {
	idx  int
	res  *Result
	err  error
	took time.Duration
}

// Execute runs g to completion, to a pause or to the first failure. The
// returned Outcome is non-nil even when err is set.
func (s *Scheduler) Execute(ctx context.Context, run *Run, g *dag.RuntimeGraph) (*Outcome, error) {
	st := newRunState(g)
	results := make(chan nodeResult, g.Len())
	running := 0
	var (
		failure  error
		pausedAt = -1
		pause    *Pause
		answer   strings.Builder
	)

	dispatch := func(i int, resume *Resume) bool {
		if n := run.runTimes.Add(1); n > MaxRunTimes {
			failure = fmt.Errorf("%w: more than %d node runs", flowchat.ErrMaxRunTimesExceeded, MaxRunTimes)
			return false
		}
		node := g.Node(i)
		st.status[i] = flowchat.NodeRunning
		vars := run.Variables.Snapshot()
		call := &Call{
			Node:      node,
			Inputs:    st.inputs(i, vars),
			Variables: vars,
			Run:       run,
			Emitter:   run.Emitter,
			Graph:     g.Graph,
			Resume:    resume,
			sched:     s,
		}
		run.Emitter.Emit(flowchat.StreamEvent{
			Event:  flowchat.EventFlowNodeStatus,
			NodeID: node.ID,
			Data:   flowchat.NodeStatusPayload{NodeID: node.ID, Status: "running", Name: displayName(node)},
		})
		running++
		s.submit(func() {
			results <- s.invoke(ctx, run, i, call)
		})
		return true
	}

	for _, i := range g.Seed.Entries {
		if st.status[i] != flowchat.NodeWaiting {
			continue
		}
		var resume *Resume
		if i == g.Seed.Resume {
			iv := g.Seed.Interactive
			resume = &Resume{State: iv.State, Prompt: iv.Prompt, Reply: run.Query}
		}
		if !dispatch(i, resume) {
			break
		}
	}

	for {
		if failure == nil && pause == nil {
			st.settle(func(i int) bool { return dispatch(i, nil) })
		}
		if running == 0 {
			break
		}
		r := <-results
		running--
		node := g.Node(r.idx)

		var resp flowchat.NodeResponse
		if r.res != nil {
			run.Usage.Add(stampUsage(node, r.res.Usage)...)
			resp = nodeResponse(node, r.res, r.took)
		} else {
			resp = nodeResponse(node, &Result{}, r.took)
		}

		switch {
		case r.err != nil:
			st.status[r.idx] = flowchat.NodeDone
			resp.Error = r.err.Error()
			if failure == nil {
				failure = &flowchat.NodeError{NodeID: node.ID, NodeType: node.Type, Err: r.err}
			}
			s.logger.Warn("node failed", "run_id", run.ID, "node_id", node.ID, "type", node.Type, "err", r.err)
			run.Emitter.Emit(flowchat.StreamEvent{
				Event:  flowchat.EventFlowNodeStatus,
				NodeID: node.ID,
				Data:   flowchat.NodeStatusPayload{NodeID: node.ID, Status: "error", Name: displayName(node), Error: r.err.Error()},
			})
		case r.res != nil && r.res.Pause != nil:
			if pause == nil && failure == nil {
				st.status[r.idx] = flowchat.NodePaused
				pausedAt, pause = r.idx, r.res.Pause
				resp.Status = flowchat.NodePaused
			} else {
				// Only one pause per run; the node runs again after resume.
				st.status[r.idx] = flowchat.NodeWaiting
				continue
			}
		default:
			res := r.res
			if res == nil {
				res = &Result{}
			}
			if res.Outputs == nil {
				res.Outputs = map[string]any{}
			}
			st.status[r.idx] = flowchat.NodeDone
			st.outputs[r.idx] = res.Outputs
			st.propagate(r.idx, false)
			if len(res.VariableWrites) > 0 {
				run.Variables.Apply(res.VariableWrites)
				run.Emitter.Emit(flowchat.StreamEvent{
					Event:  flowchat.EventUpdateVariables,
					NodeID: node.ID,
					Data:   res.VariableWrites,
				})
			}
			answer.WriteString(res.Answer)
			s.logger.Debug("node done", "run_id", run.ID, "node_id", node.ID, "type", node.Type, "took", r.took)
		}
		run.trace.Add(resp)
	}

	out := &Outcome{RunID: run.ID, Answer: answer.String()}
	switch {
	case failure != nil:
	case pause != nil:
		out.Interactive = st.capture(pausedAt, pause)
		run.Emitter.Emit(flowchat.StreamEvent{
			Event:  flowchat.EventInteractive,
			NodeID: out.Interactive.NodeID,
			Data:   out.Interactive.Prompt,
		})
	default:
		st.finish()
	}
	out.Status = st.statuses()
	out.Outputs = st.doneOutputs()
	return out, failure
}

// invoke runs one handler inside a span, converting panics to errors.
func (s *Scheduler) invoke(ctx context.Context, run *Run, i int, call *Call) (r nodeResult) {
	r.idx = i
	node := call.Node
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "execute_node "+node.ID, trace.WithAttributes(
		attribute.String("flowchat.run_id", run.ID),
		attribute.String("flowchat.node_type", string(node.Type)),
		attribute.Int("flowchat.depth", run.Depth),
	))
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("handler panic: %v", p)
		}
		if r.err != nil {
			span.RecordError(r.err)
			span.SetStatus(codes.Error, r.err.Error())
		}
		span.End()
		r.took = time.Since(start)
	}()

	h, ok := s.registry.Handler(node.Type)
	if !ok {
		r.err = fmt.Errorf("no handler for node type %q", node.Type)
		return r
	}
	if s.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.nodeTimeout)
		defer cancel()
	}
	r.res, r.err = h.Handle(ctx, call)
	return r
}

func (s *Scheduler) submit(task func()) {
	if s.pool != nil {
		if err := s.pool.Submit(task); err == nil {
			return
		}
	}
	go task()
}

func displayName(n *flowchat.Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

func stampUsage(node *flowchat.Node, entries []flowchat.UsageEntry) []flowchat.UsageEntry {
	for i := range entries {
		if entries[i].NodeID == "" {
			entries[i].NodeID = node.ID
		}
		if entries[i].ModuleName == "" {
			entries[i].ModuleName = displayName(node)
		}
	}
	return entries
}

func nodeResponse(node *flowchat.Node, res *Result, took time.Duration) flowchat.NodeResponse {
	var resp flowchat.NodeResponse
	if res.Response != nil {
		resp = *res.Response
	}
	resp.NodeID = node.ID
	resp.ModuleType = node.Type
	resp.ModuleName = displayName(node)
	resp.Status = flowchat.NodeDone
	resp.RunningTime = math.Round(took.Seconds()*100) / 100
	for _, u := range res.Usage {
		if resp.Model == "" {
			resp.Model = u.Model
		}
		resp.InputTokens += u.InputTokens
		resp.OutputTokens += u.OutputTokens
		resp.TotalPoints += u.TotalPoints
	}
	return resp
}
