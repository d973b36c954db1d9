package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/soochol/flowchat/internal/dag"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRegistry map[flowchat.NodeType]Handler

func (r testRegistry) Handler(t flowchat.NodeType) (Handler, bool) {
	h, ok := r[t]
	return h, ok
}

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCounter() *counter { return &counter{calls: map[string]int{}} }

func (c *counter) hit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[id]++
}

func (c *counter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

// passThrough produces an "out" port echoing its "in" port.
func passThrough(c *counter) Handler {
	return HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
		c.hit(call.Node.ID)
		return &Result{
			Outputs: map[string]any{"out": call.String("in") + call.Node.ID},
			Usage:   []flowchat.UsageEntry{{Model: "m", InputTokens: 1, TotalPoints: 1}},
		}, nil
	})
}

type recorder struct {
	mu     sync.Mutex
	events []flowchat.StreamEvent
}

func (r *recorder) Emit(ev flowchat.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) named(name string) []flowchat.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []flowchat.StreamEvent
	for _, ev := range r.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRun(t *testing.T, emitter flowchat.Emitter) *Run {
	t.Helper()
	vars, err := NewVariables(map[string]any{"lang": "en"}, nil)
	require.NoError(t, err)
	return NewRun(vars, emitter)
}

func normalize(t *testing.T, nodes []flowchat.Node, edges []flowchat.Edge, opts dag.Options) *dag.RuntimeGraph {
	t.Helper()
	rg, err := dag.Normalize(nodes, edges, opts)
	require.NoError(t, err)
	return rg
}

func edge(src, port, dst, in string) flowchat.Edge {
	return flowchat.Edge{Source: src, SourceHandle: port, Target: dst, TargetHandle: in}
}

func TestSchedulerDiamondRunsSinkOnce(t *testing.T) {
	c := newCounter()
	reg := testRegistry{"start": passThrough(c), "step": passThrough(c)}
	nodes := []flowchat.Node{
		{ID: "a", Type: "start", IsEntry: true},
		{ID: "b", Type: "step"},
		{ID: "c", Type: "step"},
		{ID: "d", Type: "step"},
	}
	edges := []flowchat.Edge{
		edge("a", "out", "b", "in"),
		edge("a", "out", "c", "in"),
		edge("b", "out", "d", "left"),
		edge("c", "out", "d", "right"),
	}
	pool, err := ants.NewPool(4, ants.WithNonblocking(true))
	require.NoError(t, err)
	defer pool.Release()

	s := New(reg, WithPool(pool))
	run := newTestRun(t, nil)
	out, err := s.Execute(context.Background(), run, normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, c.get(id), "node %s", id)
		assert.Equal(t, flowchat.NodeDone, out.NodeStatus(id))
	}
	assert.Len(t, run.Usage.Entries(), 4)
	assert.Len(t, run.Responses(), 4)
	assert.EqualValues(t, 4, run.RunTimes())
}

func switchHandler(port string) Handler {
	return HandlerFunc(func(context.Context, *Call) (*Result, error) {
		return &Result{Outputs: map[string]any{port: true}}, nil
	})
}

func TestSchedulerSkipsUntakenBranch(t *testing.T) {
	c := newCounter()
	reg := testRegistry{
		"start":  passThrough(c),
		"switch": switchHandler(flowchat.PortIsEmpty),
		"step":   passThrough(c),
	}
	nodes := []flowchat.Node{
		{ID: "start", Type: "start", IsEntry: true},
		{ID: "sw", Type: "switch"},
		{ID: "empty", Type: "step"},
		{ID: "full", Type: "step"},
		{ID: "after", Type: "step"},
	}
	edges := []flowchat.Edge{
		edge("start", "out", "sw", "in"),
		edge("sw", flowchat.PortIsEmpty, "empty", ""),
		edge("sw", flowchat.PortUnEmpty, "full", ""),
		edge("full", "out", "after", "in"),
	}
	out, err := New(reg).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)

	assert.Equal(t, flowchat.NodeDone, out.NodeStatus("empty"))
	assert.Equal(t, flowchat.NodeSkipped, out.NodeStatus("full"))
	assert.Equal(t, flowchat.NodeSkipped, out.NodeStatus("after"))
	assert.Zero(t, c.get("full"))
	assert.Zero(t, c.get("after"))
}

func TestSchedulerMergeAfterBranch(t *testing.T) {
	c := newCounter()
	reg := testRegistry{
		"start":  passThrough(c),
		"switch": switchHandler(flowchat.PortTrue),
		"step":   passThrough(c),
	}
	nodes := []flowchat.Node{
		{ID: "start", Type: "start", IsEntry: true},
		{ID: "sw", Type: "switch"},
		{ID: "yes", Type: "step"},
		{ID: "no", Type: "step"},
		{ID: "join", Type: "step"},
	}
	edges := []flowchat.Edge{
		edge("start", "out", "sw", "in"),
		edge("sw", flowchat.PortTrue, "yes", ""),
		edge("sw", flowchat.PortFalse, "no", ""),
		edge("yes", "out", "join", "in"),
		edge("no", "out", "join", "in"),
	}
	out, err := New(reg).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)
	assert.Equal(t, flowchat.NodeDone, out.NodeStatus("join"))
	assert.Equal(t, "yesjoin", out.Outputs["join"]["out"])
	assert.Equal(t, 1, c.get("join"))
}

func TestSchedulerRequiredPortFromSkippedBranch(t *testing.T) {
	c := newCounter()
	reg := testRegistry{
		"start":  passThrough(c),
		"switch": switchHandler(flowchat.PortTrue),
		"step":   passThrough(c),
	}
	nodes := []flowchat.Node{
		{ID: "start", Type: "start", IsEntry: true},
		{ID: "sw", Type: "switch"},
		{ID: "no", Type: "step"},
		{ID: "sink", Type: "step", Inputs: []flowchat.Input{{Key: "need", Required: true}}},
	}
	edges := []flowchat.Edge{
		edge("start", "out", "sw", "in"),
		edge("sw", flowchat.PortFalse, "no", ""),
		edge("start", "out", "sink", "in"),
		edge("no", "out", "sink", "need"),
	}
	out, err := New(reg).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)
	assert.Equal(t, flowchat.NodeSkipped, out.NodeStatus("sink"))
	assert.Zero(t, c.get("sink"))
}

func TestSchedulerTemplatesAndVariables(t *testing.T) {
	var seen string
	reg := testRegistry{
		"start": HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
			return &Result{
				Outputs:        map[string]any{"out": "hello"},
				VariableWrites: map[string]any{"mood": "happy"},
			}, nil
		}),
		"step": HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
			seen = call.String("prompt")
			return &Result{Outputs: map[string]any{}}, nil
		}),
	}
	nodes := []flowchat.Node{
		{ID: "a", Type: "start", IsEntry: true},
		{ID: "b", Type: "step", Inputs: []flowchat.Input{{Key: "prompt", Value: "{{a.out}} in {{lang}} feeling {{mood}} {{missing}}"}}},
	}
	edges := []flowchat.Edge{edge("a", "out", "b", "")}
	rec := &recorder{}
	run := newTestRun(t, rec)
	_, err := New(reg).Execute(context.Background(), run, normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)

	assert.Equal(t, "hello in en feeling happy {{missing}}", seen)
	v, _ := run.Variables.Get("mood")
	assert.Equal(t, "happy", v)
	assert.Len(t, rec.named(flowchat.EventUpdateVariables), 1)
	assert.Len(t, rec.named(flowchat.EventFlowNodeStatus), 2)
}

func pauseGraph() ([]flowchat.Node, []flowchat.Edge) {
	nodes := []flowchat.Node{
		{ID: "start", Type: "start", IsEntry: true},
		{ID: "tool", Type: "step"},
		{ID: "ask", Type: "ask"},
		{ID: "final", Type: "step"},
	}
	edges := []flowchat.Edge{
		edge("start", "out", "tool", "in"),
		edge("tool", "out", "ask", "in"),
		edge("ask", "out", "final", "in"),
	}
	return nodes, edges
}

func askHandler(c *counter) Handler {
	return HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
		c.hit(call.Node.ID)
		if call.Resume == nil {
			return &Result{Pause: &Pause{
				State:  map[string]any{"asked": call.String("in")},
				Prompt: map[string]any{"question": "pick one"},
			}}, nil
		}
		return &Result{Outputs: map[string]any{"out": call.Resume.Reply + "|" + call.Resume.State["asked"].(string)}}, nil
	})
}

func TestSchedulerPauseAndResume(t *testing.T) {
	c := newCounter()
	reg := testRegistry{"start": passThrough(c), "step": passThrough(c), "ask": askHandler(c)}
	nodes, edges := pauseGraph()
	s := New(reg)

	rec := &recorder{}
	first := newTestRun(t, rec)
	out, err := s.Execute(context.Background(), first, normalize(t, nodes, edges, dag.Options{}))
	require.NoError(t, err)
	require.True(t, out.Paused())
	assert.Equal(t, flowchat.NodePaused, out.NodeStatus("ask"))
	assert.Equal(t, flowchat.NodeWaiting, out.NodeStatus("final"))
	assert.Zero(t, c.get("final"))
	assert.Len(t, rec.named(flowchat.EventInteractive), 1)

	iv := out.Interactive
	assert.Equal(t, "ask", iv.NodeID)
	assert.Contains(t, iv.NodeOutputs, "start")
	assert.Contains(t, iv.NodeOutputs, "tool")

	second := newTestRun(t, nil)
	second.Query = "B"
	out, err = s.Execute(context.Background(), second, normalize(t, nodes, edges, dag.Options{Interactive: iv}))
	require.NoError(t, err)
	require.False(t, out.Paused())

	assert.Equal(t, 1, c.get("start"), "start must not re-run on resume")
	assert.Equal(t, 1, c.get("tool"), "tool must not re-run on resume")
	assert.Equal(t, 2, c.get("ask"))
	assert.Equal(t, 1, c.get("final"))
	assert.Equal(t, "B|starttoolfinal", out.Outputs["final"]["out"])
	assert.Len(t, second.Usage.Entries(), 1, "only final bills on resume")
}

func TestSchedulerStopsAtMaxRunTimes(t *testing.T) {
	c := newCounter()
	reg := testRegistry{"start": passThrough(c), "step": passThrough(c)}
	nodes := []flowchat.Node{{ID: "a", Type: "start", IsEntry: true}, {ID: "b", Type: "step"}}
	edges := []flowchat.Edge{edge("a", "out", "b", "in")}
	run := newTestRun(t, nil)
	run.runTimes.Store(MaxRunTimes - 1)

	_, err := New(reg).Execute(context.Background(), run, normalize(t, nodes, edges, dag.Options{}))
	require.ErrorIs(t, err, flowchat.ErrMaxRunTimesExceeded)
	assert.Equal(t, 1, c.get("a"))
	assert.Zero(t, c.get("b"))
	assert.Len(t, run.Usage.Entries(), 1)
}

func TestSchedulerFailureKeepsCompletedUsage(t *testing.T) {
	c := newCounter()
	boom := errors.New("model unavailable")
	release := make(chan struct{})
	reg := testRegistry{
		"start": passThrough(c),
		"slow": HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
			<-release
			return &Result{Outputs: map[string]any{"out": "x"}, Usage: []flowchat.UsageEntry{{ModuleName: "slow", TotalPoints: 2}}}, nil
		}),
		"fail": HandlerFunc(func(context.Context, *Call) (*Result, error) {
			defer close(release)
			return nil, boom
		}),
		"step": passThrough(c),
	}
	nodes := []flowchat.Node{
		{ID: "a", Type: "start", IsEntry: true},
		{ID: "slow", Type: "slow"},
		{ID: "bad", Type: "fail"},
		{ID: "after", Type: "step"},
	}
	edges := []flowchat.Edge{
		edge("a", "out", "slow", "in"),
		edge("a", "out", "bad", "in"),
		edge("bad", "out", "after", "in"),
	}
	rec := &recorder{}
	run := newTestRun(t, rec)
	_, err := New(reg).Execute(context.Background(), run, normalize(t, nodes, edges, dag.Options{}))

	var nodeErr *flowchat.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "bad", nodeErr.NodeID)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.get("after"))

	entries := run.Usage.Entries()
	require.Len(t, entries, 2, "start and the in-flight slow node are billed")
	assert.Equal(t, "a", entries[0].NodeID)
	assert.Equal(t, "slow", entries[1].ModuleName)
	assert.NotEmpty(t, rec.named(flowchat.EventFlowNodeStatus))
}

func TestSchedulerMissingHandler(t *testing.T) {
	nodes := []flowchat.Node{{ID: "a", Type: "unknown", IsEntry: true}}
	_, err := New(testRegistry{}).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, nil, dag.Options{}))
	var nodeErr *flowchat.NodeError
	require.ErrorAs(t, err, &nodeErr)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	reg := testRegistry{"start": HandlerFunc(func(context.Context, *Call) (*Result, error) {
		panic("boom")
	})}
	nodes := []flowchat.Node{{ID: "a", Type: "start", IsEntry: true}}
	_, err := New(reg).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, nil, dag.Options{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
}

func TestSchedulerNodeTimeout(t *testing.T) {
	reg := testRegistry{"start": HandlerFunc(func(ctx context.Context, _ *Call) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})}
	nodes := []flowchat.Node{{ID: "a", Type: "start", IsEntry: true}}
	_, err := New(reg, WithNodeTimeout(10*time.Millisecond)).Execute(context.Background(), newTestRun(t, nil), normalize(t, nodes, nil, dag.Options{}))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNestedRunSharesLedgerAndCap(t *testing.T) {
	var innerCalls atomic.Int32
	inner := HandlerFunc(func(_ context.Context, call *Call) (*Result, error) {
		innerCalls.Add(1)
		return &Result{
			Outputs: map[string]any{"out": call.Run.Query},
			Usage:   []flowchat.UsageEntry{{ModuleName: "inner", TotalPoints: 3}},
			Answer:  "hidden",
		}, nil
	})
	outer := HandlerFunc(func(ctx context.Context, call *Call) (*Result, error) {
		sub := []flowchat.Node{{ID: "child", Type: "inner", IsEntry: true}}
		res, err := call.Nested(ctx, sub, nil, NestedOptions{Query: "nested question", Emitter: Quiet(call.Emitter)})
		if err != nil {
			return nil, err
		}
		return &Result{Outputs: map[string]any{"out": res.Outputs["child"]["out"]}}, nil
	})
	reg := testRegistry{"outer": outer, "inner": inner}
	nodes := []flowchat.Node{{ID: "tools", Type: "outer", IsEntry: true}}
	run := newTestRun(t, nil)
	out, err := New(reg).Execute(context.Background(), run, normalize(t, nodes, nil, dag.Options{}))
	require.NoError(t, err)

	assert.Equal(t, "nested question", out.Outputs["tools"]["out"])
	assert.EqualValues(t, 1, innerCalls.Load())
	assert.EqualValues(t, 2, run.RunTimes())
	require.Len(t, run.Usage.Entries(), 1)
	assert.Equal(t, "inner", run.Usage.Entries()[0].ModuleName)
	assert.Empty(t, out.Answer)
	assert.Len(t, run.Responses(), 2)
}

func TestQuietDropsAnswers(t *testing.T) {
	rec := &recorder{}
	q := Quiet(rec)
	q.Emit(flowchat.StreamEvent{Event: flowchat.EventAnswer})
	q.Emit(flowchat.StreamEvent{Event: flowchat.EventToolCall})
	assert.Len(t, rec.events, 1)
}
