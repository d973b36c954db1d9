package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/dag"
	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
	"github.com/soochol/flowchat/internal/interactive"
)

// System variables every run sees. They are not persisted with the chat.
const (
	varAppID          = "appId"
	varChatID         = "chatId"
	varResponseItemID = "responseChatItemId"
	varTime           = "cTime"
)

// Executor runs a normalized graph. *engine.Scheduler satisfies it.
type Executor interface {
	Execute(ctx context.Context, run *engine.Run, g *dag.RuntimeGraph) (*engine.Outcome, error)
}

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	AppID              string
	ChatID             string
	ResponseChatItemID string
	Credentials        string
	Query              string
	Stream             bool
	Detail             bool
	Variables          map[string]any
	// Nodes and Edges override the stored app graph when Nodes is set.
	Nodes           []flowchat.Node
	Edges           []flowchat.Edge
	SelectedToolIDs []string
	// Resume requires a pending interaction. Without it a pending
	// interaction is still resumed when one exists.
	Resume bool
}

// ChatResult is the outcome of a dispatched turn.
type ChatResult struct {
	RunID       string
	ChatID      string
	DataID      string
	Answer      string
	Interactive *flowchat.InteractiveValue
	Responses   []flowchat.NodeResponse
	Usage       []flowchat.UsageEntry
	TotalPoints float64
	Duration    time.Duration
}

// ChatServiceDeps are the collaborators of a ChatService.
type ChatServiceDeps struct {
	Executor     Executor
	Authorizer   ports.Authorizer
	Apps         ports.AppStore
	Chats        ports.ChatStore
	Billing      ports.Billing
	Limiter      *ConcurrencyLimiter
	MaxHistories int
	Retry        RetryPolicy
	Logger       *slog.Logger
}

// ChatService dispatches chat turns: it authorizes the caller, restores
// the conversation, runs the graph and persists the turn and its usage.
type ChatService struct {
	deps  ChatServiceDeps
	codec *interactive.Codec
}

func NewChatService(deps ChatServiceDeps) *ChatService {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = NewConcurrencyLimiter(ConcurrencyLimits{})
	}
	if deps.MaxHistories <= 0 {
		deps.MaxHistories = 6
	}
	if deps.Retry.BackoffFactor == 0 {
		deps.Retry = DefaultRetryPolicy
	}
	return &ChatService{deps: deps, codec: interactive.NewCodec(deps.Chats)}
}

// Stats reports the limiter state.
func (s *ChatService) Stats() ConcurrencyStats {
	return s.deps.Limiter.Stats()
}

// Dispatch runs one turn, streaming to emitter. The run itself does not
// observe cancellation of ctx: a disconnected caller stops receiving
// events, but the turn is still completed, billed and persisted.
func (s *ChatService) Dispatch(ctx context.Context, req ChatRequest, emitter flowchat.Emitter) (*ChatResult, error) {
	log := s.deps.Logger.With("app_id", req.AppID, "chat_id", req.ChatID)

	principal, err := s.deps.Authorizer.Authorize(ctx, req.AppID, req.Credentials)
	if err != nil {
		if !errors.Is(err, flowchat.ErrUpstreamAuth) {
			err = fmt.Errorf("%w: %v", flowchat.ErrUpstreamAuth, err)
		}
		return nil, err
	}

	chatKey := ""
	if req.ChatID != "" {
		chatKey = req.AppID + "/" + req.ChatID
	}
	if err := s.deps.Limiter.Acquire(ctx, chatKey); err != nil {
		return nil, fmt.Errorf("wait for run slot: %w", err)
	}
	defer s.deps.Limiter.Release(chatKey)

	runCtx := context.WithoutCancel(ctx)
	run, rg, claimed, err := s.prepare(runCtx, req, principal, emitter)
	if err != nil {
		if claimed != nil {
			s.restore(runCtx, log, req, principal, claimed)
		}
		// Nothing ran; billing still sees the (empty) ledger.
		s.flush(runCtx, log, emptyRun(emitter), principal, req.AppID)
		return nil, err
	}

	resumed := claimed != nil
	log.Info("run started", "run_id", run.ID, "resume", resumed, "nodes", rg.Len())
	outcome, execErr := s.deps.Executor.Execute(runCtx, run, rg)
	s.flush(runCtx, log, run, principal, req.AppID)

	res := &ChatResult{
		RunID:       run.ID,
		ChatID:      req.ChatID,
		DataID:      req.ResponseChatItemID,
		Responses:   run.Responses(),
		Usage:       run.Usage.Entries(),
		TotalPoints: run.Usage.TotalPoints(),
		Duration:    run.Usage.Duration(),
	}
	if outcome != nil {
		res.Answer = outcome.Answer
		res.Interactive = outcome.Interactive
	}
	if req.Detail {
		emitter.Emit(flowchat.StreamEvent{Event: flowchat.EventFlowResponses, Data: res.Responses})
	}
	emitter.Emit(flowchat.StreamEvent{
		Event: flowchat.EventWorkflowDuration,
		Data:  map[string]float64{"durationSeconds": res.Duration.Seconds()},
	})
	if execErr != nil {
		log.Warn("run failed", "run_id", run.ID, "err", execErr)
		if resumed {
			s.restore(runCtx, log, req, principal, claimed)
		}
		return res, execErr
	}

	if req.ChatID != "" {
		turn := s.assembleTurn(req, principal, run, res)
		save := s.deps.Chats.SaveTurn
		if resumed {
			save = s.deps.Chats.MergeInteractiveTurn
		}
		if err := withRetry(runCtx, s.deps.Retry, "save chat turn", func(ctx context.Context) error {
			return save(ctx, turn)
		}); err != nil {
			log.Error("save chat turn failed", "run_id", run.ID, "err", err)
			return res, fmt.Errorf("save chat turn: %w", err)
		}
		res.DataID = turn.Assistant.DataID
	}

	log.Info("run finished", "run_id", run.ID, "paused", res.Interactive != nil,
		"points", res.TotalPoints, "took", res.Duration)
	return res, nil
}

// restore puts a claimed interaction back after its resumed run failed,
// so the next reply can answer the same prompt.
func (s *ChatService) restore(ctx context.Context, log *slog.Logger, req ChatRequest, principal flowchat.Principal, iv *flowchat.InteractiveValue) {
	turn := &flowchat.ChatTurn{
		AppID:     req.AppID,
		ChatID:    req.ChatID,
		TeamID:    principal.TeamID,
		TmbID:     principal.TmbID,
		Assistant: flowchat.ChatItem{Role: flowchat.RoleAI, Interactive: iv, Pending: true},
	}
	if err := withRetry(ctx, s.deps.Retry, "restore interactive", func(ctx context.Context) error {
		return s.deps.Chats.MergeInteractiveTurn(ctx, turn)
	}); err != nil {
		log.Error("restore interactive failed", "node_id", iv.NodeID, "err", err)
	}
}

// prepare loads the graph and conversation and builds the run. It returns
// the claimed interaction when the run resumes one, also alongside an
// error raised after the claim.
func (s *ChatService) prepare(ctx context.Context, req ChatRequest, principal flowchat.Principal, emitter flowchat.Emitter) (*engine.Run, *dag.RuntimeGraph, *flowchat.InteractiveValue, error) {
	nodes, edges := req.Nodes, req.Edges
	if len(nodes) == 0 {
		app, err := s.deps.Apps.GetApp(ctx, req.AppID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: load app %s: %v", flowchat.ErrGraphInvalid, req.AppID, err)
		}
		nodes, edges = app.Nodes, app.Edges
	}

	var (
		history   []flowchat.ChatItem
		persisted map[string]any
		pending   *flowchat.InteractiveValue
		err       error
	)
	if req.ChatID != "" {
		history, err = s.deps.Chats.LoadHistory(ctx, req.AppID, req.ChatID, s.deps.MaxHistories*2)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load history: %w", err)
		}
		persisted, err = s.deps.Chats.LoadVariables(ctx, req.AppID, req.ChatID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load variables: %w", err)
		}
		pending, err = s.codec.Pending(ctx, req.AppID, req.ChatID)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if pending == nil && req.Resume {
		return nil, nil, nil, flowchat.ErrNoPendingInteraction
	}

	rg, err := dag.Normalize(nodes, edges, dag.Options{
		SelectedToolIDs: req.SelectedToolIDs,
		Interactive:     pending,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	var claimed *flowchat.InteractiveValue
	if pending != nil {
		claimed, err = s.codec.Claim(ctx, req.AppID, req.ChatID)
		if err != nil {
			return nil, nil, nil, err
		}
		if claimed.NodeID != pending.NodeID {
			if rg, err = dag.Normalize(nodes, edges, dag.Options{SelectedToolIDs: req.SelectedToolIDs, Interactive: claimed}); err != nil {
				return nil, nil, claimed, err
			}
		}
	}

	bag, err := engine.NewVariables(persisted, req.Variables)
	if err != nil {
		return nil, nil, claimed, err
	}
	bag.Set(varAppID, req.AppID)
	bag.Set(varChatID, req.ChatID)
	bag.Set(varResponseItemID, req.ResponseChatItemID)
	bag.Set(varTime, time.Now().Format(time.DateTime))

	run := engine.NewRun(bag, emitter)
	run.AppID = req.AppID
	run.ChatID = req.ChatID
	run.Principal = principal
	run.Query = req.Query
	run.History = history
	run.Stream = req.Stream
	run.Detail = req.Detail
	return run, rg, claimed, nil
}

func (s *ChatService) assembleTurn(req ChatRequest, principal flowchat.Principal, run *engine.Run, res *ChatResult) *flowchat.ChatTurn {
	now := time.Now().UTC()
	dataID := req.ResponseChatItemID
	if dataID == "" {
		dataID = uuid.NewString()
	}
	vars := run.Variables.Snapshot()
	for _, k := range []string{varAppID, varChatID, varResponseItemID, varTime} {
		delete(vars, k)
	}
	return &flowchat.ChatTurn{
		AppID:  req.AppID,
		ChatID: req.ChatID,
		TeamID: principal.TeamID,
		TmbID:  principal.TmbID,
		User: flowchat.ChatItem{
			DataID:    uuid.NewString(),
			Role:      flowchat.RoleHuman,
			Text:      req.Query,
			CreatedAt: now,
		},
		Assistant: flowchat.ChatItem{
			DataID:      dataID,
			Role:        flowchat.RoleAI,
			Text:        res.Answer,
			Interactive: res.Interactive,
			Pending:     res.Interactive != nil,
			Responses:   res.Responses,
			CreatedAt:   now,
		},
		Variables: vars,
		Duration:  res.Duration.Seconds(),
	}
}

func (s *ChatService) flush(ctx context.Context, log *slog.Logger, run *engine.Run, principal flowchat.Principal, appID string) {
	if err := run.Usage.Flush(ctx, s.deps.Billing, principal.TeamID, appID); err != nil {
		log.Warn("usage flush failed", "run_id", run.ID, "err", err)
	}
}

func emptyRun(emitter flowchat.Emitter) *engine.Run {
	bag, _ := engine.NewVariables(nil, nil)
	return engine.NewRun(bag, emitter)
}
