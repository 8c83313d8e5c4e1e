package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

const (
	// DefaultMaxSteps bounds the model calls of one turn.
	DefaultMaxSteps = 50
	// DefaultToolTimeout applies to tools without their own timeout.
	DefaultToolTimeout = 2 * time.Minute
)

// Deps are the collaborators of a Processor. Asker, Compactor and Bus may
// be nil.
type Deps struct {
	Providers *provider.Registry
	Tools     *tool.Registry
	Store     *Store
	Policy    permission.Policy
	Asker     *permission.Asker
	Compactor *Compactor
	Bus       *event.Bus
}

// Options tune every turn a Processor runs.
type Options struct {
	// Model is "provider/model"; empty selects the registry default.
	Model string
	// SystemPrompt replaces the built-in base prompt.
	SystemPrompt string
	Instructions []string
	MaxSteps     int
	Temperature  *float64
	MaxTokens    int
	ToolTimeout  time.Duration
	// ParallelTools starts each tool as soon as its arguments are complete
	// instead of after the model response ends.
	ParallelTools bool
	// EnabledTools switches tools off by id.
	EnabledTools map[string]bool
}

// EventCallback receives the events of a turn in order. It is never called
// concurrently.
type EventCallback func(types.ProcessorEvent)

// TurnResult describes a finished turn.
type TurnResult struct {
	SessionID  string
	State      types.TurnState
	StopReason types.StopReason
	Steps      int
	Usage      types.Usage
	// Messages are the messages appended by the turn, in order.
	Messages []types.Message
	Error    *types.EventError
}

// Processor runs turns: it calls the model, dispatches tool calls under the
// permission policy and records everything in the store.
type Processor struct {
	deps    Deps
	opts    Options
	checker *permission.Checker
	doom    *permission.DoomLoopDetector

	mu     sync.Mutex
	active map[string]*turn
}

// NewProcessor creates a processor.
func NewProcessor(deps Deps, opts Options) *Processor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if deps.Tools == nil {
		deps.Tools = tool.NewRegistry("")
	}
	return &Processor{
		deps:    deps,
		opts:    opts,
		checker: permission.NewChecker(deps.Policy),
		doom:    permission.NewDoomLoopDetector(),
		active:  make(map[string]*turn),
	}
}

// Process runs one turn for prompt. A second concurrent call for the same
// session fails with ErrSessionBusy. Failures inside the turn (provider
// errors, cancellation) are reported in the result and as a terminal error
// event, not as a Go error; the error return covers what prevents the turn
// from starting.
func (p *Processor) Process(ctx context.Context, sessionID, prompt string, callback EventCallback) (*TurnResult, error) {
	release, err := p.deps.Store.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := p.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.deps.Providers == nil {
		return nil, fmt.Errorf("no provider registry")
	}
	prov, modelID, err := p.deps.Providers.Resolve(p.opts.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workDir := sess.ProjectPath
	if workDir == "" {
		workDir = p.deps.Tools.WorkDir()
	}
	t := &turn{
		p:         p,
		sessionID: sessionID,
		log:       logging.Session(sessionID),
		workDir:   workDir,
		prov:      prov,
		modelID:   modelID,
		system:    NewSystemPrompt(p.opts.SystemPrompt, workDir, p.opts.Instructions).Build(),
		callback:  callback,
		persist:   context.WithoutCancel(ctx),
		cancel:    cancel,
		state:     types.StateIdle,
		result:    &TurnResult{SessionID: sessionID, State: types.StateIdle},
	}

	p.mu.Lock()
	p.active[sessionID] = t
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, sessionID)
		p.mu.Unlock()
	}()

	t.log.Info().
		Str("provider", prov.ID()).
		Str("model", modelID).
		Msg("turn started")
	return t.run(turnCtx, sess, prompt)
}

// Abort cancels the running turn of a session.
func (p *Processor) Abort(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.active[sessionID]
	if !ok {
		return fmt.Errorf("session not processing: %s", sessionID)
	}
	t.cancel()
	return nil
}

// IsProcessing reports whether a turn is running for the session.
func (p *Processor) IsProcessing(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[sessionID]
	return ok
}

// State returns the state of the session's running turn, Idle when none
// is running.
func (p *Processor) State(sessionID string) types.TurnState {
	p.mu.Lock()
	t, ok := p.active[sessionID]
	p.mu.Unlock()
	if !ok {
		return types.StateIdle
	}
	return t.currentState()
}

// turn is the state of one Process call.
type turn struct {
	p         *Processor
	sessionID string
	log       *zerolog.Logger
	workDir   string
	prov      provider.Provider
	modelID   string
	system    string
	callback  EventCallback
	// persist outlives cancellation so partial state is still recorded.
	persist context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	state types.TurnState

	emitMu sync.Mutex
	result *TurnResult
}

func (t *turn) run(ctx context.Context, sess *types.Session, prompt string) (*TurnResult, error) {
	store := t.p.deps.Store

	user := types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleUser,
		Content:   []types.ContentBlock{types.NewTextBlock(prompt)},
		Timestamp: time.Now().UnixMilli(),
	}
	if err := store.AddMessage(t.persist, t.sessionID, user); err != nil {
		return nil, err
	}
	t.appended(user)

	if sess.Title == "" {
		if title := deriveTitle(prompt); title != "" {
			if err := store.SetTitle(t.persist, t.sessionID, title); err != nil {
				t.log.Warn().Err(err).Msg("failed to set title")
			}
		}
	}
	if err := store.SetStatus(t.persist, t.sessionID, types.SessionBusy); err != nil {
		return nil, err
	}

	for step := 0; ; step++ {
		if step >= t.p.opts.MaxSteps {
			return t.fail(&types.EventError{
				Kind:    types.ErrMaxSteps,
				Message: fmt.Sprintf("turn stopped after %d model calls", t.p.opts.MaxSteps),
			})
		}
		if ctx.Err() != nil {
			return t.cancelled()
		}

		history, err := t.history(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return t.cancelled()
			}
			return t.fail(&types.EventError{Kind: types.ErrStorage, Message: err.Error()})
		}

		t.setState(types.StateAwaitingModel)
		out := t.step(ctx, history)
		t.result.Steps = step + 1

		switch {
		case out.cancelled:
			return t.cancelled()
		case out.err != nil:
			return t.fail(out.err)
		case out.more:
			continue
		}
		t.result.StopReason = out.stop
		return t.done()
	}
}

// history loads what the model sees, compacting first when needed.
func (t *turn) history(ctx context.Context) ([]types.Message, error) {
	sess, err := t.p.deps.Store.Get(ctx, t.sessionID)
	if err != nil {
		return nil, err
	}
	msgs := sess.History()

	if c := t.p.deps.Compactor; c != nil {
		compacted, changed, err := c.Compact(ctx, msgs)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.log.Warn().Err(err).Msg("compaction failed, sending full history")
		case changed:
			summary, boundary, ok := Boundary(compacted)
			if ok {
				if err := t.p.deps.Store.SetCompaction(t.persist, t.sessionID, types.Compaction{Summary: summary, BoundaryMessageID: boundary}); err != nil {
					return nil, fmt.Errorf("failed to record compaction: %w", err)
				}
				for i := range compacted {
					if compacted[i].ID == "compaction-"+boundary {
						t.emit(types.ProcessorEvent{Type: types.PECompacted, Message: &compacted[i]})
						break
					}
				}
			}
			msgs = compacted
		}
	}
	return sendable(msgs), nil
}

// sendable drops what a model must not see: error blocks, tool_use blocks
// that were never answered, and messages left empty by that.
func sendable(msgs []types.Message) []types.Message {
	answered := make(map[string]bool)
	for _, m := range msgs {
		for id := range types.ToolResultIDs(m.Content) {
			answered[id] = true
		}
	}
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		var content []types.ContentBlock
		for _, b := range m.Content {
			switch {
			case b.Type == types.BlockError:
			case b.Type == types.BlockToolUse && !answered[b.ID]:
			case b.Type == types.BlockText && b.Text == "":
			default:
				content = append(content, b)
			}
		}
		if len(content) == 0 {
			continue
		}
		m.Content = content
		out = append(out, m)
	}
	return out
}

func (t *turn) done() (*TurnResult, error) {
	if err := t.p.deps.Store.SetStatus(t.persist, t.sessionID, types.SessionIdle); err != nil {
		return nil, err
	}
	t.setState(types.StateIdle)
	usage := t.result.Usage
	t.emit(types.ProcessorEvent{Type: types.PEDone, Usage: &usage})
	t.log.Info().
		Int("steps", t.result.Steps).
		Int("tokens", usage.Total()).
		Msg("turn finished")
	return t.result, nil
}

func (t *turn) fail(e *types.EventError) (*TurnResult, error) {
	if err := t.p.deps.Store.SetStatus(t.persist, t.sessionID, types.SessionFailed); err != nil {
		t.log.Error().Err(err).Msg("failed to record session status")
	}
	t.result.Error = e
	t.setState(types.StateFailed)
	t.emit(types.ProcessorEvent{Type: types.PEError, Error: e})
	t.log.Warn().Str("kind", string(e.Kind)).Str("error", e.Message).Msg("turn failed")
	return t.result, nil
}

func (t *turn) cancelled() (*TurnResult, error) {
	if err := t.p.deps.Store.SetStatus(t.persist, t.sessionID, types.SessionCancelled); err != nil {
		t.log.Error().Err(err).Msg("failed to record session status")
	}
	e := &types.EventError{Kind: types.ErrCancelled, Message: "turn cancelled"}
	t.result.Error = e
	t.setState(types.StateCancelled)
	t.emit(types.ProcessorEvent{Type: types.PEError, Error: e})
	t.log.Info().Msg("turn cancelled")
	return t.result, nil
}

// appended records a message added to the session by this turn.
func (t *turn) appended(m types.Message) {
	t.result.Messages = append(t.result.Messages, m)
	t.emit(types.ProcessorEvent{Type: types.PEMessage, Message: &m})
}

func (t *turn) setState(s types.TurnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = s
	t.mu.Unlock()

	t.result.State = s
	t.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("turn state")
	t.emit(types.ProcessorEvent{Type: types.PEState, State: s})
	if s != types.StateIdle && !s.Terminal() {
		t.publish(event.SessionStatus, event.SessionStatusData{SessionID: t.sessionID, Status: types.SessionBusy, State: s})
	}
}

func (t *turn) currentState() types.TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *turn) emit(ev types.ProcessorEvent) {
	if t.callback == nil {
		return
	}
	ev.SessionID = t.sessionID
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.callback(ev)
}

func (t *turn) publish(typ event.EventType, data any) {
	if t.p.deps.Bus != nil {
		t.p.deps.Bus.Publish(event.Event{Type: typ, Data: data})
	}
}
