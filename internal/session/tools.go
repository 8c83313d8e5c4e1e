package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// dispatcher runs the tool calls of one assistant message. Calls are
// tracked in the order their tool_use blocks started, which is the order
// their results are appended in, whatever order they finish in.
type dispatcher struct {
	t   *turn
	ctx context.Context
	msg *types.Message

	mu    sync.Mutex // guards msg.Content and call results
	calls []*pendingCall
	byID  map[string]*pendingCall
	ready []*pendingCall
	group errgroup.Group
}

func newDispatcher(t *turn, ctx context.Context, msg *types.Message) *dispatcher {
	return &dispatcher{t: t, ctx: ctx, msg: msg, byID: make(map[string]*pendingCall)}
}

func (x *dispatcher) lock()   { x.mu.Lock() }
func (x *dispatcher) unlock() { x.mu.Unlock() }

func (x *dispatcher) track(c *pendingCall) {
	x.calls = append(x.calls, c)
	x.byID[c.id] = c
}

// complete is called at content_block_stop. Arguments that do not parse
// are answered with a protocol error and never executed.
func (x *dispatcher) complete(c *pendingCall) {
	raw := c.args.String()
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		x.t.log.Warn().Str("tool", c.name).Str("id", c.id).Msg("unparseable tool arguments")
		x.malformed(c.id, fmt.Sprintf("arguments for tool_use %s (%s) are not valid JSON", c.id, c.name))
		return
	}
	c.input = json.RawMessage(raw)

	x.lock()
	x.msg.Content[c.block].Input = c.input
	x.unlock()

	if x.t.p.opts.ParallelTools {
		x.start(c)
		return
	}
	x.ready = append(x.ready, c)
}

// malformed resolves a call the provider flagged as broken.
func (x *dispatcher) malformed(id, message string) {
	c, ok := x.byID[id]
	if !ok || c.started {
		return
	}
	c.started = true
	x.resolve(c, types.NewToolResultBlock(c.id, "protocol_error: "+message, true), types.ToolError)
}

func (x *dispatcher) start(c *pendingCall) {
	if c.started {
		return
	}
	c.started = true
	if x.t.p.opts.ParallelTools {
		x.group.Go(func() error {
			x.execute(c)
			return nil
		})
		return
	}
	x.execute(c)
}

// pending counts calls that still need a result.
func (x *dispatcher) pending() int {
	x.lock()
	defer x.unlock()
	n := 0
	for _, c := range x.calls {
		if c.result == nil {
			n++
		}
	}
	return n
}

// runRemaining starts queued calls in order and waits for all of them.
// Calls not started when the turn is cancelled are left for
// cancelRemaining.
func (x *dispatcher) runRemaining() {
	for _, c := range x.ready {
		if x.ctx.Err() != nil {
			break
		}
		x.start(c)
	}
	x.ready = nil
	_ = x.group.Wait()
}

// cancelRemaining waits for running calls and answers every complete call
// that never ran as cancelled.
func (x *dispatcher) cancelRemaining() {
	_ = x.group.Wait()
	for _, c := range x.calls {
		switch {
		case c.result != nil:
		case c.input != nil:
			c.started = true
			x.resolve(c, types.NewToolResultBlock(c.id, "tool call cancelled before execution", true), types.ToolCancelled)
		default:
			x.setStatus(c, types.ToolCancelled)
		}
	}
}

// abandon waits for running calls and marks the unresolved ones failed.
func (x *dispatcher) abandon() {
	_ = x.group.Wait()
	x.lock()
	defer x.unlock()
	for _, c := range x.calls {
		if c.result == nil {
			x.msg.Content[c.block].Status = types.ToolError
		}
	}
}

// results returns the tool_result blocks produced so far, in tool_use
// order.
func (x *dispatcher) results() []types.ContentBlock {
	x.lock()
	defer x.unlock()
	var out []types.ContentBlock
	for _, c := range x.calls {
		if c.result != nil {
			out = append(out, *c.result)
		}
	}
	return out
}

// save persists the in-progress message.
func (x *dispatcher) save() {
	x.lock()
	snapshot := x.msg.Clone()
	x.unlock()
	if err := x.t.p.deps.Store.UpdateMessage(x.t.persist, x.t.sessionID, snapshot); err != nil {
		x.t.log.Warn().Err(err).Msg("failed to save in-progress message")
	}
}

func (x *dispatcher) setStatus(c *pendingCall, status types.ToolStatus) types.ContentBlock {
	x.lock()
	defer x.unlock()
	x.msg.Content[c.block].Status = status
	return x.msg.Content[c.block]
}

func (x *dispatcher) resolve(c *pendingCall, result types.ContentBlock, status types.ToolStatus) {
	x.lock()
	c.result = &result
	x.msg.Content[c.block].Status = status
	x.unlock()

	x.t.emit(types.ProcessorEvent{Type: types.PEToolResult, ToolResult: &result})
	x.t.publish(event.ToolCompleted, event.ToolData{SessionID: x.t.sessionID, Block: &result})
}

// execute resolves one call: permission, then the tool itself. A call
// the policy refuses never reports tool_start.
func (x *dispatcher) execute(c *pendingCall) {
	if x.ctx.Err() != nil {
		x.resolve(c, types.NewToolResultBlock(c.id, "tool call cancelled before execution", true), types.ToolCancelled)
		return
	}

	var (
		output  string
		isError bool
	)
	t, target, refusal := x.authorize(c)
	if refusal != "" {
		output, isError = refusal, true
	} else {
		block := x.setStatus(c, types.ToolRunning)
		x.t.emit(types.ProcessorEvent{Type: types.PEToolStart, ToolUse: &block})
		x.t.publish(event.ToolStarted, event.ToolData{SessionID: x.t.sessionID, Block: &block})
		output, isError = x.invoke(t, target, c)
	}

	status := types.ToolCompleted
	switch {
	case x.ctx.Err() != nil:
		status = types.ToolCancelled
	case isError:
		status = types.ToolError
	}
	x.t.log.Debug().
		Str("tool", c.name).
		Str("status", string(status)).
		Msg("tool call resolved")
	x.resolve(c, types.NewToolResultBlock(c.id, output, isError), status)
}

// authorize looks the tool up and settles its permission. A non-empty
// refusal is the error result the model gets instead of running it.
func (x *dispatcher) authorize(c *pendingCall) (tool.Tool, string, string) {
	ctx := x.ctx
	t, ok := x.t.p.deps.Tools.Get(ctx, c.name)
	if !ok {
		return nil, "", fmt.Sprintf("unknown tool: %s", c.name)
	}

	target := t.Target(c.input, x.t.workDir)
	decision, askKind := x.decide(t, c, target)
	switch decision.Action {
	case permission.ActionDeny:
		return t, target, "permission denied: " + decision.Reason
	case permission.ActionAsk:
		if x.t.p.deps.Asker == nil {
			return t, target, "permission denied: confirmation required and no one can answer: " + decision.Reason
		}
		granted, err := x.ask(ctx, askKind, target, c, decision.Reason, fmt.Sprintf("Allow %s on %s?", c.name, target))
		if err != nil {
			return t, target, "permission request cancelled"
		}
		if !granted {
			return t, target, "permission denied: rejected by user"
		}
	}
	return t, target, ""
}

// invoke runs an authorized call and returns the tool output and whether
// it is an error result. Timeouts and tool failures are error results so
// the model can react to them.
func (x *dispatcher) invoke(t tool.Tool, target string, c *pendingCall) (string, bool) {
	ctx := x.ctx
	toolCtx := &tool.Context{
		SessionID:   x.t.sessionID,
		MessageID:   x.msg.ID,
		CallID:      c.id,
		WorkDir:     x.t.workDir,
		Permissions: x.t.p.checker,
		Ask: func(ctx context.Context, question string) (bool, error) {
			return x.ask(ctx, t.Permission(), target, c, "", question)
		},
	}

	timeout := x.t.p.opts.ToolTimeout
	if to, ok := t.(tool.Timeouter); ok && to.Timeout() > 0 {
		timeout = to.Timeout()
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := t.Execute(tctx, c.input, toolCtx)
	switch {
	case err != nil && ctx.Err() != nil:
		return "tool call cancelled", true
	case err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("tool timed out after %s", timeout), true
	case err != nil:
		return err.Error(), true
	case res == nil:
		return "", false
	}
	return res.Output, res.IsError
}

// decide applies the policy and the doom-loop detector to a call. The
// returned kind is what an ask is about.
func (x *dispatcher) decide(t tool.Tool, c *pendingCall, target string) (permission.Decision, permission.Kind) {
	p := x.t.p
	decision := p.checker.Check(t.Permission(), target)
	if decision.Action == permission.ActionAsk && p.deps.Asker != nil &&
		p.deps.Asker.IsApproved(x.t.sessionID, t.Permission(), target) {
		decision = permission.Decision{Action: permission.ActionAllow, Allowed: true, Reason: "approved earlier in this session"}
	}

	if !p.doom.Check(x.t.sessionID, c.name, c.input) || decision.Action == permission.ActionDeny {
		return decision, t.Permission()
	}
	reason := fmt.Sprintf("%s was called %d times in a row with the same input", c.name, permission.DoomLoopThreshold)
	x.t.log.Warn().Str("tool", c.name).Msg("doom loop detected")
	switch p.deps.Policy.DoomLoopAction() {
	case permission.ActionDeny:
		return permission.Decision{Action: permission.ActionDeny, Reason: reason}, permission.KindDoomLoop
	case permission.ActionAsk:
		return permission.Decision{Action: permission.ActionAsk, Reason: reason}, permission.KindDoomLoop
	}
	return decision, t.Permission()
}

// ask suspends the call until the question is answered or the turn ends.
func (x *dispatcher) ask(ctx context.Context, kind permission.Kind, target string, c *pendingCall, reason, title string) (bool, error) {
	asker := x.t.p.deps.Asker
	if asker == nil {
		return false, nil
	}
	pending := asker.Begin(permission.Request{
		SessionID: x.t.sessionID,
		CallID:    c.id,
		Kind:      kind,
		Target:    target,
		ToolName:  c.name,
		Title:     title,
	})
	if !pending.Remembered() {
		x.t.emit(types.ProcessorEvent{
			Type: types.PEPermissionAsk,
			Permission: &types.PermissionAsk{
				ID:         pending.Request.ID,
				Permission: string(kind),
				Target:     target,
				ToolName:   c.name,
				Reason:     reason,
			},
		})
	}
	return pending.Wait(ctx)
}
