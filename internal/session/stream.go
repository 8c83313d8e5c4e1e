package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// stepOutcome is how one model call ended.
type stepOutcome struct {
	stop      types.StopReason
	more      bool // tool results were appended; call the model again
	cancelled bool
	err       *types.EventError
}

// pendingCall is a tool_use block of the in-progress message.
type pendingCall struct {
	block int // position in the message content
	id    string
	name  string
	args  strings.Builder
	input json.RawMessage

	// result is set once the call is resolved: executed, refused,
	// cancelled or rejected as malformed.
	result  *types.ContentBlock
	started bool
}

// step runs one model call and the tool calls it requests.
func (t *turn) step(ctx context.Context, history []types.Message) stepOutcome {
	store := t.p.deps.Store
	req := &provider.ChatRequest{
		Messages:     history,
		Model:        t.modelID,
		SystemPrompt: t.system,
		Temperature:  t.p.opts.Temperature,
		MaxTokens:    t.p.opts.MaxTokens,
		Tools:        t.p.deps.Tools.Specs(ctx, t.p.opts.EnabledTools),
	}
	stream := t.prov.Chat(ctx, req)
	defer stream.Close()

	msg := &types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleAssistant,
		Content:   []types.ContentBlock{},
		Timestamp: time.Now().UnixMilli(),
		Status:    types.MessageInProgress,
	}
	if err := store.AddMessage(t.persist, t.sessionID, *msg); err != nil {
		return stepOutcome{err: &types.EventError{Kind: types.ErrProtocol, Message: err.Error()}}
	}

	x := newDispatcher(t, ctx, msg)
	blocks := make(map[int]int) // stream index -> content position
	calls := make(map[int]*pendingCall)
	var (
		stop      types.StopReason
		usage     types.Usage
		completed bool
		streamErr *types.EventError
	)

recv:
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = &types.EventError{Kind: types.ErrTransport, Message: err.Error()}
			break
		}

		switch ev.Type {
		case types.EventContentBlockStart:
			if ev.ContentBlock == nil {
				continue
			}
			b := *ev.ContentBlock
			x.lock()
			blocks[ev.Index] = len(msg.Content)
			msg.Content = append(msg.Content, b)
			x.unlock()
			switch b.Type {
			case types.BlockToolUse:
				c := &pendingCall{block: blocks[ev.Index], id: b.ID, name: b.Name}
				calls[ev.Index] = c
				x.track(c)
			case types.BlockText:
				t.setState(types.StateStreamingText)
			}

		case types.EventContentBlockDelta:
			pos, ok := blocks[ev.Index]
			if !ok || ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case types.DeltaText:
				x.lock()
				msg.Content[pos].Text += ev.Delta.Text
				x.unlock()
				t.emit(types.ProcessorEvent{Type: types.PEText, Delta: ev.Delta.Text})
			case types.DeltaThinking:
				x.lock()
				msg.Content[pos].Text += ev.Delta.Thinking
				x.unlock()
				t.emit(types.ProcessorEvent{Type: types.PEThinking, Delta: ev.Delta.Thinking})
			case types.DeltaInputJSON:
				if c, ok := calls[ev.Index]; ok {
					c.args.WriteString(ev.Delta.PartialJSON)
				}
			}

		case types.EventContentBlockStop:
			if c, ok := calls[ev.Index]; ok {
				x.complete(c)
			}
			x.save()

		case types.EventMessageDelta:
			if ev.StopReason != "" {
				stop = ev.StopReason
			}
			if ev.Usage != nil {
				usage.Add(*ev.Usage)
			}

		case types.EventMessageStop:
			completed = true
			break recv

		case types.EventErrorType:
			if ev.Error == nil {
				continue
			}
			if ev.Error.ToolUseID != "" {
				x.malformed(ev.Error.ToolUseID, ev.Error.Message)
				continue
			}
			streamErr = ev.Error
			break recv
		}
	}

	msg.Usage = &usage
	t.result.Usage.Add(usage)

	if ctx.Err() != nil || (streamErr != nil && streamErr.Kind == types.ErrCancelled) {
		x.cancelRemaining()
		t.finishMessage(x, msg, types.MessageCancelled, nil)
		return stepOutcome{cancelled: true}
	}
	if streamErr == nil && !completed {
		streamErr = &types.EventError{Kind: types.ErrProtocol, Message: "stream ended before message_stop"}
	}
	if streamErr != nil {
		x.abandon()
		t.finishMessage(x, msg, types.MessageFailed, streamErr)
		return stepOutcome{err: streamErr}
	}

	if x.pending() > 0 {
		t.setState(types.StateExecutingTool)
	}
	x.runRemaining()
	if ctx.Err() != nil {
		x.cancelRemaining()
		t.finishMessage(x, msg, types.MessageCancelled, nil)
		return stepOutcome{cancelled: true}
	}

	t.finishMessage(x, msg, types.MessageComplete, nil)
	more := len(x.calls) > 0 && stop == types.StopToolUse
	if len(x.calls) > 0 && !more {
		t.log.Warn().Str("stop", string(stop)).Msg("tool calls without tool_use stop reason, ending turn")
	}
	return stepOutcome{stop: stop, more: more}
}

// finishMessage records the final form of the assistant message and appends
// the tool results that were produced, in tool_use order.
func (t *turn) finishMessage(x *dispatcher, msg *types.Message, status types.MessageStatus, failure *types.EventError) {
	store := t.p.deps.Store

	x.lock()
	if failure != nil {
		var unresolved []string
		for _, c := range x.calls {
			if c.result == nil {
				unresolved = append(unresolved, fmt.Sprintf("%s (%s)", c.name, c.id))
			}
		}
		text := failure.Message
		if len(unresolved) > 0 {
			text = fmt.Sprintf("%s; tool calls without result: %s", text, strings.Join(unresolved, ", "))
		}
		msg.Content = append(msg.Content, types.NewErrorBlock(text, string(failure.Kind)))
	}
	msg.Status = status
	final := msg.Clone()
	x.unlock()

	if err := store.UpdateMessage(t.persist, t.sessionID, final); err != nil {
		t.log.Error().Err(err).Msg("failed to save assistant message")
	}
	t.appended(final)

	results := x.results()
	if len(results) == 0 {
		return
	}
	user := types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleUser,
		Content:   results,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := store.AddMessage(t.persist, t.sessionID, user); err != nil {
		t.log.Error().Err(err).Msg("failed to save tool results")
		return
	}
	t.appended(user)
}
