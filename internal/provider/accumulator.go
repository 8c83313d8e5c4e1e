package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// chunkNormalizer turns delta-style chunks (OpenAI chat completions, Ollama,
// eino messages) into canonical events. Tool call arguments arrive as string
// fragments keyed by a call index; a call is emitted as start + one
// input_json_delta + stop only when the next call index appears or the
// stream ends.
type chunkNormalizer struct {
	providerID string
	newID      func() string

	started   bool
	msgID     string
	model     string
	nextIndex int

	textIndex     int
	thinkingIndex int

	pending  *pendingCall
	flushed  int
	stop     types.StopReason
	usage    *types.Usage
	finished bool
}

type pendingCall struct {
	callIndex int
	id        string
	name      string
	args      strings.Builder
}

func newChunkNormalizer(providerID string, newID func() string) *chunkNormalizer {
	return &chunkNormalizer{
		providerID:    providerID,
		newID:         newID,
		textIndex:     -1,
		thinkingIndex: -1,
	}
}

// Done reports whether the natural end of the message was reached.
func (n *chunkNormalizer) Done() bool {
	return n.finished
}

func (n *chunkNormalizer) begin(id, model string) []types.ChatEvent {
	if n.started {
		return nil
	}
	n.started = true
	if id == "" {
		id = n.newID()
	}
	n.msgID, n.model = id, model
	return []types.ChatEvent{types.MessageStartEvent(id, model)}
}

func (n *chunkNormalizer) allocIndex() int {
	i := n.nextIndex
	n.nextIndex++
	return i
}

func (n *chunkNormalizer) closeText() []types.ChatEvent {
	if n.textIndex < 0 {
		return nil
	}
	ev := types.BlockStopEvent(n.textIndex)
	n.textIndex = -1
	return []types.ChatEvent{ev}
}

func (n *chunkNormalizer) closeThinking() []types.ChatEvent {
	if n.thinkingIndex < 0 {
		return nil
	}
	ev := types.BlockStopEvent(n.thinkingIndex)
	n.thinkingIndex = -1
	return []types.ChatEvent{ev}
}

func (n *chunkNormalizer) text(s string) []types.ChatEvent {
	if s == "" {
		return nil
	}
	out := n.closeThinking()
	if n.textIndex < 0 {
		n.textIndex = n.allocIndex()
		out = append(out, types.TextStartEvent(n.textIndex))
	}
	return append(out, types.TextDeltaEvent(n.textIndex, s))
}

func (n *chunkNormalizer) thinking(s string) []types.ChatEvent {
	if s == "" {
		return nil
	}
	out := n.closeText()
	if n.thinkingIndex < 0 {
		n.thinkingIndex = n.allocIndex()
		out = append(out, types.ThinkingStartEvent(n.thinkingIndex))
	}
	return append(out, types.ThinkingDeltaEvent(n.thinkingIndex, s))
}

// toolFragment records one argument fragment for callIndex. A new index
// flushes the previous call.
func (n *chunkNormalizer) toolFragment(callIndex int, id, name, args string) []types.ChatEvent {
	out := n.closeText()
	out = append(out, n.closeThinking()...)

	if n.pending != nil && n.pending.callIndex != callIndex {
		out = append(out, n.flushPending()...)
	}
	if n.pending == nil {
		n.pending = &pendingCall{callIndex: callIndex}
	}
	if id != "" {
		n.pending.id = id
	}
	if name != "" {
		n.pending.name = name
	}
	n.pending.args.WriteString(args)
	return out
}

// flushPending emits the buffered call. The accumulated arguments are passed
// through unchanged; a value that does not parse is still terminated with
// content_block_stop and left for the consumer to reject.
func (n *chunkNormalizer) flushPending() []types.ChatEvent {
	p := n.pending
	if p == nil {
		return nil
	}
	n.pending = nil
	n.flushed++

	if p.id == "" {
		p.id = n.newID()
	}
	args := p.args.String()
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	idx := n.allocIndex()
	return []types.ChatEvent{
		types.ToolUseStartEvent(idx, p.id, p.name),
		types.InputJSONDeltaEvent(idx, args),
		types.BlockStopEvent(idx),
	}
}

func (n *chunkNormalizer) finishReason(reason types.StopReason) {
	if reason != "" {
		n.stop = reason
	}
}

func (n *chunkNormalizer) setUsage(input, output int) {
	n.usage = &types.Usage{InputTokens: input, OutputTokens: output}
}

// end emits the natural-end sequence.
func (n *chunkNormalizer) end() []types.ChatEvent {
	if n.finished {
		return nil
	}
	out := n.begin("", "")
	out = append(out, n.closeText()...)
	out = append(out, n.closeThinking()...)
	out = append(out, n.flushPending()...)

	stop := n.stop
	if stop == "" {
		stop = types.StopEndTurn
		if n.flushed > 0 {
			stop = types.StopToolUse
		}
	}
	n.finished = true
	return append(out,
		types.MessageDeltaEvent(stop, n.usage),
		types.MessageStopEvent(),
	)
}

// abort emits the failure sequence for an abnormal end: a protocol_error for
// the unterminated tool call, then the terminal error.
func (n *chunkNormalizer) abort(kind types.ErrorKind, message string) []types.ChatEvent {
	if n.finished {
		return nil
	}
	n.finished = true
	out := n.closeText()
	out = append(out, n.closeThinking()...)
	if p := n.pending; p != nil {
		n.pending = nil
		if p.id == "" {
			p.id = n.newID()
		}
		idx := n.allocIndex()
		out = append(out, types.ToolUseStartEvent(idx, p.id, p.name))
		if !json.Valid([]byte(p.args.String())) {
			logDropped(n.providerID, "incomplete tool arguments", p.args.String())
		}
		out = append(out, toolProtocolError(p.id, p.name))
	}
	return append(out, types.ErrorEvent(kind, message))
}

func toolProtocolError(id, name string) types.ChatEvent {
	ev := types.ErrorEvent(types.ErrProtocol, fmt.Sprintf("tool_use %s (%s) was not terminated before the stream ended", id, name))
	ev.Error.ToolUseID = id
	return ev
}

// mapFinishReason maps vendor finish reasons to canonical stop reasons.
func mapFinishReason(reason string) types.StopReason {
	switch reason {
	case "":
		return ""
	case "stop", "end_turn", "content_filter":
		return types.StopEndTurn
	case "tool_calls", "function_call", "tool_use":
		return types.StopToolUse
	case "length", "max_tokens":
		return types.StopMaxTokens
	case "stop_sequence":
		return types.StopStopSequence
	default:
		return types.StopEndTurn
	}
}
