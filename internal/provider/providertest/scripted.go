// Package providertest provides a scripted provider for engine tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// Script is the response to one Chat call.
type Script struct {
	Events []types.ChatEvent
	// Hang keeps the stream open after Events until the request is
	// cancelled, then emits a cancelled error.
	Hang bool
	// Delay is applied before each event.
	Delay time.Duration
}

// Provider replays scripts in order, one per Chat call. Calls beyond the
// last script replay an end_turn text response.
type Provider struct {
	IDValue string

	mu       sync.Mutex
	scripts  []Script
	requests []provider.ChatRequest
}

// New returns a provider with id "mock".
func New(scripts ...Script) *Provider {
	return &Provider{IDValue: "mock", scripts: scripts}
}

func (p *Provider) ID() string   { return p.IDValue }
func (p *Provider) Name() string { return "Scripted" }

func (p *Provider) Models() []types.Model {
	return []types.Model{{ID: "scripted", Name: "Scripted", ProviderID: p.IDValue, SupportsTools: true}}
}

// Requests returns copies of the requests received so far.
func (p *Provider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) Chat(ctx context.Context, req *provider.ChatRequest) *provider.EventStream {
	p.mu.Lock()
	cp := *req
	cp.Messages = append([]types.Message(nil), req.Messages...)
	p.requests = append(p.requests, cp)
	var script Script
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	} else {
		script = Script{Events: TextResponse("done")}
	}
	p.mu.Unlock()

	r, w := schema.Pipe[types.ChatEvent](16)
	go func() {
		defer w.Close()
		for _, ev := range script.Events {
			if script.Delay > 0 {
				select {
				case <-time.After(script.Delay):
				case <-ctx.Done():
					w.Send(types.ErrorEvent(types.ErrCancelled, "request cancelled"), nil)
					return
				}
			}
			if ctx.Err() != nil {
				w.Send(types.ErrorEvent(types.ErrCancelled, "request cancelled"), nil)
				return
			}
			if closed := w.Send(ev, nil); closed {
				return
			}
		}
		if script.Hang {
			<-ctx.Done()
			w.Send(types.ErrorEvent(types.ErrCancelled, "request cancelled"), nil)
		}
	}()
	return provider.NewEventStream(r)
}

// TextResponse builds a complete single text block response.
func TextResponse(chunks ...string) []types.ChatEvent {
	events := []types.ChatEvent{types.MessageStartEvent("msg", "scripted"), types.TextStartEvent(0)}
	for _, c := range chunks {
		events = append(events, types.TextDeltaEvent(0, c))
	}
	return append(events,
		types.BlockStopEvent(0),
		types.MessageDeltaEvent(types.StopEndTurn, &types.Usage{InputTokens: 10, OutputTokens: 5}),
		types.MessageStopEvent(),
	)
}

// ToolCall is one tool_use in a scripted response.
type ToolCall struct {
	ID    string
	Name  string
	Input string
}

// ToolResponse builds a response with optional leading text and tool calls,
// ending with stop_reason tool_use.
func ToolResponse(text string, calls ...ToolCall) []types.ChatEvent {
	events := []types.ChatEvent{types.MessageStartEvent("msg", "scripted")}
	idx := 0
	if text != "" {
		events = append(events, types.TextStartEvent(0), types.TextDeltaEvent(0, text), types.BlockStopEvent(0))
		idx++
	}
	for _, c := range calls {
		events = append(events,
			types.ToolUseStartEvent(idx, c.ID, c.Name),
			types.InputJSONDeltaEvent(idx, c.Input),
			types.BlockStopEvent(idx),
		)
		idx++
	}
	return append(events,
		types.MessageDeltaEvent(types.StopToolUse, &types.Usage{InputTokens: 10, OutputTokens: 5}),
		types.MessageStopEvent(),
	)
}
