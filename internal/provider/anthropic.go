package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/pkg/types"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider speaks the Anthropic Messages streaming API directly.
type AnthropicProvider struct {
	config   *AnthropicConfig
	streamer *httpStreamer
}

// AnthropicConfig holds configuration for Anthropic provider.
type AnthropicConfig struct {
	// ID is the provider identifier. Defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string // default model when the request names none
	MaxTokens int
	HTTP      HTTPOptions
}

// NewAnthropicProvider creates a new Anthropic provider. Credentials are
// resolved per request so a missing key surfaces as an event.
func NewAnthropicProvider(config *AnthropicConfig) *AnthropicProvider {
	return &AnthropicProvider{
		config:   config,
		streamer: newHTTPStreamer(config.HTTP),
	}
}

// ID returns the provider identifier.
func (p *AnthropicProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "anthropic"
}

// Name returns the human-readable provider name.
func (p *AnthropicProvider) Name() string { return "Anthropic" }

// Models returns the list of available models.
func (p *AnthropicProvider) Models() []types.Model {
	return anthropicModels(p.ID())
}

// Chat starts a streaming completion.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) *EventStream {
	apiKey := resolveCredential(p.config.APIKey, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return errorStream(types.ErrAuthentication, "missing credential for anthropic: set provider.anthropic.apiKey or ANTHROPIC_API_KEY")
	}

	baseURL := strings.TrimSuffix(firstNonEmpty(p.config.BaseURL, anthropicDefaultBaseURL), "/")
	return p.streamer.start(ctx, httpCall{
		providerID: p.ID(),
		url:        baseURL + "/v1/messages",
		headers: map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropicVersion,
		},
		body:    p.buildRequest(req),
		framing: framingSSE,
		norm:    newAnthropicNormalizer(p.ID()),
	})
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (p *AnthropicProvider) buildRequest(req *ChatRequest) *anthropicRequest {
	maxTokens := firstPositive(req.MaxTokens, p.config.MaxTokens, 8192)
	out := &anthropicRequest{
		Model:       firstNonEmpty(req.Model, p.config.Model, "claude-sonnet-4-20250514"),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			if t := types.PlainText(msg.Content); t != "" {
				system = append(system, t)
			}
			continue
		}
		blocks := anthropicBlocks(msg.Content)
		if len(blocks) == 0 {
			continue
		}
		role := string(msg.Role)
		// Consecutive messages of one role are merged; the API rejects them.
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content = append(out.Messages[n-1].Content, blocks...)
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: blocks})
	}

	// The conversation must open with a user turn, which a compaction summary
	// does not satisfy.
	if len(out.Messages) > 0 && out.Messages[0].Role != string(types.RoleUser) {
		out.Messages = append([]anthropicMessage{{
			Role:    string(types.RoleUser),
			Content: []anthropicBlock{{Type: "text", Text: "Continue from the conversation summary."}},
		}}, out.Messages...)
	}

	out.System = strings.Join(system, "\n\n")
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaOrEmpty(t.Parameters),
		})
	}
	return out
}

func anthropicBlocks(content []types.ContentBlock) []anthropicBlock {
	var out []anthropicBlock
	for _, b := range content {
		switch b.Type {
		case types.BlockText:
			if b.Text != "" {
				out = append(out, anthropicBlock{Type: "text", Text: b.Text})
			}
		case types.BlockToolUse:
			input := b.Input
			if !json.Valid(input) {
				input = json.RawMessage("{}")
			}
			out = append(out, anthropicBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input})
		case types.BlockToolResult:
			out = append(out, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: b.ToolUseID,
				Content:   b.Output,
				IsError:   b.IsError,
			})
		}
	}
	return out
}

// anthropicNormalizer maps the Messages stream onto canonical events. The
// vendor format is close to canonical; indices are renumbered so they are
// allocated in arrival order.
type anthropicNormalizer struct {
	providerID string

	started   bool
	done      bool
	nextIndex int
	// open maps the vendor index of each open block to its canonical index.
	open     map[int]openBlock
	toolUses int

	inputTokens int
	sawDelta    bool
}

type openBlock struct {
	index int
	kind  types.BlockType
	id    string
	name  string
}

func newAnthropicNormalizer(providerID string) *anthropicNormalizer {
	return &anthropicNormalizer{providerID: providerID, open: make(map[int]openBlock)}
}

func (n *anthropicNormalizer) Done() bool { return n.done }

func (n *anthropicNormalizer) Feed(data []byte) []types.ChatEvent {
	if n.done || len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		logDropped(n.providerID, "invalid json", string(data))
		return nil
	}
	root := gjson.ParseBytes(data)

	switch root.Get("type").String() {
	case "message_start":
		if n.started {
			return nil
		}
		n.started = true
		n.inputTokens = int(root.Get("message.usage.input_tokens").Int())
		return []types.ChatEvent{types.MessageStartEvent(
			root.Get("message.id").String(),
			root.Get("message.model").String(),
		)}

	case "content_block_start":
		vi := int(root.Get("index").Int())
		if _, dup := n.open[vi]; dup {
			logDropped(n.providerID, "duplicate block start", string(data))
			return nil
		}
		out := n.ensureStarted()
		idx := n.nextIndex
		n.nextIndex++
		cb := root.Get("content_block")
		switch cb.Get("type").String() {
		case "text":
			n.open[vi] = openBlock{index: idx, kind: types.BlockText}
			out = append(out, types.TextStartEvent(idx))
			if t := cb.Get("text").String(); t != "" {
				out = append(out, types.TextDeltaEvent(idx, t))
			}
		case "thinking":
			n.open[vi] = openBlock{index: idx, kind: types.BlockThinking}
			out = append(out, types.ThinkingStartEvent(idx))
		case "tool_use":
			id, name := cb.Get("id").String(), cb.Get("name").String()
			n.open[vi] = openBlock{index: idx, kind: types.BlockToolUse, id: id, name: name}
			n.toolUses++
			out = append(out, types.ToolUseStartEvent(idx, id, name))
		default:
			n.nextIndex--
			return out
		}
		return out

	case "content_block_delta":
		ob, ok := n.open[int(root.Get("index").Int())]
		if !ok {
			logDropped(n.providerID, "delta for unknown block", string(data))
			return nil
		}
		d := root.Get("delta")
		switch d.Get("type").String() {
		case "text_delta":
			return []types.ChatEvent{types.TextDeltaEvent(ob.index, d.Get("text").String())}
		case "input_json_delta":
			return []types.ChatEvent{types.InputJSONDeltaEvent(ob.index, d.Get("partial_json").String())}
		case "thinking_delta":
			return []types.ChatEvent{types.ThinkingDeltaEvent(ob.index, d.Get("thinking").String())}
		}
		return nil

	case "content_block_stop":
		vi := int(root.Get("index").Int())
		ob, ok := n.open[vi]
		if !ok {
			return nil
		}
		delete(n.open, vi)
		return []types.ChatEvent{types.BlockStopEvent(ob.index)}

	case "message_delta":
		n.sawDelta = true
		out := n.closeOpen()
		usage := &types.Usage{
			InputTokens:  n.inputTokens,
			OutputTokens: int(root.Get("usage.output_tokens").Int()),
		}
		if in := root.Get("usage.input_tokens"); in.Exists() && in.Int() > 0 {
			usage.InputTokens = int(in.Int())
		}
		return append(out, types.MessageDeltaEvent(mapFinishReason(root.Get("delta.stop_reason").String()), usage))

	case "message_stop":
		out := n.closeOpen()
		if !n.sawDelta {
			reason := types.StopEndTurn
			if n.toolUses > 0 {
				reason = types.StopToolUse
			}
			out = append(out, types.MessageDeltaEvent(reason, &types.Usage{InputTokens: n.inputTokens}))
		}
		n.done = true
		return append(out, types.MessageStopEvent())

	case "error":
		return n.Abort(types.ErrVendor, firstNonEmpty(root.Get("error.message").String(), "provider error"))

	case "ping":
		return nil
	}
	return nil
}

func (n *anthropicNormalizer) ensureStarted() []types.ChatEvent {
	if n.started {
		return nil
	}
	n.started = true
	return []types.ChatEvent{types.MessageStartEvent(NewID(), "")}
}

// closeOpen terminates blocks the vendor left open before message_delta.
// Text and thinking blocks are closed silently.
func (n *anthropicNormalizer) closeOpen() []types.ChatEvent {
	var out []types.ChatEvent
	for _, vi := range sortedKeys(n.open) {
		out = append(out, types.BlockStopEvent(n.open[vi].index))
		delete(n.open, vi)
	}
	return out
}

func (n *anthropicNormalizer) Close() []types.ChatEvent {
	return n.Abort(types.ErrTransport, "stream ended before message_stop")
}

func (n *anthropicNormalizer) Abort(kind types.ErrorKind, message string) []types.ChatEvent {
	if n.done {
		return nil
	}
	n.done = true
	var out []types.ChatEvent
	for _, vi := range sortedKeys(n.open) {
		ob := n.open[vi]
		if ob.kind == types.BlockToolUse {
			out = append(out, toolProtocolError(ob.id, ob.name))
		} else {
			out = append(out, types.BlockStopEvent(ob.index))
		}
		delete(n.open, vi)
	}
	return append(out, types.ErrorEvent(kind, message))
}

// anthropicModels returns the list of Anthropic models.
func anthropicModels(providerID string) []types.Model {
	return []types.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ProviderID: providerID, ContextLength: 200000, MaxOutputTokens: 64000, SupportsTools: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ProviderID: providerID, ContextLength: 200000, MaxOutputTokens: 32000, SupportsTools: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ProviderID: providerID, ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true},
		{ID: "claude-haiku-4-5", Name: "Claude 4.5 Haiku", ProviderID: providerID, ContextLength: 200000, MaxOutputTokens: 8192, SupportsTools: true},
	}
}
