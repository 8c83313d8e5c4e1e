package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/pkg/types"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaProvider speaks the Ollama /api/chat newline-delimited JSON stream.
type OllamaProvider struct {
	config   *OllamaConfig
	streamer *httpStreamer
}

// OllamaConfig holds configuration for the Ollama provider. No credential is
// required; APIKey is sent as a bearer token when set (hosted gateways).
type OllamaConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	HTTP      HTTPOptions
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(config *OllamaConfig) *OllamaProvider {
	return &OllamaProvider{config: config, streamer: newHTTPStreamer(config.HTTP)}
}

// ID returns the provider identifier.
func (p *OllamaProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "ollama"
}

// Name returns the human-readable provider name.
func (p *OllamaProvider) Name() string { return "Ollama" }

// Models returns the configured local model.
func (p *OllamaProvider) Models() []types.Model {
	id := firstNonEmpty(p.config.Model, "llama3.1")
	return []types.Model{{ID: id, Name: id, ProviderID: p.ID(), ContextLength: 32768, SupportsTools: true}}
}

// Chat starts a streaming completion.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) *EventStream {
	baseURL := strings.TrimSuffix(firstNonEmpty(p.config.BaseURL, resolveCredential("", "OLLAMA_HOST"), ollamaDefaultBaseURL), "/")
	headers := map[string]string{}
	if key := resolveCredential(p.config.APIKey, "OLLAMA_API_KEY"); key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return p.streamer.start(ctx, httpCall{
		providerID: p.ID(),
		url:        baseURL + "/api/chat",
		headers:    headers,
		body:       p.buildRequest(req),
		framing:    framingNDJSON,
		norm:       newOllamaNormalizer(p.ID()),
	})
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openaiTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (p *OllamaProvider) buildRequest(req *ChatRequest) *ollamaRequest {
	out := &ollamaRequest{
		Model:  firstNonEmpty(req.Model, p.config.Model, "llama3.1"),
		Stream: true,
	}
	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if n := firstPositive(req.MaxTokens, p.config.MaxTokens); n > 0 {
		opts["num_predict"] = n
	}
	if len(opts) > 0 {
		out.Options = opts
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	// tool_name lets the model associate results; Ollama has no call ids.
	names := map[string]string{}
	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleAssistant:
			m := ollamaMessage{Role: "assistant", Content: types.PlainText(msg.Content)}
			for _, b := range types.ToolUses(msg.Content) {
				names[b.ID] = b.Name
				var tc ollamaToolCall
				tc.Function.Name = b.Name
				tc.Function.Arguments = b.Input
				if !json.Valid(b.Input) {
					tc.Function.Arguments = json.RawMessage("{}")
				}
				m.ToolCalls = append(m.ToolCalls, tc)
			}
			out.Messages = append(out.Messages, m)
		case types.RoleUser:
			for _, b := range msg.Content {
				if b.Type == types.BlockToolResult {
					out.Messages = append(out.Messages, ollamaMessage{Role: "tool", Content: b.Output, ToolName: names[b.ToolUseID]})
				}
			}
			if text := types.PlainText(msg.Content); text != "" {
				out.Messages = append(out.Messages, ollamaMessage{Role: "user", Content: text})
			}
		case types.RoleSystem:
			out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: types.PlainText(msg.Content)})
		}
	}

	for _, t := range req.Tools {
		var tool openaiTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = schemaOrEmpty(t.Parameters)
		out.Tools = append(out.Tools, tool)
	}
	return out
}

// ollamaNormalizer handles /api/chat lines. Tool calls arrive whole, each is
// fed to the accumulator under its own call index.
type ollamaNormalizer struct {
	*chunkNormalizer
	calls int
}

func newOllamaNormalizer(providerID string) *ollamaNormalizer {
	return &ollamaNormalizer{chunkNormalizer: newChunkNormalizer(providerID, NewID)}
}

func (n *ollamaNormalizer) Feed(data []byte) []types.ChatEvent {
	if n.finished {
		return nil
	}
	if !gjson.ValidBytes(data) {
		logDropped(n.providerID, "invalid json", string(data))
		return nil
	}
	root := gjson.ParseBytes(data)

	if e := root.Get("error"); e.Exists() {
		return n.abort(types.ErrVendor, e.String())
	}

	out := n.begin("", root.Get("model").String())
	msg := root.Get("message")
	out = append(out, n.thinking(msg.Get("thinking").String())...)
	out = append(out, n.text(msg.Get("content").String())...)
	for _, tc := range msg.Get("tool_calls").Array() {
		args := tc.Get("function.arguments")
		raw := args.Raw
		if args.Type == gjson.String {
			raw = args.String()
		}
		out = append(out, n.toolFragment(n.calls, "", tc.Get("function.name").String(), raw)...)
		n.calls++
	}

	if root.Get("done").Bool() {
		n.setUsage(int(root.Get("prompt_eval_count").Int()), int(root.Get("eval_count").Int()))
		n.finishReason(mapFinishReason(root.Get("done_reason").String()))
		if n.calls > 0 {
			n.finishReason(types.StopToolUse)
		}
		out = append(out, n.end()...)
	}
	return out
}

func (n *ollamaNormalizer) Abort(kind types.ErrorKind, message string) []types.ChatEvent {
	return n.abort(kind, message)
}

func (n *ollamaNormalizer) Close() []types.ChatEvent {
	return n.abort(types.ErrTransport, "stream ended before done")
}
