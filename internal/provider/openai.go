package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/pkg/types"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat completions streaming API. Any
// compatible endpoint works through BaseURL.
type OpenAIProvider struct {
	config   *OpenAIConfig
	streamer *httpStreamer
}

// OpenAIConfig holds configuration for OpenAI provider.
type OpenAIConfig struct {
	// ID is the provider identifier. Defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	HTTP      HTTPOptions
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(config *OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		config:   config,
		streamer: newHTTPStreamer(config.HTTP),
	}
}

// ID returns the provider identifier.
func (p *OpenAIProvider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return "openai"
}

// Name returns the human-readable provider name.
func (p *OpenAIProvider) Name() string { return "OpenAI" }

// Models returns the list of available models.
func (p *OpenAIProvider) Models() []types.Model {
	models := openaiModels(p.ID())
	if p.config.Model != "" && !hasModel(models, p.config.Model) {
		models = append(models, types.Model{ID: p.config.Model, Name: p.config.Model, ProviderID: p.ID(), ContextLength: 128000, SupportsTools: true})
	}
	return models
}

// Chat starts a streaming completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) *EventStream {
	apiKey := resolveCredential(p.config.APIKey, "OPENAI_API_KEY")
	if apiKey == "" {
		return errorStream(types.ErrAuthentication, "missing credential for openai: set provider.openai.apiKey or OPENAI_API_KEY")
	}

	baseURL := strings.TrimSuffix(firstNonEmpty(p.config.BaseURL, openaiDefaultBaseURL), "/")
	return p.streamer.start(ctx, httpCall{
		providerID: p.ID(),
		url:        baseURL + "/chat/completions",
		headers:    map[string]string{"Authorization": "Bearer " + apiKey},
		body:       p.buildRequest(req),
		framing:    framingSSE,
		norm:       newOpenAINormalizer(p.ID()),
	})
}

type openaiRequest struct {
	Model         string          `json:"model"`
	Messages      []openaiMessage `json:"messages"`
	Tools         []openaiTool    `json:"tools,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	Stream        bool            `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest) *openaiRequest {
	out := &openaiRequest{
		Model:       firstNonEmpty(req.Model, p.config.Model, "gpt-4o"),
		MaxTokens:   firstPositive(req.MaxTokens, p.config.MaxTokens),
		Temperature: req.Temperature,
		Stream:      true,
	}
	out.StreamOptions.IncludeUsage = true
	out.Messages = openaiMessages(req.SystemPrompt, req.Messages)

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

// openaiMessages maps history onto chat completion roles. Tool results
// become one "tool" message each, in the order they were recorded.
func openaiMessages(systemPrompt string, history []types.Message) []openaiMessage {
	var out []openaiMessage
	if systemPrompt != "" {
		out = append(out, openaiMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range history {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openaiMessage{Role: "system", Content: types.PlainText(msg.Content)})
		case types.RoleAssistant:
			m := openaiMessage{Role: "assistant", Content: types.PlainText(msg.Content)}
			for _, b := range types.ToolUses(msg.Content) {
				var tc openaiToolCall
				tc.ID, tc.Type = b.ID, "function"
				tc.Function.Name = b.Name
				tc.Function.Arguments = string(b.Input)
				if !json.Valid(b.Input) {
					tc.Function.Arguments = "{}"
				}
				m.ToolCalls = append(m.ToolCalls, tc)
			}
			if m.Content == "" && len(m.ToolCalls) == 0 {
				continue
			}
			out = append(out, m)
		case types.RoleUser:
			for _, b := range msg.Content {
				if b.Type == types.BlockToolResult {
					out = append(out, openaiMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: b.Output})
				}
			}
			if text := types.PlainText(msg.Content); text != "" {
				out = append(out, openaiMessage{Role: "user", Content: text})
			}
		}
	}
	return out
}

// openaiNormalizer handles chat.completion.chunk frames.
type openaiNormalizer struct {
	*chunkNormalizer
	sawFinish bool
}

func newOpenAINormalizer(providerID string) *openaiNormalizer {
	return &openaiNormalizer{chunkNormalizer: newChunkNormalizer(providerID, NewID)}
}

func (n *openaiNormalizer) Feed(data []byte) []types.ChatEvent {
	if n.finished {
		return nil
	}
	if strings.TrimSpace(string(data)) == "[DONE]" {
		return n.end()
	}
	if !gjson.ValidBytes(data) {
		logDropped(n.providerID, "invalid json", string(data))
		return nil
	}
	root := gjson.ParseBytes(data)

	if e := root.Get("error"); e.Exists() {
		return n.abort(types.ErrVendor, firstNonEmpty(e.Get("message").String(), e.String()))
	}

	out := n.begin(root.Get("id").String(), root.Get("model").String())

	for _, choice := range root.Get("choices").Array() {
		delta := choice.Get("delta")
		if r := delta.Get("reasoning_content"); r.Exists() {
			out = append(out, n.thinking(r.String())...)
		}
		if c := delta.Get("content"); c.Exists() {
			out = append(out, n.text(c.String())...)
		}
		for _, tc := range delta.Get("tool_calls").Array() {
			out = append(out, n.toolFragment(
				int(tc.Get("index").Int()),
				tc.Get("id").String(),
				tc.Get("function.name").String(),
				tc.Get("function.arguments").String(),
			)...)
		}
		if fr := choice.Get("finish_reason"); fr.Exists() && fr.Type == gjson.String {
			n.sawFinish = true
			n.finishReason(mapFinishReason(fr.String()))
		}
	}

	if u := root.Get("usage"); u.Exists() && u.IsObject() {
		n.setUsage(int(u.Get("prompt_tokens").Int()), int(u.Get("completion_tokens").Int()))
	}
	return out
}

func (n *openaiNormalizer) Abort(kind types.ErrorKind, message string) []types.ChatEvent {
	return n.abort(kind, message)
}

// Close treats a body that ends after finish_reason but without [DONE] as
// complete; some compatible servers omit the sentinel.
func (n *openaiNormalizer) Close() []types.ChatEvent {
	if n.finished {
		return nil
	}
	if n.sawFinish {
		return n.end()
	}
	return n.abort(types.ErrTransport, "stream ended before finish_reason")
}

func openaiModels(providerID string) []types.Model {
	return []types.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ProviderID: providerID, ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ProviderID: providerID, ContextLength: 128000, MaxOutputTokens: 16384, SupportsTools: true},
		{ID: "gpt-4.1", Name: "GPT-4.1", ProviderID: providerID, ContextLength: 1047576, MaxOutputTokens: 32768, SupportsTools: true},
		{ID: "o3-mini", Name: "o3-mini", ProviderID: providerID, ContextLength: 200000, MaxOutputTokens: 100000, SupportsTools: true},
	}
}

func hasModel(models []types.Model, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
