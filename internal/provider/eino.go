package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/wire"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// EinoProvider adapts an eino ToolCallingChatModel to the canonical stream.
// It backs vendors reached through eino-ext: Volcengine ARK, Anthropic on
// AWS Bedrock and Azure OpenAI.
type EinoProvider struct {
	id        string
	name      string
	chatModel model.ToolCallingChatModel
	models    []types.Model
	opts      HTTPOptions

	// setupErr is reported in-band on every Chat when construction could not
	// produce a model, typically a missing credential.
	setupErr *types.EventError
}

// NewEinoProvider wraps an existing chat model.
func NewEinoProvider(id, name string, chatModel model.ToolCallingChatModel, models []types.Model, opts HTTPOptions) *EinoProvider {
	return &EinoProvider{id: id, name: name, chatModel: chatModel, models: models, opts: opts.withDefaults()}
}

func failedEinoProvider(id, name string, models []types.Model, kind types.ErrorKind, message string) *EinoProvider {
	return &EinoProvider{id: id, name: name, models: models, setupErr: &types.EventError{Kind: kind, Message: message}}
}

// ID returns the provider identifier.
func (p *EinoProvider) ID() string { return p.id }

// Name returns the human-readable provider name.
func (p *EinoProvider) Name() string { return p.name }

// Models returns the list of available models.
func (p *EinoProvider) Models() []types.Model { return p.models }

// ChatModel returns the wrapped eino model.
func (p *EinoProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

// Chat starts a streaming completion.
func (p *EinoProvider) Chat(ctx context.Context, req *ChatRequest) *EventStream {
	if p.setupErr != nil {
		return errorStream(p.setupErr.Kind, p.setupErr.Message)
	}
	stream, out := newPipe()
	go func() {
		defer out.close()
		p.run(ctx, req, out)
	}()
	return stream
}

func (p *EinoProvider) run(ctx context.Context, req *ChatRequest, out emitter) {
	cm := p.chatModel
	if len(req.Tools) > 0 {
		var err error
		cm, err = cm.WithTools(ConvertToEinoTools(req.Tools))
		if err != nil {
			out.emit(types.ErrorEvent(types.ErrProtocol, fmt.Sprintf("bind tools: %v", err)))
			return
		}
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	msgs := ConvertToEinoMessages(req.SystemPrompt, req.Messages)

	streamCtx, watchdog := wire.NewWatchdog(ctx, p.opts.IdleTimeout)
	defer watchdog.Stop()

	var reader *schema.StreamReader[*schema.Message]
	attempt := 0
	op := func() error {
		attempt++
		r, err := cm.Stream(streamCtx, msgs, opts...)
		if err != nil {
			if isTransportError(err) && streamCtx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		reader = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn().Err(err).Str("provider", p.id).Int("attempt", attempt).Dur("retryIn", wait).Msg("provider transport failure, retrying")
	}
	if err := backoff.RetryNotify(op, p.opts.Retry.backOff(ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		switch {
		case ctx.Err() != nil || streamCtx.Err() != nil || isTransportError(err):
			kind, msg := classifyStreamEnd(ctx, streamCtx, err)
			out.emit(types.ErrorEvent(kind, msg))
		default:
			out.emit(types.ErrorEvent(types.ErrVendor, err.Error()))
		}
		return
	}
	defer reader.Close()
	watchdog.Touch()

	norm := newChunkNormalizer(p.id, NewID)
	calls := &einoCallIndexer{}
	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			out.emit(norm.end()...)
			return
		}
		if err != nil {
			kind, msg := classifyStreamEnd(ctx, streamCtx, err)
			out.emit(norm.abort(kind, msg)...)
			return
		}
		events := feedEinoChunk(norm, calls, chunk)
		if len(events) > 0 {
			watchdog.Touch()
		}
		if !out.emit(events...) {
			return
		}
	}
}

// einoCallIndexer assigns call indices to tool call chunks that carry none,
// opening a new call whenever a new id appears.
type einoCallIndexer struct {
	current int
	lastID  string
	seen    bool
}

func (c *einoCallIndexer) index(tc schema.ToolCall) int {
	if tc.Index != nil {
		return *tc.Index
	}
	if tc.ID != "" && tc.ID != c.lastID {
		if c.seen {
			c.current++
		}
		c.lastID = tc.ID
		c.seen = true
	}
	return c.current
}

func feedEinoChunk(n *chunkNormalizer, calls *einoCallIndexer, msg *schema.Message) []types.ChatEvent {
	if msg == nil {
		return nil
	}
	out := n.begin("", "")
	out = append(out, n.thinking(msg.ReasoningContent)...)
	out = append(out, n.text(msg.Content)...)
	for _, tc := range msg.ToolCalls {
		out = append(out, n.toolFragment(calls.index(tc), tc.ID, tc.Function.Name, tc.Function.Arguments)...)
	}
	if meta := msg.ResponseMeta; meta != nil {
		n.finishReason(mapFinishReason(meta.FinishReason))
		if meta.Usage != nil {
			n.setUsage(meta.Usage.PromptTokens, meta.Usage.CompletionTokens)
		}
	}
	return out
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ConvertToEinoTools converts tool specs to eino tool infos.
func ConvertToEinoTools(tools []ToolSpec) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

// parseJSONSchemaToParams converts JSON Schema to eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}
	return params
}

// ConvertToEinoMessages converts history to eino messages.
func ConvertToEinoMessages(systemPrompt string, history []types.Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(history)+1)
	if systemPrompt != "" {
		result = append(result, schema.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case types.RoleSystem:
			result = append(result, schema.SystemMessage(types.PlainText(msg.Content)))
		case types.RoleUser:
			for _, b := range msg.Content {
				if b.Type == types.BlockToolResult {
					result = append(result, schema.ToolMessage(b.Output, b.ToolUseID))
				}
			}
			if text := types.PlainText(msg.Content); text != "" {
				result = append(result, schema.UserMessage(text))
			}
		case types.RoleAssistant:
			var toolCalls []schema.ToolCall
			for _, b := range types.ToolUses(msg.Content) {
				args := string(b.Input)
				if !json.Valid(b.Input) {
					args = "{}"
				}
				toolCalls = append(toolCalls, schema.ToolCall{
					ID:       b.ID,
					Type:     "function",
					Function: schema.FunctionCall{Name: b.Name, Arguments: args},
				})
			}
			text := types.PlainText(msg.Content)
			if text == "" && len(toolCalls) == 0 {
				continue
			}
			result = append(result, schema.AssistantMessage(text, toolCalls))
		}
	}
	return result
}

// ArkConfig holds configuration for ARK provider.
type ArkConfig struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string // Endpoint ID on ARK platform
	MaxTokens int
	HTTP      HTTPOptions
}

// NewArkProvider creates a Volcengine ARK provider.
func NewArkProvider(ctx context.Context, config *ArkConfig) *EinoProvider {
	id := firstNonEmpty(config.ID, "ark")
	modelID := firstNonEmpty(config.Model, resolveCredential("", "ARK_MODEL_ID"))
	models := singleModel(id, modelID)

	apiKey := resolveCredential(config.APIKey, "ARK_API_KEY")
	if apiKey == "" {
		return failedEinoProvider(id, "ARK", models, types.ErrAuthentication, "missing credential for ark: set provider.ark.apiKey or ARK_API_KEY")
	}
	if modelID == "" {
		return failedEinoProvider(id, "ARK", models, types.ErrVendor, "ark requires an endpoint id: set provider.ark.model or ARK_MODEL_ID")
	}

	maxTokens := firstPositive(config.MaxTokens, 4096)
	cfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: &maxTokens,
	}
	if baseURL := firstNonEmpty(config.BaseURL, resolveCredential("", "ARK_BASE_URL")); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return failedEinoProvider(id, "ARK", models, types.ErrVendor, fmt.Sprintf("create ARK model: %v", err))
	}
	return NewEinoProvider(id, "ARK", chatModel, models, config.HTTP)
}

// BedrockConfig holds configuration for Anthropic models on AWS Bedrock.
// Credentials come from the AWS default chain.
type BedrockConfig struct {
	ID        string
	Model     string
	Region    string
	Profile   string
	MaxTokens int
	HTTP      HTTPOptions
}

// NewBedrockProvider creates a Bedrock provider through the eino claude model.
func NewBedrockProvider(ctx context.Context, config *BedrockConfig) *EinoProvider {
	id := firstNonEmpty(config.ID, "bedrock")
	modelID := firstNonEmpty(config.Model, "claude-sonnet-4-20250514")
	models := anthropicModels(id)

	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		ByBedrock: true,
		Region:    firstNonEmpty(config.Region, resolveCredential("", "AWS_REGION")),
		Profile:   config.Profile,
		Model:     "anthropic." + modelID + "-v1:0",
		MaxTokens: firstPositive(config.MaxTokens, 8192),
	})
	if err != nil {
		return failedEinoProvider(id, "Amazon Bedrock", models, types.ErrAuthentication, fmt.Sprintf("create Bedrock model: %v", err))
	}
	return NewEinoProvider(id, "Amazon Bedrock", chatModel, models, config.HTTP)
}

// AzureConfig holds configuration for Azure OpenAI.
type AzureConfig struct {
	ID         string
	APIKey     string
	BaseURL    string
	Model      string
	APIVersion string
	MaxTokens  int
	HTTP       HTTPOptions
}

// NewAzureProvider creates an Azure OpenAI provider through the eino openai
// model.
func NewAzureProvider(ctx context.Context, config *AzureConfig) *EinoProvider {
	id := firstNonEmpty(config.ID, "azure")
	modelID := firstNonEmpty(config.Model, "gpt-4o")
	models := singleModel(id, modelID)

	apiKey := resolveCredential(config.APIKey, "AZURE_OPENAI_API_KEY")
	if apiKey == "" {
		return failedEinoProvider(id, "Azure OpenAI", models, types.ErrAuthentication, "missing credential for azure: set provider.azure.apiKey or AZURE_OPENAI_API_KEY")
	}
	maxTokens := firstPositive(config.MaxTokens, 4096)
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
		BaseURL:             firstNonEmpty(config.BaseURL, resolveCredential("", "AZURE_OPENAI_ENDPOINT")),
		ByAzure:             true,
		APIVersion:          firstNonEmpty(config.APIVersion, "2024-02-15-preview"),
	})
	if err != nil {
		return failedEinoProvider(id, "Azure OpenAI", models, types.ErrVendor, fmt.Sprintf("create Azure model: %v", err))
	}
	return NewEinoProvider(id, "Azure OpenAI", chatModel, models, config.HTTP)
}

func singleModel(providerID, modelID string) []types.Model {
	if modelID == "" {
		return nil
	}
	return []types.Model{{ID: modelID, Name: modelID, ProviderID: providerID, ContextLength: 128000, SupportsTools: true}}
}
