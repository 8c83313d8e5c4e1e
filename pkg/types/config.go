package types

// Config represents the codeagent configuration. Files may be JSON, JSONC or
// YAML; field names are identical in all formats.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Model selection, "provider/model"
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty" yaml:"small_model,omitempty"`

	// Additional instruction files appended to the system prompt
	Instructions []string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// Global tools enable/disable
	Tools map[string]bool `json:"tools,omitempty" yaml:"tools,omitempty"`

	Provider   map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`
	Agent      *AgentConfig              `json:"agent,omitempty" yaml:"agent,omitempty"`
	Permission *PermissionConfig         `json:"permission,omitempty" yaml:"permission,omitempty"`
	Compaction *CompactionConfig         `json:"compaction,omitempty" yaml:"compaction,omitempty"`
	Retry      *RetryConfig              `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeouts   *TimeoutConfig            `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	MCP        map[string]MCPConfig      `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	Storage    *StorageConfig            `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	// Type selects the wire implementation when the key is not a known
	// provider id: "anthropic", "openai", "ollama", "ark", "bedrock", "azure".
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`

	// Model is the model or endpoint ID; ARK addresses models by endpoint.
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`

	Options *ProviderOptions `json:"options,omitempty" yaml:"options,omitempty"`

	Disable bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// ProviderOptions holds nested vendor options.
type ProviderOptions struct {
	APIKey     string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL    string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Region     string `json:"region,omitempty" yaml:"region,omitempty"`         // bedrock
	Profile    string `json:"profile,omitempty" yaml:"profile,omitempty"`       // bedrock
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"` // azure
}

// AgentConfig holds the turn-level generation settings.
type AgentConfig struct {
	Prompt      string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxSteps    int      `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	// ParallelTools allows completed tool_use blocks to run concurrently.
	ParallelTools *bool `json:"parallelTools,omitempty" yaml:"parallelTools,omitempty"`
}

// PermissionConfig holds the permission policy.
type PermissionConfig struct {
	Default string                 `json:"default,omitempty" yaml:"default,omitempty"` // "ask"|"allow-all"|"deny-all"
	Rules   []PermissionRuleConfig `json:"rules,omitempty" yaml:"rules,omitempty"`
	// DoomLoop is the action for a tool repeated with identical input.
	DoomLoop string `json:"doom_loop,omitempty" yaml:"doom_loop,omitempty"`
}

// PermissionRuleConfig is one policy statement.
type PermissionRuleConfig struct {
	Permission string `json:"permission" yaml:"permission"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Action     string `json:"action" yaml:"action"`
}

// CompactionConfig controls history compaction.
type CompactionConfig struct {
	Disabled      bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Threshold     int     `json:"threshold,omitempty" yaml:"threshold,omitempty"` // estimated tokens
	KeepRecent    int     `json:"keepRecent,omitempty" yaml:"keepRecent,omitempty"`
	CharsPerToken float64 `json:"charsPerToken,omitempty" yaml:"charsPerToken,omitempty"`
	// Summarizer is "model" (default) or "heuristic".
	Summarizer string `json:"summarizer,omitempty" yaml:"summarizer,omitempty"`
}

// RetryConfig controls provider transport retries.
type RetryConfig struct {
	InitialInterval string  `json:"initialInterval,omitempty" yaml:"initialInterval,omitempty"` // duration, "1s"
	Multiplier      float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	MaxAttempts     int     `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
}

// TimeoutConfig holds durations as Go duration strings.
type TimeoutConfig struct {
	ProviderIdle string `json:"providerIdle,omitempty" yaml:"providerIdle,omitempty"`
	Tool         string `json:"tool,omitempty" yaml:"tool,omitempty"`
}

// MCPConfig holds MCP server configuration.
type MCPConfig struct {
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"` // "local"|"remote"|"sse"
	Command     []string          `json:"command,omitempty" yaml:"command,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // ms
}

// StorageConfig overrides where sessions are persisted.
type StorageConfig struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextLength   int    `json:"contextLength"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
	SupportsTools   bool   `json:"supportsTools"`
}
