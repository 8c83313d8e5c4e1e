package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// isolate points HOME and the XDG directories at a temp dir and clears the
// variables Load reads, returning the temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, ".local", "share"))
	for _, name := range []string{
		"CODEAGENT_CONFIG", "CODEAGENT_CONFIG_CONTENT", "CODEAGENT_MODEL", "CODEAGENT_SMALL_MODEL",
		"CODEAGENT_PERMISSION", "CODEAGENT_MAX_STEPS", "CODEAGENT_STORAGE_DIR",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadEmpty(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Model)
	assert.NotNil(t, cfg.Provider)
	assert.Nil(t, cfg.Permission)
}

func TestLoadJSONConfig(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{
		"$schema": "https://example.com/codeagent.json",
		"model": "anthropic/claude-sonnet-4-20250514",
		"small_model": "anthropic/claude-3-5-haiku-20241022",
		"provider": {
			"anthropic": {
				"options": {
					"apiKey": "sk-ant-test123"
				}
			},
			"openai": {
				"apiKey": "sk-openai-test",
				"baseURL": "https://api.openai.com/v1"
			}
		},
		"agent": {
			"temperature": 0.7,
			"maxSteps": 20,
			"parallelTools": true
		}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/codeagent.json", cfg.Schema)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "anthropic/claude-3-5-haiku-20241022", cfg.SmallModel)

	// nested options are normalized into the direct fields
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "sk-openai-test", cfg.Provider["openai"].APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Provider["openai"].BaseURL)

	require.NotNil(t, cfg.Agent)
	require.NotNil(t, cfg.Agent.Temperature)
	assert.Equal(t, 0.7, *cfg.Agent.Temperature)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
	require.NotNil(t, cfg.Agent.ParallelTools)
	assert.True(t, *cfg.Agent.ParallelTools)
}

func TestJSONCComments(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".codeagent", "codeagent.jsonc"), `{
		// This is a single-line comment
		"model": "anthropic/claude-sonnet-4-20250514",
		/* This is a
		   multi-line comment */
		"provider": {
			"anthropic": {
				"apiKey": "test-key", // inline comment
			},
		},
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "test-key", cfg.Provider["anthropic"].APIKey)
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".codeagent", "codeagent.yaml"), `
model: ollama/llama3.1
provider:
  ollama:
    baseURL: http://localhost:11434
permission:
  default: ask
  doom_loop: deny
  rules:
    - permission: bash
      pattern: "go test *"
      action: allow
    - permission: edit
      pattern: "vendor/**"
      action: deny
compaction:
  threshold: 120000
  keepRecent: 8
  summarizer: heuristic
retry:
  initialInterval: 500ms
  maxAttempts: 4
timeouts:
  providerIdle: 90s
  tool: 5m
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "ollama/llama3.1", cfg.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Provider["ollama"].BaseURL)

	require.NotNil(t, cfg.Permission)
	assert.Equal(t, "ask", cfg.Permission.Default)
	assert.Equal(t, "deny", cfg.Permission.DoomLoop)
	require.Len(t, cfg.Permission.Rules, 2)
	assert.Equal(t, types.PermissionRuleConfig{Permission: "bash", Pattern: "go test *", Action: "allow"}, cfg.Permission.Rules[0])

	require.NotNil(t, cfg.Compaction)
	assert.Equal(t, 120000, cfg.Compaction.Threshold)
	assert.Equal(t, 8, cfg.Compaction.KeepRecent)
	assert.Equal(t, "heuristic", cfg.Compaction.Summarizer)

	require.NotNil(t, cfg.Retry)
	assert.Equal(t, "500ms", cfg.Retry.InitialInterval)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.NotNil(t, cfg.Timeouts)
	assert.Equal(t, "90s", cfg.Timeouts.ProviderIdle)
	assert.Equal(t, "5m", cfg.Timeouts.Tool)
}

func TestInvalidConfigIsAnError(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{"model": `)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codeagent.json")
}

func TestEnvInterpolation(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TEST_API_KEY", `interpolated"key`)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{
		"provider": {
			"anthropic": {
				"apiKey": "{env:TEST_API_KEY}"
			}
		}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, `interpolated"key`, cfg.Provider["anthropic"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".codeagent", "prompt.txt"), "line one\nline \"two\"\n")
	writeFile(t, filepath.Join(dir, ".codeagent", "codeagent.yaml"), `
agent:
  prompt: "{file:prompt.txt}"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg.Agent)
	assert.Equal(t, "line one\nline \"two\"", cfg.Agent.Prompt)
}

func TestConfigMerge(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".config", "codeagent", "codeagent.json"), `{
		"model": "anthropic/claude-3-5-haiku-20241022",
		"instructions": ["GLOBAL.md"],
		"provider": {
			"anthropic": {"apiKey": "global-key"},
			"openai": {"apiKey": "global-openai"}
		},
		"tools": {"webfetch": false, "bash": true}
	}`)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{
		"model": "anthropic/claude-sonnet-4-20250514",
		"instructions": ["PROJECT.md"],
		"provider": {
			"anthropic": {"apiKey": "project-key"}
		},
		"tools": {"bash": false}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, []string{"GLOBAL.md", "PROJECT.md"}, cfg.Instructions)
	assert.Equal(t, "project-key", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "global-openai", cfg.Provider["openai"].APIKey)
	assert.Equal(t, map[string]bool{"webfetch": false, "bash": false}, cfg.Tools)
}

func TestEnvVarOverride(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{
		"model": "anthropic/claude-3-5-haiku-20241022",
		"provider": {"openai": {"apiKey": "configured"}}
	}`)
	t.Setenv("CODEAGENT_MODEL", "openai/gpt-4o")
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("CODEAGENT_PERMISSION", `{"default":"deny-all"}`)
	t.Setenv("CODEAGENT_MAX_STEPS", "7")
	t.Setenv("CODEAGENT_STORAGE_DIR", filepath.Join(dir, "sessions"))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, "env-anthropic", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "configured", cfg.Provider["openai"].APIKey, "configured keys win over the environment")
	require.NotNil(t, cfg.Permission)
	assert.Equal(t, "deny-all", cfg.Permission.Default)
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, filepath.Join(dir, "sessions"), StorageDir(cfg))
}

func TestCODEAGENT_CONFIG(t *testing.T) {
	dir := isolate(t)
	custom := filepath.Join(dir, "elsewhere", "custom.yaml")
	writeFile(t, custom, "model: openai/gpt-4o-mini\n")
	t.Setenv("CODEAGENT_CONFIG", custom)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Model)
}

func TestCODEAGENT_CONFIG_CONTENT(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{"model": "anthropic/claude-3-5-haiku-20241022"}`)
	t.Setenv("CODEAGENT_CONFIG_CONTENT", `{"model": "ollama/qwen2.5-coder" /* inline */}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ollama/qwen2.5-coder", cfg.Model)
}

func TestMCPConfig(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "codeagent.json"), `{
		"mcp": {
			"calculator": {
				"type": "local",
				"command": ["calculator-mcp", "--stdio"],
				"environment": {"DEBUG": "1"},
				"timeout": 5000
			},
			"docs": {
				"type": "remote",
				"url": "https://mcp.example.com/mcp",
				"headers": {"Authorization": "Bearer x"},
				"enabled": false
			}
		}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.MCP, 2)

	calc := cfg.MCP["calculator"]
	assert.Equal(t, "local", calc.Type)
	assert.Equal(t, []string{"calculator-mcp", "--stdio"}, calc.Command)
	assert.Equal(t, "1", calc.Environment["DEBUG"])
	assert.Equal(t, 5000, calc.Timeout)

	docs := cfg.MCP["docs"]
	assert.Equal(t, "https://mcp.example.com/mcp", docs.URL)
	require.NotNil(t, docs.Enabled)
	assert.False(t, *docs.Enabled)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	temp := 0.2
	cfg := &types.Config{
		Model:      "anthropic/claude-sonnet-4-20250514",
		Agent:      &types.AgentConfig{Temperature: &temp, MaxSteps: 12},
		Permission: &types.PermissionConfig{Default: "allow-all"},
	}

	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "saved", name)
			require.NoError(t, Save(cfg, path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			loaded, err := Parse(path, data)
			require.NoError(t, err)
			assert.Equal(t, cfg.Model, loaded.Model)
			assert.Equal(t, 12, loaded.Agent.MaxSteps)
			assert.Equal(t, "allow-all", loaded.Permission.Default)
		})
	}
}

func TestGetPaths(t *testing.T) {
	dir := isolate(t)
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	paths := GetPaths()
	assert.Equal(t, filepath.Join(dir, ".config", "codeagent"), paths.Config)
	assert.Equal(t, filepath.Join(dir, ".local", "share", "codeagent", "storage"), paths.StoragePath())
	assert.Equal(t, filepath.Join(dir, "state", "codeagent", "log"), paths.LogPath())
	assert.Equal(t, paths.StoragePath(), StorageDir(&types.Config{}))

	require.NoError(t, paths.EnsurePaths())
	info, err := os.Stat(paths.State)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
