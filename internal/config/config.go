package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// configNames are the file names looked up in each config directory, in
// load order.
var configNames = []string{"codeagent.yaml", "codeagent.yml", "codeagent.json", "codeagent.jsonc"}

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/codeagent/)
// 2. Project config (<dir>/ and <dir>/.codeagent/)
// 3. CODEAGENT_CONFIG file
// 4. CODEAGENT_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped; a file that exists but does not parse is an
// error.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{Provider: make(map[string]types.ProviderConfig)}

	loaded := make(map[string]bool)
	loadOnce := func(path string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("config %s: %w", path, err)
		}
		loaded[absPath] = true
		logging.Debug().Str("path", path).Msg("loaded config file")
		return nil
	}

	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".codeagent"))
	}
	for _, dir := range dirs {
		for _, name := range configNames {
			if err := loadOnce(filepath.Join(dir, name)); err != nil {
				return nil, err
			}
		}
	}

	if configPath := os.Getenv("CODEAGENT_CONFIG"); configPath != "" {
		if err := loadOnce(configPath); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("CODEAGENT_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		data := interpolate(jsonc.ToJSON([]byte(content)), directory)
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, fmt.Errorf("CODEAGENT_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inline)
	}

	applyEnvOverrides(config)
	normalizeProviderConfig(config)
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// Relative {file:} references resolve against the file's directory.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fileConfig, err := Parse(path, data)
	if err != nil {
		return err
	}
	mergeConfig(config, fileConfig)
	return nil
}

// Parse decodes one config document. The format follows the extension:
// .yaml/.yml is YAML, anything else JSON with comments allowed.
func Parse(path string, data []byte) (*types.Config, error) {
	baseDir := filepath.Dir(path)
	var cfg types.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data = interpolate(data, baseDir)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		data = interpolate(jsonc.ToJSON(data), baseDir)
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders. Values are
// escaped for a double-quoted string, which JSON and YAML share.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return quote(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}
		content, err := os.ReadFile(filePath)
		if err != nil {
			logging.Warn().Str("path", filePath).Msg("config file reference not found")
			return match
		}
		return quote(strings.TrimRight(string(content), "\r\n"))
	})
	return []byte(str)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// normalizeProviderConfig merges Options fields into direct fields.
func normalizeProviderConfig(config *types.Config) {
	for name, provider := range config.Provider {
		if provider.Options != nil {
			if provider.Options.APIKey != "" {
				provider.APIKey = provider.Options.APIKey
			}
			if provider.Options.BaseURL != "" {
				provider.BaseURL = provider.Options.BaseURL
			}
		}
		config.Provider[name] = provider
	}
}

// mergeConfig merges source config into target. Scalars and sections
// replace, maps merge per key, instructions accumulate.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if len(source.Instructions) > 0 {
		target.Instructions = append(target.Instructions, source.Instructions...)
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Agent != nil {
		target.Agent = source.Agent
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}
	if source.Compaction != nil {
		target.Compaction = source.Compaction
	}
	if source.Retry != nil {
		target.Retry = source.Retry
	}
	if source.Timeouts != nil {
		target.Timeouts = source.Timeouts
	}
	if source.Storage != nil {
		target.Storage = source.Storage
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("CODEAGENT_MODEL"); model != "" {
		config.Model = model
	}
	if smallModel := os.Getenv("CODEAGENT_SMALL_MODEL"); smallModel != "" {
		config.SmallModel = smallModel
	}

	if permJSON := os.Getenv("CODEAGENT_PERMISSION"); permJSON != "" {
		var perm types.PermissionConfig
		if err := json.Unmarshal([]byte(permJSON), &perm); err == nil {
			config.Permission = &perm
		} else {
			logging.Warn().Err(err).Msg("ignoring invalid CODEAGENT_PERMISSION")
		}
	}

	if steps := os.Getenv("CODEAGENT_MAX_STEPS"); steps != "" {
		if n, err := strconv.Atoi(steps); err == nil && n > 0 {
			if config.Agent == nil {
				config.Agent = &types.AgentConfig{}
			}
			config.Agent.MaxSteps = n
		}
	}

	if dir := os.Getenv("CODEAGENT_STORAGE_DIR"); dir != "" {
		config.Storage = &types.StorageConfig{Dir: dir}
	}
}

// Save writes the configuration to path. A .yaml/.yml path is written as
// YAML, anything else as indented JSON.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorageDir returns the directory sessions are persisted in.
func StorageDir(config *types.Config) string {
	if config != nil && config.Storage != nil && config.Storage.Dir != "" {
		return config.Storage.Dir
	}
	return GetPaths().StoragePath()
}
