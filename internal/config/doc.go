// Package config provides configuration loading, merging, and path management.
//
// # Configuration Loading
//
// Load searches for configuration in several places and merges what it
// finds in priority order:
//
//  1. Global config ($XDG_CONFIG_HOME/codeagent/)
//  2. Project config (<dir>/codeagent.* and <dir>/.codeagent/codeagent.*)
//  3. CODEAGENT_CONFIG file
//  4. CODEAGENT_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// In each directory the files codeagent.yaml, codeagent.yml, codeagent.json
// and codeagent.jsonc are read in that order. Later sources override earlier
// ones: maps such as provider and mcp merge per key, sections such as agent
// and permission are replaced whole, instructions accumulate.
//
// # Supported Formats
//
//   - codeagent.json and codeagent.jsonc: JSON, comments stripped with tidwall/jsonc
//   - codeagent.yaml and codeagent.yml: YAML, parsed with gopkg.in/yaml.v3
//
// # Variable Interpolation
//
// String values support two placeholders:
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, relative to the config file
//
// Expanded values are escaped, so a placeholder must sit inside a quoted
// string.
//
// # Environment Variables
//
//   - CODEAGENT_MODEL, CODEAGENT_SMALL_MODEL: model selection
//   - CODEAGENT_PERMISSION: permission section as JSON
//   - CODEAGENT_MAX_STEPS: model calls per turn
//   - CODEAGENT_STORAGE_DIR: session storage directory
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider keys when not configured
//
// # Paths
//
// GetPaths returns the XDG directories; sessions live under
// Paths.StoragePath unless storage.dir is configured.
//
// # Example
//
//	# .codeagent/codeagent.yaml
//	model: anthropic/claude-sonnet-4-20250514
//	provider:
//	  anthropic:
//	    apiKey: "{env:MY_ANTHROPIC_KEY}"
//	permission:
//	  default: ask
//	  rules:
//	    - permission: bash
//	      pattern: "go test *"
//	      action: allow
//	    - permission: edit
//	      pattern: "vendor/**"
//	      action: deny
//	compaction:
//	  threshold: 120000
//	  keepRecent: 8
package config
