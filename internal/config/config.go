// Package config handles Magpie configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/magpie/config.yaml, /etc/magpie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "magpie", "config.yaml"))
	}

	paths = append(paths, "/etc/magpie/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Magpie configuration.
type Config struct {
	Models     ModelsConfig     `yaml:"models"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	AutoLearn  AutoLearnConfig  `yaml:"auto_learn"`
	MCP        MCPConfig        `yaml:"mcp"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	ShellExec  ShellExecConfig  `yaml:"shell_exec"`
	// InstructionsDir holds markdown guidance files appended to the
	// system prompt, loaded in name order.
	InstructionsDir string `yaml:"instructions_dir"`
	DataDir         string `yaml:"data_dir"`
	LogLevel        string `yaml:"log_level"`
}

// ModelsConfig defines LLM settings.
type ModelsConfig struct {
	Default   string `yaml:"default"`
	OllamaURL string `yaml:"ollama_url"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// KnowledgeConfig defines the knowledge base store.
type KnowledgeConfig struct {
	// Path is the SQLite database file. Defaults to <data_dir>/knowledge.db.
	Path string `yaml:"path"`
}

// AutoLearnConfig defines the background ingestion pipeline.
type AutoLearnConfig struct {
	Enabled bool `yaml:"enabled"`
	// Root is the directory scanned for markdown notes.
	Root string `yaml:"root"`
	// IncludeDirs are the entries scanned under Root. "." means direct
	// children of Root only; any other entry is walked recursively.
	// Defaults to [".", "docs"].
	IncludeDirs []string `yaml:"include_dirs"`
	// MaxFileSizeMB caps the size of ingested files. Defaults to 1.
	MaxFileSizeMB float64 `yaml:"max_file_size_mb"`
	// NotepadPath is the audit log file. Defaults to <data_dir>/notepad.md.
	NotepadPath string `yaml:"notepad_path"`
}

// MCPConfig lists external MCP servers.
type MCPConfig struct {
	// ToolTimeoutSec bounds a single MCP tool call. Tool calls may shell
	// out or hit network services, so the default is generous (120).
	ToolTimeoutSec int               `yaml:"tool_timeout_sec"`
	Servers        []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig defines a single MCP server connection.
type MCPServerConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
	// Transport is "stdio" or "http".
	Transport string `yaml:"transport"`
	// Command and Args launch the subprocess for stdio transports.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Env is extra environment for the subprocess. The child inherits only
	// an allow-listed subset of the parent environment; everything else
	// must be listed here explicitly.
	Env map[string]string `yaml:"env"`
	// URL and Headers configure http transports.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	// IncludeTools/ExcludeTools filter which discovered tools are bridged.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file and git operations.
	// If empty, file tools are disabled.
	Path string `yaml:"path"`
	// ReadOnlyDirs are workspace-relative directories where write_file
	// and edit_file are refused.
	ReadOnlyDirs []string `yaml:"read_only_dirs"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// AllowedPrefixes limits commands to those starting with these prefixes.
	// Empty means all commands are allowed (subject to denied patterns).
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		AutoLearn: AutoLearnConfig{
			IncludeDirs:   []string{".", "docs"},
			MaxFileSizeMB: 1,
		},
		MCP: MCPConfig{
			ToolTimeoutSec: 120,
		},
		DataDir: "data",
	}
}

// KnowledgePath returns the knowledge base path, applying the data_dir default.
func (c *Config) KnowledgePath() string {
	if c.Knowledge.Path != "" {
		return c.Knowledge.Path
	}
	return filepath.Join(c.DataDir, "knowledge.db")
}

// NotepadPath returns the auto-learn audit log path, applying the data_dir default.
func (c *Config) NotepadPath() string {
	if c.AutoLearn.NotepadPath != "" {
		return c.AutoLearn.NotepadPath
	}
	return filepath.Join(c.DataDir, "notepad.md")
}
