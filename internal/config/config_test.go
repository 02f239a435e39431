package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
models:
  default: qwen3:8b
  ollama_url: http://localhost:11434
auto_learn:
  enabled: true
  root: /home/user/notes
  max_file_size_mb: 2
mcp:
  servers:
    - name: files
      enabled: true
      transport: stdio
      command: mcp-files
      args: ["--root", "/tmp"]
    - name: remote
      enabled: false
      transport: http
      url: http://localhost:9000/mcp
data_dir: /var/lib/magpie
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Models.Default != "qwen3:8b" {
		t.Errorf("Models.Default = %q", cfg.Models.Default)
	}
	if !cfg.AutoLearn.Enabled {
		t.Error("AutoLearn.Enabled = false, want true")
	}
	if cfg.AutoLearn.MaxFileSizeMB != 2 {
		t.Errorf("MaxFileSizeMB = %v, want 2", cfg.AutoLearn.MaxFileSizeMB)
	}
	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("got %d MCP servers, want 2", len(cfg.MCP.Servers))
	}
	if cfg.MCP.Servers[0].Name != "files" || !cfg.MCP.Servers[0].Enabled {
		t.Errorf("servers[0] = %+v", cfg.MCP.Servers[0])
	}
	if cfg.MCP.Servers[1].Enabled {
		t.Error("servers[1].Enabled = true, want false")
	}
	if cfg.MCP.ToolTimeoutSec != 120 {
		t.Errorf("ToolTimeoutSec = %d, want default 120", cfg.MCP.ToolTimeoutSec)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MAGPIE_TEST_TOKEN", "sekrit")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mcp:
  servers:
    - name: remote
      enabled: true
      transport: http
      url: http://localhost:9000/mcp
      headers:
        Authorization: "Bearer $MAGPIE_TEST_TOKEN"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.MCP.Servers[0].Headers["Authorization"]; got != "Bearer sekrit" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestDefaultPaths(t *testing.T) {
	cfg := Default()
	if got := cfg.KnowledgePath(); got != filepath.Join("data", "knowledge.db") {
		t.Errorf("KnowledgePath = %q", got)
	}
	if got := cfg.NotepadPath(); got != filepath.Join("data", "notepad.md") {
		t.Errorf("NotepadPath = %q", got)
	}

	cfg.Knowledge.Path = "/tmp/kb.db"
	if got := cfg.KnowledgePath(); got != "/tmp/kb.db" {
		t.Errorf("explicit KnowledgePath = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" debug ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindConfig_Explicit(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing explicit config")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != path {
		t.Errorf("FindConfig = %q, want %q", got, path)
	}
}
