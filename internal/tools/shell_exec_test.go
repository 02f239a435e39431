package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellExec_Disabled(t *testing.T) {
	s := NewShellExec(DefaultShellExecConfig())
	if s.Enabled() {
		t.Error("shell exec should be disabled by default")
	}

	_, err := s.Exec(context.Background(), "echo hi", 0)
	if err == nil {
		t.Fatal("expected error when disabled")
	}
}

func TestShellExec_Basic(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := NewShellExec(cfg)

	result, err := s.Exec(context.Background(), "echo hello", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestShellExec_NonZeroExit(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := NewShellExec(cfg)

	result, err := s.Exec(context.Background(), "exit 3", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestShellExec_DeniedPattern(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := NewShellExec(cfg)

	_, err := s.Exec(context.Background(), "rm -rf / --no-preserve-root", 0)
	if err == nil {
		t.Fatal("expected denied pattern to block command")
	}
	if !strings.Contains(err.Error(), "security policy") {
		t.Errorf("error = %v, want security policy mention", err)
	}
}

func TestShellExec_DeniedPatternIsCaseInsensitive(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	cfg.DeniedPatterns = append(cfg.DeniedPatterns, "curl")
	s := NewShellExec(cfg)

	if _, err := s.Exec(context.Background(), "CURL http://example.com", 0); err == nil {
		t.Error("expected uppercased denied pattern to block command")
	}
}

func TestShellExec_ReportsDuration(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := NewShellExec(cfg)

	result, err := s.Exec(context.Background(), "sleep 0.05", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.DurationMs < 40 {
		t.Errorf("duration = %dms, want at least 40ms", result.DurationMs)
	}
}

func TestShellExec_Allowlist(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	cfg.AllowedPrefixes = []string{"echo", "ls"}
	s := NewShellExec(cfg)

	if _, err := s.Exec(context.Background(), "echo ok", 0); err != nil {
		t.Errorf("allowlisted command failed: %v", err)
	}
	if _, err := s.Exec(context.Background(), "cat /etc/hosts", 0); err == nil {
		t.Error("expected non-allowlisted command to fail")
	}
}

func TestShellExec_Timeout(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	cfg.DefaultTimeout = 200 * time.Millisecond
	s := NewShellExec(cfg)

	result, err := s.Exec(context.Background(), "sleep 5", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut to be set")
	}
}

func TestShellExec_OutputTruncation(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	cfg.MaxOutputBytes = 32
	s := NewShellExec(cfg)

	result, err := s.Exec(context.Background(), "yes | head -100", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(result.Stdout, "truncated") {
		t.Errorf("stdout = %q, want truncation marker", result.Stdout)
	}
}

func TestSetShellExec_RegistersTool(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true

	reg := NewEmptyRegistry()
	reg.SetShellExec(NewShellExec(cfg))

	if reg.Get("run_command") == nil {
		t.Fatal("expected run_command in registry")
	}

	out, err := reg.Execute(context.Background(), "run_command", `{"command":"echo wired"}`)
	if err != nil {
		t.Fatalf("run_command: %v", err)
	}
	if !strings.Contains(out, "wired") {
		t.Errorf("output = %q, want wired", out)
	}

	// Disabled executor registers nothing.
	empty := NewEmptyRegistry()
	empty.SetShellExec(NewShellExec(DefaultShellExecConfig()))
	if empty.Get("run_command") != nil {
		t.Error("disabled shell exec should not register run_command")
	}
}
