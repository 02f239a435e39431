package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultCmdTimeout = 30 * time.Second
	maxCmdTimeout     = 5 * time.Minute
	defaultMaxOutput  = 100 << 10
)

// ShellExec runs model-requested commands through `sh -c` under a
// deny-pattern / allow-prefix policy.
type ShellExec struct {
	cfg ShellExecConfig
}

// ShellExecConfig configures the shell executor. The zero value is a
// disabled executor.
type ShellExecConfig struct {
	Enabled         bool
	WorkingDir      string
	AllowedPrefixes []string // empty = any command (denied patterns still apply)
	DeniedPatterns  []string
	DefaultTimeout  time.Duration
	MaxOutputBytes  int
}

// DefaultShellExecConfig returns a disabled executor carrying the stock
// denied patterns.
func DefaultShellExecConfig() ShellExecConfig {
	return ShellExecConfig{
		DeniedPatterns: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:",
		},
		DefaultTimeout: defaultCmdTimeout,
		MaxOutputBytes: defaultMaxOutput,
	}
}

// NewShellExec creates a shell executor, filling zero limits with
// defaults.
func NewShellExec(cfg ShellExecConfig) *ShellExec {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultCmdTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	return &ShellExec{cfg: cfg}
}

// Enabled reports whether shell execution is available.
func (s *ShellExec) Enabled() bool {
	return s.cfg.Enabled
}

// vet rejects commands the policy does not permit. Denied patterns are
// matched case-insensitively anywhere in the command; the allow list,
// when present, matches literal prefixes.
func (s *ShellExec) vet(command string) error {
	lower := strings.ToLower(command)
	for _, pat := range s.cfg.DeniedPatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return fmt.Errorf("command blocked by security policy: matches denied pattern %q", pat)
		}
	}
	if len(s.cfg.AllowedPrefixes) == 0 {
		return nil
	}
	for _, prefix := range s.cfg.AllowedPrefixes {
		if strings.HasPrefix(command, prefix) {
			return nil
		}
	}
	return fmt.Errorf("command not in allowlist")
}

// ExecResult is what the model gets back from run_command.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Exec runs a shell command, vetting it against the policy first. A
// timeoutSec of 0 uses the configured default; requests beyond five
// minutes are capped.
func (s *ShellExec) Exec(ctx context.Context, command string, timeoutSec int) (*ExecResult, error) {
	if !s.cfg.Enabled {
		return nil, fmt.Errorf("shell execution is disabled")
	}
	if err := s.vet(command); err != nil {
		return nil, err
	}

	timeout := s.cfg.DefaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > maxCmdTimeout {
		timeout = maxCmdTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.cfg.WorkingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	result := &ExecResult{
		Stdout:     clipOutput(stdout.String(), s.cfg.MaxOutputBytes),
		Stderr:     clipOutput(stderr.String(), s.cfg.MaxOutputBytes),
		DurationMs: time.Since(start).Milliseconds(),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.Error = "command timed out"
		result.ExitCode = -1
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = runErr.Error()
			result.ExitCode = -1
		}
	}
	return result, nil
}

// clipOutput bounds captured output, marking the cut.
func clipOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}

// SetShellExec registers the shell execution tool on the registry.
func (r *Registry) SetShellExec(s *ShellExec) {
	if s == nil || !s.Enabled() {
		return
	}

	r.Register(&Tool{
		Name:        "run_command",
		Description: "Run a shell command and return its stdout, stderr, and exit code as JSON. Commands run with a timeout.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300)",
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}
			result, err := s.Exec(ctx, command, intArg(args, "timeout_sec"))
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(result)
			if err != nil {
				return "", fmt.Errorf("marshal result: %w", err)
			}
			return string(out), nil
		},
	})
}
