// Magpie is a local AI assistant for a developer workspace.
//
// It talks to a local Ollama endpoint, keeps a SQLite knowledge base
// with vector search, exposes file/shell/git tools to the model, and
// can bridge tools from external MCP servers. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	magpie chat              Start an interactive chat session
//	magpie ask <question>    Ask a single question
//	magpie learn <file.md>   Ingest one markdown file into the knowledge base
//	magpie learn-all         Scan the workspace and ingest all markdown notes
//	magpie init [dir]        Initialize a working directory with defaults
//	magpie version           Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"magpie/internal/agent"
	"magpie/internal/buildinfo"
	"magpie/internal/config"
	"magpie/internal/embeddings"
	"magpie/internal/instructions"
	"magpie/internal/knowledge"
	"magpie/internal/learn"
	"magpie/internal/llm"
	"magpie/internal/mcp"
	"magpie/internal/memory"
	"magpie/internal/tools"
)

// main constructs the OS-level environment and delegates to [run],
// keeping os.Exit and os.Args out of the application logic so the full
// lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible to
// call run concurrently from tests, and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: magpie ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "learn":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: magpie learn <file.md>")
		}
		return runLearn(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "learn-all":
		return runLearnAll(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Magpie - local workspace assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: magpie [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat             Start an interactive chat session")
	fmt.Fprintln(w, "  ask <question>   Ask a single question")
	fmt.Fprintln(w, "  learn <file.md>  Ingest one markdown file into the knowledge base")
	fmt.Fprintln(w, "  learn-all        Scan the workspace and ingest all markdown notes")
	fmt.Fprintln(w, "  init [dir]       Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runtime bundles everything a command needs after wiring.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	llm       llm.Client
	registry  *tools.Registry
	knowledge *knowledge.Store
	memory    *memory.Store
	mcpMgr    *mcp.Manager
	learner   *learn.Manager
	loop      *agent.Loop
}

// close shuts the runtime down in reverse construction order.
func (rt *runtime) close() {
	if rt.mcpMgr != nil {
		if err := rt.mcpMgr.Close(); err != nil {
			rt.logger.Warn("MCP shutdown", "error", err)
		}
	}
	if rt.memory != nil {
		rt.memory.Close()
	}
	if rt.knowledge != nil {
		rt.knowledge.Close()
	}
}

// buildRuntime wires the whole assistant from config: model client,
// embeddings, knowledge base, conversation memory, built-in tools, MCP
// bridges, learn manager, and the agent loop.
func buildRuntime(ctx context.Context, logw io.Writer, configPath string) (*runtime, error) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if parsed, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	logger := newLogger(logw, level)
	logger.Debug("config loaded", "path", cfgPath)

	rt := &runtime{cfg: cfg, logger: logger}
	rt.llm = llm.NewOllamaClient(cfg.Models.OllamaURL)

	var embedder knowledge.Embedder
	if cfg.Embeddings.Enabled {
		baseURL := cfg.Embeddings.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.OllamaURL
		}
		embedder = embeddings.New(embeddings.Config{BaseURL: baseURL, Model: cfg.Embeddings.Model})
	}

	rt.knowledge, err = knowledge.Open(cfg.KnowledgePath(), embedder, logger)
	if err != nil {
		return nil, err
	}

	rt.memory, err = memory.Open(filepath.Join(cfg.DataDir, "conversations.db"), 0)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.registry = tools.NewRegistry()
	if cfg.Workspace.Path != "" {
		rt.registry.SetFileTools(tools.NewFileTools(cfg.Workspace.Path, cfg.Workspace.ReadOnlyDirs))
		rt.registry.SetGitTools(tools.NewGitTools(cfg.Workspace.Path))
	}
	if cfg.ShellExec.Enabled {
		shellCfg := tools.DefaultShellExecConfig()
		shellCfg.Enabled = true
		shellCfg.WorkingDir = cfg.ShellExec.WorkingDir
		if shellCfg.WorkingDir == "" {
			shellCfg.WorkingDir = cfg.Workspace.Path
		}
		shellCfg.AllowedPrefixes = cfg.ShellExec.AllowedPrefixes
		shellCfg.DeniedPatterns = append(shellCfg.DeniedPatterns, cfg.ShellExec.DeniedPatterns...)
		if cfg.ShellExec.DefaultTimeoutSec > 0 {
			shellCfg.DefaultTimeout = time.Duration(cfg.ShellExec.DefaultTimeoutSec) * time.Second
		}
		rt.registry.SetShellExec(tools.NewShellExec(shellCfg))
	}

	var mcpOpts []mcp.ManagerOption
	if cfg.MCP.ToolTimeoutSec > 0 {
		mcpOpts = append(mcpOpts, mcp.WithToolTimeout(time.Duration(cfg.MCP.ToolTimeoutSec)*time.Second))
	}
	rt.mcpMgr = mcp.NewManager(logger, mcpOpts...)
	mcpServers := mcpServerConfigs(cfg)
	if len(mcpServers) > 0 {
		n := rt.mcpMgr.ConnectAll(ctx, mcpServers, rt.registry)
		logger.Info("MCP servers connected", "connected", n, "configured", len(mcpServers))
	}

	rt.learner = learn.NewManager(rt.knowledge, learn.Config{
		Root:          learnRoot(cfg),
		IncludeDirs:   cfg.AutoLearn.IncludeDirs,
		MaxFileSizeMB: cfg.AutoLearn.MaxFileSizeMB,
	}, learn.NewLogReporter(logger), learn.NewNotepad(cfg.NotepadPath()), logger)

	var systemPrompt string
	if guidance, err := instructions.NewLoader(cfg.InstructionsDir).Load(); err != nil {
		logger.Warn("loading instructions failed", "error", err)
	} else if guidance != "" {
		systemPrompt = agent.DefaultSystemPrompt + "\n\n" + guidance
	}

	rt.loop = agent.NewLoop(logger, rt.llm, rt.memory, rt.registry,
		agent.KnowledgeSearcher{Store: rt.knowledge},
		agent.Config{Model: cfg.Models.Default, SystemPrompt: systemPrompt})

	return rt, nil
}

// mcpServerConfigs converts enabled MCP server entries from the
// configuration into connection configs, flattening each env map into
// the KEY=VALUE form the subprocess environment needs.
func mcpServerConfigs(cfg *config.Config) []mcp.ServerConfig {
	var servers []mcp.ServerConfig
	for _, sc := range cfg.MCP.Servers {
		if !sc.Enabled {
			continue
		}
		servers = append(servers, mcp.ServerConfig{
			Name:         sc.Name,
			Transport:    sc.Transport,
			Command:      sc.Command,
			Args:         sc.Args,
			Env:          envPairs(sc.Env),
			URL:          sc.URL,
			Headers:      sc.Headers,
			IncludeTools: sc.IncludeTools,
			ExcludeTools: sc.ExcludeTools,
		})
	}
	return servers
}

// envPairs flattens an environment map into sorted KEY=VALUE pairs.
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

func learnRoot(cfg *config.Config) string {
	if cfg.AutoLearn.Root != "" {
		return cfg.AutoLearn.Root
	}
	if cfg.Workspace.Path != "" {
		return cfg.Workspace.Path
	}
	return "."
}

// runAsk answers a single question and exits.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	rt, err := buildRuntime(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	resp, err := rt.loop.Run(ctx, &agent.Request{
		Input:          strings.Join(args, " "),
		ConversationID: "cli-" + uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

// runChat is the interactive REPL. Slash commands are handled locally;
// everything else goes through the agent loop.
func runChat(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	rt, err := buildRuntime(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.llm.Ping(ctx); err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", rt.cfg.Models.OllamaURL, err)
	}

	if rt.cfg.AutoLearn.Enabled {
		if rt.learner.Start(ctx) {
			rt.logger.Info("auto-learn started", "root", learnRoot(rt.cfg))
		}
		defer func() {
			if err := rt.learner.Stop(); err != nil {
				rt.logger.Warn("auto-learn stop", "error", err)
			}
		}()
	}

	convID := uuid.NewString()
	fmt.Fprintln(stdout, "magpie ready. /help for commands, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := rt.handleSlash(ctx, stdout, convID, line)
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		resp, err := rt.loop.Run(ctx, &agent.Request{Input: line, ConversationID: convID})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, resp.Content)
	}
	return scanner.Err()
}

// handleSlash processes a chat slash command. Returns true when the
// session should end.
func (rt *runtime) handleSlash(ctx context.Context, stdout io.Writer, convID, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(stdout, "/learn <text>   remember a note")
		fmt.Fprintln(stdout, "/learn-all      ingest workspace markdown notes")
		fmt.Fprintln(stdout, "/tools          list available tools")
		fmt.Fprintln(stdout, "/clear          forget this conversation")
		fmt.Fprintln(stdout, "/quit           exit")
		return false, nil
	case "/learn":
		if strings.TrimSpace(rest) == "" {
			return false, fmt.Errorf("usage: /learn <text>")
		}
		status, err := rt.learner.LearnText(ctx, rest, "chat")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(stdout, "noted (%s)\n", status)
		return false, nil
	case "/learn-all":
		if !rt.learner.Start(ctx) {
			return false, fmt.Errorf("a learn run is already in progress")
		}
		fmt.Fprintln(stdout, "learning in the background")
		return false, nil
	case "/tools":
		for _, name := range rt.registry.Names() {
			fmt.Fprintf(stdout, "  %s\n", name)
		}
		return false, nil
	case "/clear":
		if err := rt.memory.Clear(ctx, convID); err != nil {
			return false, err
		}
		fmt.Fprintln(stdout, "conversation cleared")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
}

// runLearn ingests a single markdown file.
func runLearn(ctx context.Context, stdout, stderr io.Writer, configPath, filePath string) error {
	rt, err := buildRuntime(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	status, err := rt.learner.ProcessFile(ctx, abs)
	if err != nil {
		return fmt.Errorf("learn %s: %w", filePath, err)
	}
	fmt.Fprintf(stdout, "%s: %s\n", filePath, status)
	return nil
}

// runLearnAll scans the workspace and ingests every markdown note,
// reporting progress to stdout.
func runLearnAll(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	rt, err := buildRuntime(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	root := learnRoot(rt.cfg)
	files, err := learn.DiscoverMarkdownFiles(root, rt.cfg.AutoLearn.MaxFileSizeMB, rt.cfg.AutoLearn.IncludeDirs)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(stdout, "no markdown files found under %s\n", root)
		return nil
	}

	learned, errs := 0, 0
	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		status, err := rt.learner.ProcessFile(ctx, path)
		if err != nil {
			errs++
			fmt.Fprintf(stdout, "[%d/%d] %s: error: %v\n", i+1, len(files), path, err)
			continue
		}
		if status == learn.StatusLearned {
			learned++
		}
		fmt.Fprintf(stdout, "[%d/%d] %s: %s\n", i+1, len(files), path, status)
	}
	fmt.Fprintf(stdout, "done: %d learned, %d errors, %d files\n", learned, errs, len(files))
	return nil
}

// runInit writes a starter config and data directory.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", cfgPath)
	return nil
}

const defaultConfigYAML = `# Magpie configuration
models:
  default: qwen3:4b
  ollama_url: http://localhost:11434

embeddings:
  enabled: true
  model: nomic-embed-text

data_dir: data
log_level: info

workspace:
  path: .
  read_only_dirs: []

shell_exec:
  enabled: false

auto_learn:
  enabled: false
  include_dirs: [".", "docs"]
  max_file_size_mb: 1

mcp:
  tool_timeout_sec: 120
  servers: []
  # - name: knowledge-base
  #   enabled: true
  #   transport: stdio
  #   command: kb-server
  #   args: ["--stdio"]
`

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
