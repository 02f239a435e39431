// Package agent implements the conversation loop: assemble context,
// call the model, execute requested tools, repeat until the model
// answers in text.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"magpie/internal/llm"
	"magpie/internal/memory"
	"magpie/internal/tools"
)

// DefaultMaxIterations bounds tool-call rounds in a single request. A
// model stuck in a tool loop gets cut off, not retried forever.
const DefaultMaxIterations = 10

// Searcher retrieves knowledge-base notes relevant to a query.
// *knowledge.Store satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchNote, error)
}

// SearchNote is one retrieved note.
type SearchNote struct {
	Content    string
	Source     string
	Similarity float64
}

// Request is one user turn.
type Request struct {
	Input          string
	Model          string
	ConversationID string
}

// Response is the agent's answer for a turn.
type Response struct {
	Content    string
	Model      string
	ToolRounds int
}

// Config for the agent loop.
type Config struct {
	Model         string
	SystemPrompt  string
	MaxIterations int
	RecallTopK    int
}

// Loop drives conversations.
type Loop struct {
	logger    *slog.Logger
	llm       llm.Client
	memory    *memory.Store
	registry  *tools.Registry
	knowledge Searcher
	cfg       Config
}

// NewLoop creates the agent loop. knowledge may be nil; recall is then
// skipped.
func NewLoop(logger *slog.Logger, client llm.Client, mem *memory.Store, registry *tools.Registry, knowledge Searcher, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 3
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Loop{
		logger:    logger,
		llm:       client,
		memory:    mem,
		registry:  registry,
		knowledge: knowledge,
		cfg:       cfg,
	}
}

// DefaultSystemPrompt is the base prompt used when no instructions
// are configured.
const DefaultSystemPrompt = "You are magpie, a local assistant with access to the user's workspace. " +
	"Use the available tools to read files, run commands, and inspect git state when the question calls for it. " +
	"Be concise."

// Run handles one user turn: recall related notes, call the model, and
// execute any tool calls it makes until it produces a text answer.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("empty input")
	}
	convID := req.ConversationID
	if convID == "" {
		convID = "default"
	}
	model := req.Model
	if model == "" {
		model = l.cfg.Model
	}

	l.logger.Debug("agent turn started", "conversation", convID, "model", model)

	messages := []llm.Message{{Role: "system", Content: l.systemPrompt(ctx, req.Input)}}

	if l.memory != nil {
		history, err := l.memory.Window(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		messages = append(messages, history...)
	}

	userMsg := llm.Message{Role: "user", Content: req.Input}
	messages = append(messages, userMsg)
	l.remember(ctx, convID, userMsg)

	toolDefs := l.registry.List()

	rounds := 0
	for {
		resp, err := l.llm.Chat(ctx, model, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		if !resp.HasToolCalls() {
			answer := resp.Message
			l.remember(ctx, convID, answer)
			l.logger.Debug("agent turn finished", "conversation", convID, "tool_rounds", rounds)
			return &Response{Content: answer.Content, Model: model, ToolRounds: rounds}, nil
		}

		rounds++
		if rounds > l.cfg.MaxIterations {
			return nil, fmt.Errorf("model exceeded %d tool rounds without answering", l.cfg.MaxIterations)
		}

		messages = append(messages, resp.Message)
		l.remember(ctx, convID, resp.Message)

		for _, call := range resp.Message.ToolCalls {
			result := l.executeTool(ctx, call)
			toolMsg := llm.Message{Role: "tool", Content: result}
			messages = append(messages, toolMsg)
			l.remember(ctx, convID, toolMsg)
		}
	}
}

// executeTool runs one tool call. Failures go back to the model as
// text so it can correct itself instead of aborting the turn.
func (l *Loop) executeTool(ctx context.Context, call llm.ToolCall) string {
	name := call.Function.Name
	l.logger.Info("executing tool", "tool", name)

	argsJSON := ""
	if len(call.Function.Arguments) > 0 {
		encoded, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			return fmt.Sprintf("Error executing %s: bad arguments: %v", name, err)
		}
		argsJSON = string(encoded)
	}

	result, err := l.registry.Execute(ctx, name, argsJSON)
	if err != nil {
		l.logger.Warn("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return result
}

// systemPrompt combines the base prompt with notes recalled for this
// input.
func (l *Loop) systemPrompt(ctx context.Context, input string) string {
	prompt := l.cfg.SystemPrompt
	if l.knowledge == nil {
		return prompt
	}

	notes, err := l.knowledge.Search(ctx, input, l.cfg.RecallTopK)
	if err != nil {
		l.logger.Debug("knowledge recall failed", "error", err)
		return prompt
	}
	if len(notes) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRelevant notes from the knowledge base:\n")
	for _, n := range notes {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(n.Content))
		if n.Source != "" {
			fmt.Fprintf(&b, " (from %s)", n.Source)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// remember appends to conversation memory; persistence failures are
// logged, not fatal to the turn.
func (l *Loop) remember(ctx context.Context, convID string, msg llm.Message) {
	if l.memory == nil {
		return
	}
	if err := l.memory.Append(ctx, convID, msg); err != nil {
		l.logger.Warn("failed to persist message", "conversation", convID, "error", err)
	}
}
