package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"magpie/internal/llm"
	"magpie/internal/memory"
	"magpie/internal/tools"
)

// scriptedLLM returns canned responses in order and records every
// request it sees.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	requests  [][]llm.Message
	pingErr   error
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, messages)
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return s.pingErr }

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}, Done: true}
}

func toolResponse(name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: name, Arguments: args}}},
		},
		Done: true,
	}
}

func newTestLoop(t *testing.T, client llm.Client, registry *tools.Registry) *Loop {
	t.Helper()
	if registry == nil {
		registry = tools.NewEmptyRegistry()
	}
	mem, err := memory.Open(filepath.Join(t.TempDir(), "conv.db"), 0)
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return NewLoop(nil, client, mem, registry, nil, Config{Model: "test-model"})
}

func TestRun_TextAnswer(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{textResponse("four")}}
	loop := newTestLoop(t, client, nil)

	resp, err := loop.Run(context.Background(), &Request{Input: "what is 2+2?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Content != "four" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ToolRounds != 0 {
		t.Errorf("tool rounds = %d, want 0", resp.ToolRounds)
	}

	// First request carries system prompt then user input.
	req := client.requests[0]
	if req[0].Role != "system" {
		t.Errorf("first message role = %s, want system", req[0].Role)
	}
	if req[len(req)-1].Content != "what is 2+2?" {
		t.Errorf("last message = %q", req[len(req)-1].Content)
	}
}

func TestRun_ToolRound(t *testing.T) {
	registry := tools.NewEmptyRegistry()
	registry.Register(&tools.Tool{
		Name:        "lookup",
		Description: "looks things up",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("result for %v", args["q"]), nil
		},
	})
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse("lookup", map[string]any{"q": "gophers"}),
		textResponse("gophers are rodents"),
	}}
	loop := newTestLoop(t, client, registry)

	resp, err := loop.Run(context.Background(), &Request{Input: "tell me about gophers"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Content != "gophers are rodents" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ToolRounds != 1 {
		t.Errorf("tool rounds = %d, want 1", resp.ToolRounds)
	}

	// Second model call must include the tool result.
	second := client.requests[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != "result for gophers" {
		t.Errorf("tool message = %+v", last)
	}
}

func TestRun_ToolErrorFedBack(t *testing.T) {
	registry := tools.NewEmptyRegistry()
	registry.Register(&tools.Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("no such index")
		},
	})
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse("broken", nil),
		textResponse("the tool failed, sorry"),
	}}
	loop := newTestLoop(t, client, registry)

	resp, err := loop.Run(context.Background(), &Request{Input: "try it"})
	if err != nil {
		t.Fatalf("Run should not fail on tool errors: %v", err)
	}
	if resp.Content != "the tool failed, sorry" {
		t.Errorf("content = %q", resp.Content)
	}

	second := client.requests[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "no such index") {
		t.Errorf("tool error not fed back: %+v", last)
	}
}

func TestRun_UnknownToolFedBack(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse("imaginary_tool", nil),
		textResponse("done"),
	}}
	loop := newTestLoop(t, client, nil)

	if _, err := loop.Run(context.Background(), &Request{Input: "go"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	second := client.requests[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "imaginary_tool") {
		t.Errorf("unknown-tool message = %q", last.Content)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	registry := tools.NewEmptyRegistry()
	registry.Register(&tools.Tool{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	})
	// The model keeps asking for tools and never answers.
	var responses []*llm.ChatResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, toolResponse("noop", nil))
	}
	client := &scriptedLLM{responses: responses}
	mem, _ := memory.Open(filepath.Join(t.TempDir(), "conv.db"), 0)
	defer mem.Close()
	loop := NewLoop(nil, client, mem, registry, nil, Config{Model: "m", MaxIterations: 3})

	_, err := loop.Run(context.Background(), &Request{Input: "loop forever"})
	if err == nil || !strings.Contains(err.Error(), "3 tool rounds") {
		t.Errorf("err = %v, want tool round limit", err)
	}
}

func TestRun_HistoryPersists(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		textResponse("answer one"),
		textResponse("answer two"),
	}}
	loop := newTestLoop(t, client, nil)
	ctx := context.Background()

	if _, err := loop.Run(ctx, &Request{Input: "first", ConversationID: "c1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := loop.Run(ctx, &Request{Input: "second", ConversationID: "c1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The second call sees the first exchange in its history.
	second := client.requests[1]
	var sawFirst, sawAnswer bool
	for _, m := range second {
		if m.Content == "first" {
			sawFirst = true
		}
		if m.Content == "answer one" {
			sawAnswer = true
		}
	}
	if !sawFirst || !sawAnswer {
		t.Errorf("history missing from second request: first=%v answer=%v", sawFirst, sawAnswer)
	}
}

type stubSearcher struct {
	notes []SearchNote
	err   error
}

func (s stubSearcher) Search(ctx context.Context, query string, topK int) ([]SearchNote, error) {
	return s.notes, s.err
}

func TestRun_KnowledgeRecallInSystemPrompt(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{textResponse("ok")}}
	loop := NewLoop(nil, client, nil, tools.NewEmptyRegistry(), stubSearcher{
		notes: []SearchNote{{Content: "the deploy runs on Fridays", Source: "/w/deploy.md"}},
	}, Config{Model: "m"})

	if _, err := loop.Run(context.Background(), &Request{Input: "when do we deploy?"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	system := client.requests[0][0]
	if !strings.Contains(system.Content, "the deploy runs on Fridays") {
		t.Errorf("recalled note missing from system prompt: %q", system.Content)
	}
	if !strings.Contains(system.Content, "/w/deploy.md") {
		t.Errorf("note source missing from system prompt")
	}
}

func TestRun_RecallFailureIsNonFatal(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{textResponse("ok")}}
	loop := NewLoop(nil, client, nil, tools.NewEmptyRegistry(), stubSearcher{
		err: errors.New("kb offline"),
	}, Config{Model: "m"})

	if _, err := loop.Run(context.Background(), &Request{Input: "hello"}); err != nil {
		t.Errorf("Run should tolerate recall failure: %v", err)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	loop := newTestLoop(t, &scriptedLLM{}, nil)
	if _, err := loop.Run(context.Background(), &Request{Input: "   "}); err == nil {
		t.Fatal("expected error for empty input")
	}
}
