package mcp

import (
	"testing"
)

func TestToolName(t *testing.T) {
	tests := []struct {
		server string
		tool   string
		want   string
	}{
		{"knowledge-base", "search", "mcp_knowledge_base_search"},
		{"github", "create_issue", "mcp_github_create_issue"},
		{"My Server", "Do Thing", "mcp_my_server_do_thing"},
		{"test", "UPPERCASE", "mcp_test_uppercase"},
		{"a--b", "c--d", "mcp_a_b_c_d"},
		{"special!@#", "chars$%^", "mcp_special_chars"},
	}

	for _, tt := range tests {
		t.Run(tt.server+"/"+tt.tool, func(t *testing.T) {
			got := ToolName(tt.server, tt.tool)
			if got != tt.want {
				t.Errorf("ToolName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"Hello-World", "hello_world"},
		{"a--b", "a_b"},
		{"_leading_", "leading"},
		{"special!chars", "special_chars"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitize(tt.input)
			if got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeSchema(t *testing.T) {
	t.Run("nil schema gets object default", func(t *testing.T) {
		got := normalizeSchema(nil)
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
		if got["properties"] == nil {
			t.Error("properties missing")
		}
	})

	t.Run("missing type is filled in", func(t *testing.T) {
		got := normalizeSchema(map[string]any{
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
		})
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
		if got["properties"] == nil {
			t.Error("properties dropped during normalization")
		}
	})

	t.Run("complete schema passes through unchanged", func(t *testing.T) {
		in := map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
			"required":   []string{"q"},
		}
		got := normalizeSchema(in)
		if len(got) != 3 {
			t.Errorf("schema keys = %d, want 3", len(got))
		}
	})
}

func TestBuildBindings_All(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "search", Description: "Search", InputSchema: map[string]any{"type": "object"}},
		{Name: "fetch", Description: "Fetch", InputSchema: nil},
	}

	bindings := buildBindings("kb", defs, nil, nil)
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}

	if bindings[0].RegisteredName != "mcp_kb_search" {
		t.Errorf("RegisteredName = %q", bindings[0].RegisteredName)
	}
	if bindings[0].Server != "kb" || bindings[0].RemoteName != "search" {
		t.Errorf("binding = %+v", bindings[0])
	}

	// Nil schemas are normalized.
	if bindings[1].InputSchema["type"] != "object" {
		t.Errorf("fetch schema = %v, want normalized object", bindings[1].InputSchema)
	}
}

func TestBuildBindings_IncludeFilter(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "search"},
		{Name: "fetch"},
		{Name: "delete"},
	}

	bindings := buildBindings("kb", defs, []string{"search", "fetch"}, nil)
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}
	for _, b := range bindings {
		if b.RemoteName == "delete" {
			t.Error("delete should have been filtered out")
		}
	}
}

func TestBuildBindings_ExcludeFilter(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "search"},
		{Name: "fetch"},
		{Name: "delete"},
	}

	bindings := buildBindings("kb", defs, nil, []string{"delete"})
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}
	for _, b := range bindings {
		if b.RemoteName == "delete" {
			t.Error("delete should have been excluded")
		}
	}
}

func TestBuildBindings_IncludeWinsOverExclude(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "search"},
		{Name: "fetch"},
	}

	// When include is set, exclude is ignored.
	bindings := buildBindings("kb", defs, []string{"search"}, []string{"search"})
	if len(bindings) != 1 || bindings[0].RemoteName != "search" {
		t.Errorf("bindings = %+v, want only search", bindings)
	}
}
