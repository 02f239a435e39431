package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Binding records the mapping from a registered tool name back to the
// MCP server and remote tool it proxies. All bridged tools dispatch
// through Manager.ExecuteTool using this record, so two servers that
// expose the same remote tool name register distinct, independently
// callable entries.
type Binding struct {
	// RegisteredName is the namespaced name visible to the model,
	// e.g. "mcp_github_create_issue".
	RegisteredName string

	// Server is the configured MCP server name.
	Server string

	// RemoteName is the tool name as the server knows it.
	RemoteName string

	// Description is the tool description from tools/list.
	Description string

	// InputSchema is the normalized JSON Schema for the tool's arguments.
	InputSchema map[string]any
}

// buildBindings converts discovered tool definitions into bindings,
// applying include/exclude filters against the remote tool names:
//   - If include is non-empty, only tools whose remote names appear in it survive.
//   - Otherwise, tools whose remote names appear in exclude are dropped.
func buildBindings(serverName string, defs []ToolDefinition, include, exclude []string) []Binding {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	var bindings []Binding
	for _, td := range defs {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		bindings = append(bindings, Binding{
			RegisteredName: ToolName(serverName, td.Name),
			Server:         serverName,
			RemoteName:     td.Name,
			Description:    td.Description,
			InputSchema:    normalizeSchema(td.InputSchema),
		})
	}
	return bindings
}

// ToolName generates a namespaced registry tool name from an MCP server
// name and tool name. Both components are sanitized to contain only
// lowercase alphanumeric characters and underscores.
func ToolName(serverName, mcpToolName string) string {
	server := sanitize(serverName)
	tool := sanitize(mcpToolName)
	return fmt.Sprintf("mcp_%s_%s", server, tool)
}

// normalizeSchema ensures an MCP inputSchema is usable as function-call
// parameters. Servers may omit the schema entirely or leave out "type";
// the model API requires an object schema.
func normalizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	if _, ok := schema["type"]; !ok {
		out := make(map[string]any, len(schema)+1)
		for k, v := range schema {
			out[k] = v
		}
		out["type"] = "object"
		return out
	}
	return schema
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	// Collapse consecutive underscores.
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
