package learn

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// noInsightsSentinel is returned when a document yields nothing. The
// caller always gets at least one entry.
const noInsightsSentinel = "No specific insights extracted"

// ExtractInsights pulls a flat list of notable structures out of a
// markdown document: headings, fenced code blocks, bullet items (as one
// aggregate count), strongly emphasized spans, and links. Category
// order is fixed regardless of where the elements appear in the
// document.
func ExtractInsights(markdown string) []string {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var headers, emphasized, links []string
	codeBlocks := 0
	var codeLines []int
	listItems := 0

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if txt := nodeText(node, source); txt != "" {
				headers = append(headers, txt)
			}
		case *ast.FencedCodeBlock:
			codeBlocks++
			codeLines = append(codeLines, node.Lines().Len())
		case *ast.List:
			if !node.IsOrdered() {
				for c := node.FirstChild(); c != nil; c = c.NextSibling() {
					listItems++
				}
			}
		case *ast.Emphasis:
			if node.Level == 2 {
				if txt := nodeText(node, source); txt != "" {
					emphasized = append(emphasized, txt)
				}
			}
		case *ast.Link:
			txt := nodeText(node, source)
			links = append(links, fmt.Sprintf("%s -> %s", txt, string(node.Destination)))
		}
		return ast.WalkContinue, nil
	})

	var insights []string
	for _, h := range headers {
		insights = append(insights, "Header: "+h)
	}
	for i := 0; i < codeBlocks; i++ {
		insights = append(insights, fmt.Sprintf("Code Block %d: %d lines", i+1, codeLines[i]))
	}
	if listItems > 0 {
		insights = append(insights, fmt.Sprintf("List Items: %d items", listItems))
	}
	for _, e := range emphasized {
		insights = append(insights, "Emphasized: "+e)
	}
	for _, l := range links {
		insights = append(insights, "Link: "+l)
	}

	if len(insights) == 0 {
		return []string{noInsightsSentinel}
	}
	return insights
}

// nodeText collects the plain text content of a node and its children.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
