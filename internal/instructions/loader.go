// Package instructions loads user-written guidance documents that are
// appended to the agent's system prompt.
package instructions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader reads instruction files from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader for dir. An empty dir disables
// instructions.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads every .md file in the directory, in name order, and
// returns their combined content. A missing directory is not an error;
// the agent simply runs without extra guidance.
func (l *Loader) Load() (string, error) {
	if l.dir == "" {
		return "", nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read instructions dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var parts []string
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(l.dir, f))
		if err != nil {
			return "", fmt.Errorf("read instruction %s: %w", f, err)
		}
		if text := strings.TrimSpace(string(content)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// Names lists the instruction files that would be loaded.
func (l *Loader) Names() ([]string, error) {
	if l.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	sort.Strings(names)
	return names, nil
}
