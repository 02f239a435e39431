package learn

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Notepad appends an informal Markdown audit trail of learned files.
// The format is for humans reading the notepad, not for parsing.
type Notepad struct {
	path string
}

// NewNotepad creates a notepad writing to the given file. An empty path
// disables the notepad.
func NewNotepad(path string) *Notepad {
	return &Notepad{path: path}
}

// Enabled reports whether the notepad has a destination.
func (n *Notepad) Enabled() bool {
	return n.path != ""
}

// Append writes one audit line. Parent directories are created on
// demand.
func (n *Notepad) Append(path, hash, status string) error {
	if n.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(n.path), 0755); err != nil {
		return fmt.Errorf("create notepad directory: %w", err)
	}

	f, err := os.OpenFile(n.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open notepad: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("- %s learned `%s` (hash %s, %s)\n",
		time.Now().Format(time.RFC3339), path, hash, status)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append to notepad: %w", err)
	}
	return nil
}
