package learn

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverMarkdownFiles finds markdown files under root. The "." entry
// in includeDirs covers direct children of root only; every other entry
// is walked recursively. Files larger than maxSizeMB are skipped, as
// are files that cannot be stat'd — a broken file never aborts a scan.
// Returned paths are absolute.
func DiscoverMarkdownFiles(root string, maxSizeMB float64, includeDirs []string) ([]string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if info, err := os.Stat(rootAbs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	if len(includeDirs) == 0 {
		includeDirs = []string{".", "docs"}
	}

	maxBytes := int64(maxSizeMB * 1024 * 1024)
	seen := make(map[string]bool)
	var files []string

	add := func(path string, info fs.FileInfo) {
		if !isMarkdown(path) {
			return
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			return
		}
		if seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, dir := range includeDirs {
		if dir == "." {
			entries, err := os.ReadDir(rootAbs)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				add(filepath.Join(rootAbs, entry.Name()), info)
			}
			continue
		}

		base := filepath.Join(rootAbs, dir)
		_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Missing or unreadable subtree: skip, keep scanning.
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			add(path, info)
			return nil
		})
	}

	return files, nil
}

// isMarkdown matches .md and .markdown case-insensitively.
func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
