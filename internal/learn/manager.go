package learn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// File outcome statuses. Soft skips are successes from the run's point
// of view; only storage failures and caller misuse count as errors.
const (
	StatusLearned       = "learned"
	StatusEmpty         = "empty"
	StatusDuplicate     = "duplicate_content"
	StatusHashFailed    = "hash_computation_failed"
	StatusStorageFailed = "storage_failed"
)

// stopWait bounds how long Stop waits for the worker to notice the
// cleared running flag. The worker is never force-killed: an in-flight
// file finishes writing.
var stopWait = 5 * time.Second

// Store is where learned notes land.
type Store interface {
	Add(ctx context.Context, content string, meta map[string]any) error
}

// Config controls a learn run.
type Config struct {
	// Root is the directory scanned for markdown files.
	Root string

	// IncludeDirs lists subdirectories to scan; "." means direct
	// children of Root only. Defaults to [".", "docs"].
	IncludeDirs []string

	// MaxFileSizeMB caps per-file size; larger files are skipped
	// during discovery. Defaults to 1.
	MaxFileSizeMB float64
}

// Manager runs background ingestion of workspace notes. One worker
// goroutine per run; a second Start while running is rejected.
type Manager struct {
	store    Store
	reporter Reporter
	notepad  *Notepad
	logger   *slog.Logger
	cfg      Config

	mu              sync.Mutex
	running         bool
	done            chan struct{}
	processedHashes map[string]bool
	processed       int
	errors          int
}

// NewManager creates a learn manager. A nil reporter gets a NopReporter,
// a nil notepad disables the audit trail.
func NewManager(store Store, cfg Config, reporter Reporter, notepad *Notepad, logger *slog.Logger) *Manager {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if notepad == nil {
		notepad = NewNotepad("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 1
	}
	if len(cfg.IncludeDirs) == 0 {
		cfg.IncludeDirs = []string{".", "docs"}
	}
	return &Manager{
		store:    store,
		reporter: reporter,
		notepad:  notepad,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start begins a background learn run. Returns false if a run is
// already in progress, or if a worker from a run stopped past its
// deadline has not yet exited; the existing run is untouched.
func (m *Manager) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return false
	}
	if m.done != nil {
		select {
		case <-m.done:
		default:
			// A previous worker outlived its Stop and is still mid-file.
			// Letting a new run start would share its hash set and
			// counters with the straggler.
			m.mu.Unlock()
			return false
		}
	}
	m.running = true
	m.done = make(chan struct{})
	m.processedHashes = make(map[string]bool)
	m.processed = 0
	m.errors = 0
	done := m.done
	m.mu.Unlock()

	runID := uuid.NewString()
	m.logger.Info("learn run starting", "run_id", runID, "root", m.cfg.Root)

	go func() {
		defer close(done)
		m.run(ctx, runID)
	}()
	return true
}

// Stop clears the running flag and waits up to 5 seconds for the
// worker to finish its current file. A timeout is reported but the
// worker is left to complete; it exits at the next file boundary.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(stopWait):
		return fmt.Errorf("learn worker did not stop within %s", stopWait)
	}
}

// IsRunning reports whether a run is in progress.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns the processed and error counts of the current or most
// recent run.
func (m *Manager) Stats() (processed, errors int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed, m.errors
}

// run is the worker body. Cancellation is cooperative at file
// boundaries: the running flag and ctx are checked between files, never
// mid-file.
func (m *Manager) run(ctx context.Context, runID string) {
	defer func() {
		m.mu.Lock()
		m.running = false
		processed, errs := m.processed, m.errors
		m.mu.Unlock()
		m.safeReport(func() { m.reporter.Complete(processed, errs) })
		m.logger.Info("learn run finished", "run_id", runID, "processed", processed, "errors", errs)
	}()

	files, err := DiscoverMarkdownFiles(m.cfg.Root, m.cfg.MaxFileSizeMB, m.cfg.IncludeDirs)
	if err != nil {
		m.logger.Warn("learn discovery failed", "run_id", runID, "error", err)
		return
	}
	if len(files) == 0 {
		m.logger.Info("no markdown files to learn", "run_id", runID)
		return
	}

	for i, path := range files {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if !running {
			return
		}

		m.safeReport(func() { m.reporter.FileStart(path) })

		status, err := m.processOne(ctx, path)

		m.mu.Lock()
		if err != nil {
			m.errors++
		} else if status == StatusLearned {
			m.processed++
		}
		m.mu.Unlock()

		if err != nil {
			m.safeReport(func() { m.reporter.Error(path, err) })
		} else {
			m.safeReport(func() { m.reporter.FileComplete(path, status) })
		}
		m.safeReport(func() { m.reporter.Progress(i+1, len(files)) })
	}
}

// processOne wraps ProcessFile with panic recovery: a single broken
// file must not take down the run.
func (m *Manager) processOne(ctx context.Context, path string) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = ""
			err = fmt.Errorf("panic processing %s: %v", path, r)
		}
	}()
	return m.ProcessFile(ctx, path)
}

// ProcessFile ingests a single file. Soft outcomes (empty content,
// duplicate hash, unhashable file) return a status and nil error;
// missing paths, directories, and storage failures return errors.
func (m *Manager) ProcessFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := decodeText(raw)

	if strings.TrimSpace(content) == "" {
		return StatusEmpty, nil
	}

	hash, err := ContentHash(path, DefaultHashSampleSize)
	if err != nil {
		m.logger.Debug("content hash failed", "path", path, "error", err)
		return StatusHashFailed, nil
	}

	m.mu.Lock()
	if m.processedHashes == nil {
		m.processedHashes = make(map[string]bool)
	}
	dup := m.processedHashes[hash]
	m.mu.Unlock()
	if dup {
		return StatusDuplicate, nil
	}

	insights := ExtractInsights(content)
	meta := map[string]any{
		"source":            path,
		"type":              "markdown",
		"auto_learned":      true,
		"content_hash":      hash,
		"file_size":         info.Size(),
		"modification_time": info.ModTime().Format(time.RFC3339),
		"insights":          insights,
	}

	if err := m.store.Add(ctx, content, meta); err != nil {
		return StatusStorageFailed, fmt.Errorf("store %s: %w", path, err)
	}

	m.mu.Lock()
	m.processedHashes[hash] = true
	m.mu.Unlock()

	// Audit trail is best effort.
	if err := m.notepad.Append(path, hash, StatusLearned); err != nil {
		m.logger.Warn("notepad append failed", "path", path, "error", err)
	}

	return StatusLearned, nil
}

// LearnText ingests an in-memory snippet (e.g. a /learn chat command).
func (m *Manager) LearnText(ctx context.Context, text, source string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return StatusEmpty, nil
	}

	hash := StringHash(text)

	m.mu.Lock()
	if m.processedHashes == nil {
		m.processedHashes = make(map[string]bool)
	}
	dup := m.processedHashes[hash]
	m.mu.Unlock()
	if dup {
		return StatusDuplicate, nil
	}

	meta := map[string]any{
		"source":       source,
		"type":         "text",
		"auto_learned": false,
		"content_hash": hash,
		"insights":     ExtractInsights(text),
	}

	if err := m.store.Add(ctx, text, meta); err != nil {
		return StatusStorageFailed, fmt.Errorf("store %s: %w", source, err)
	}

	m.mu.Lock()
	m.processedHashes[hash] = true
	m.mu.Unlock()

	return StatusLearned, nil
}

// safeReport invokes a reporter callback, recovering panics so a broken
// reporter cannot kill the run.
func (m *Manager) safeReport(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("progress reporter panicked", "panic", r)
		}
	}()
	fn()
}

// decodeText returns the content as a string, falling back to a
// Latin-1 interpretation when the bytes are not valid UTF-8. No input
// encoding aborts a run.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}
