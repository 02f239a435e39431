package learn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockStore struct {
	mu      sync.Mutex
	added   []map[string]any
	failErr error
	delay   time.Duration
}

func (s *mockStore) Add(ctx context.Context, content string, meta map[string]any) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.added = append(s.added, meta)
	return nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added)
}

type recordingReporter struct {
	mu        sync.Mutex
	started   []string
	completed map[string]string
	errored   []string
	finished  bool
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{completed: make(map[string]string)}
}

func (r *recordingReporter) FileStart(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, path)
}

func (r *recordingReporter) FileComplete(path, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[path] = status
}

func (r *recordingReporter) Progress(current, total int) {}

func (r *recordingReporter) Error(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errored = append(r.errored, path)
}

func (r *recordingReporter) Complete(processed, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

func newTestManager(t *testing.T, store Store, root string) *Manager {
	t.Helper()
	return NewManager(store, Config{Root: root}, NopReporter{}, nil, nil)
}

func waitForIdle(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("manager did not go idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessFile_Learned(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.md", "# Title\n\nBody text.\n")
	store := &mockStore{}
	m := newTestManager(t, store, dir)

	status, err := m.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if status != StatusLearned {
		t.Errorf("status = %q, want %q", status, StatusLearned)
	}
	if store.count() != 1 {
		t.Fatalf("store called %d times, want 1", store.count())
	}

	meta := store.added[0]
	if meta["source"] != path {
		t.Errorf("source = %v, want %s", meta["source"], path)
	}
	if meta["type"] != "markdown" {
		t.Errorf("type = %v, want markdown", meta["type"])
	}
	if meta["auto_learned"] != true {
		t.Error("auto_learned not set")
	}
	hash, ok := meta["content_hash"].(string)
	if !ok || len(hash) != 16 {
		t.Errorf("content_hash = %v, want 16-char string", meta["content_hash"])
	}
	insights, ok := meta["insights"].([]string)
	if !ok || len(insights) == 0 {
		t.Errorf("insights missing from metadata: %v", meta["insights"])
	}
	for _, key := range []string{"file_size", "modification_time"} {
		if _, ok := meta[key]; !ok {
			t.Errorf("metadata missing %s", key)
		}
	}
}

func TestProcessFile_SoftSkips(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.md", "   \n\n")
	store := &mockStore{}
	m := newTestManager(t, store, dir)

	status, err := m.ProcessFile(context.Background(), empty)
	if err != nil || status != StatusEmpty {
		t.Errorf("empty file: status=%q err=%v, want %q nil", status, err, StatusEmpty)
	}
	if store.count() != 0 {
		t.Error("store should not be called for empty file")
	}
}

func TestProcessFile_DuplicateWithinRun(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.md", "identical note body\n")
	b := writeFile(t, dir, "b.md", "identical note body\n")
	store := &mockStore{}
	m := newTestManager(t, store, dir)

	if status, err := m.ProcessFile(context.Background(), a); err != nil || status != StatusLearned {
		t.Fatalf("first file: status=%q err=%v", status, err)
	}
	status, err := m.ProcessFile(context.Background(), b)
	if err != nil {
		t.Fatalf("second file: %v", err)
	}
	if status != StatusDuplicate {
		t.Errorf("status = %q, want %q", status, StatusDuplicate)
	}
	if store.count() != 1 {
		t.Errorf("store called %d times, want 1", store.count())
	}
}

func TestProcessFile_Errors(t *testing.T) {
	dir := t.TempDir()
	store := &mockStore{}
	m := newTestManager(t, store, dir)

	if _, err := m.ProcessFile(context.Background(), filepath.Join(dir, "absent.md")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := m.ProcessFile(context.Background(), dir); err == nil {
		t.Error("expected error for directory")
	}
}

func TestProcessFile_StorageFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.md", "content\n")
	store := &mockStore{failErr: errors.New("disk full")}
	m := newTestManager(t, store, dir)

	status, err := m.ProcessFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if status != StatusStorageFailed {
		t.Errorf("status = %q, want %q", status, StatusStorageFailed)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q does not wrap store error", err)
	}
}

func TestProcessFile_Latin1Fallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.md")
	// 0xE9 is "é" in Latin-1 and invalid UTF-8 on its own.
	if err := os.WriteFile(path, []byte{'c', 'a', 'f', 0xE9, '\n'}, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := &mockStore{}
	m := newTestManager(t, store, dir)

	status, err := m.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if status != StatusLearned {
		t.Errorf("status = %q, want %q", status, StatusLearned)
	}
}

func TestManager_RunProcessesAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.md", "# one\n")
	writeFile(t, dir, "two.md", "# two\n")
	writeFile(t, dir, "docs/three.md", "# three\n")
	store := &mockStore{}
	rep := newRecordingReporter()
	m := NewManager(store, Config{Root: dir}, rep, nil, nil)

	if !m.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	waitForIdle(t, m)

	processed, errs := m.Stats()
	if processed != 3 || errs != 0 {
		t.Errorf("stats = (%d, %d), want (3, 0)", processed, errs)
	}
	if store.count() != 3 {
		t.Errorf("store called %d times, want 3", store.count())
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if !rep.finished {
		t.Error("Complete was not reported")
	}
	if len(rep.started) != 3 {
		t.Errorf("FileStart called %d times, want 3", len(rep.started))
	}
}

func TestManager_SecondStartRejected(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, dir, fmt.Sprintf("n%d.md", i), fmt.Sprintf("# note %d\n", i))
	}
	store := &mockStore{delay: 20 * time.Millisecond}
	m := newTestManager(t, store, dir)

	if !m.Start(context.Background()) {
		t.Fatal("first Start returned false")
	}
	if m.Start(context.Background()) {
		t.Error("second Start should return false while running")
	}
	waitForIdle(t, m)

	// Idle again: a new run is allowed.
	if !m.Start(context.Background()) {
		t.Error("Start after completion should succeed")
	}
	waitForIdle(t, m)
}

func TestManager_StopIsCooperative(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, dir, fmt.Sprintf("n%d.md", i), fmt.Sprintf("# note %d\n", i))
	}
	store := &mockStore{delay: 10 * time.Millisecond}
	m := newTestManager(t, store, dir)

	if !m.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.IsRunning() {
		t.Error("manager still running after Stop")
	}
	if store.count() >= 50 {
		t.Error("Stop did not interrupt the run")
	}
}

type panickyReporter struct{ NopReporter }

func (panickyReporter) FileStart(string)  { panic("reporter bug") }
func (panickyReporter) Complete(int, int) { panic("reporter bug") }

func TestManager_ReporterPanicDoesNotKillRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# a\n")
	writeFile(t, dir, "b.md", "# b\n")
	store := &mockStore{}
	m := NewManager(store, Config{Root: dir}, panickyReporter{}, nil, nil)

	if !m.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	waitForIdle(t, m)

	processed, _ := m.Stats()
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}
}

func TestManager_FilePanicCountsAsError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "boom.md", "# boom\n")
	m := newTestManager(t, &mockStore{}, dir)

	// Simulate a per-file panic through the recovery wrapper directly.
	m.store = panicStore{}
	_, err := m.processOne(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("err = %v, want recovered panic", err)
	}
}

type panicStore struct{}

func (panicStore) Add(context.Context, string, map[string]any) error { panic("store bug") }

func TestLearnText(t *testing.T) {
	store := &mockStore{}
	m := newTestManager(t, store, t.TempDir())

	status, err := m.LearnText(context.Background(), "the deploy key lives in vault", "chat")
	if err != nil || status != StatusLearned {
		t.Fatalf("LearnText: status=%q err=%v", status, err)
	}
	if store.count() != 1 {
		t.Fatalf("store called %d times, want 1", store.count())
	}
	if store.added[0]["type"] != "text" {
		t.Errorf("type = %v, want text", store.added[0]["type"])
	}

	// Same text again is a duplicate.
	status, err = m.LearnText(context.Background(), "the deploy key lives in vault", "chat")
	if err != nil || status != StatusDuplicate {
		t.Errorf("repeat LearnText: status=%q err=%v, want %q nil", status, err, StatusDuplicate)
	}

	if status, _ := m.LearnText(context.Background(), "  ", "chat"); status != StatusEmpty {
		t.Errorf("blank LearnText status = %q, want %q", status, StatusEmpty)
	}
}

func TestNotepad(t *testing.T) {
	dir := t.TempDir()
	pad := NewNotepad(filepath.Join(dir, "sub", "notepad.md"))
	if !pad.Enabled() {
		t.Fatal("notepad should be enabled")
	}
	if err := pad.Append("/w/a.md", "abc123", StatusLearned); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := pad.Append("/w/b.md", "def456", StatusLearned); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sub", "notepad.md"))
	if err != nil {
		t.Fatalf("read notepad: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "`/w/a.md`") || !strings.Contains(lines[0], "abc123") {
		t.Errorf("unexpected first line: %s", lines[0])
	}

	disabled := NewNotepad("")
	if disabled.Enabled() {
		t.Error("empty path should disable notepad")
	}
	if err := disabled.Append("/w/c.md", "x", StatusLearned); err != nil {
		t.Errorf("disabled Append should be a no-op, got %v", err)
	}
}

// gateStore blocks inside Add until released, signalling entry so a
// test can hold a worker mid-file.
type gateStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) Add(ctx context.Context, content string, meta map[string]any) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestStart_RefusedWhileStoppedWorkerStillAlive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "slow.md", "# slow\n")
	store := &gateStore{entered: make(chan struct{}, 4), release: make(chan struct{})}
	m := newTestManager(t, store, dir)

	old := stopWait
	stopWait = 20 * time.Millisecond
	defer func() { stopWait = old }()

	if !m.Start(context.Background()) {
		t.Fatal("first Start refused")
	}
	<-store.entered // worker is now mid-file

	if err := m.Stop(); err == nil {
		t.Fatal("expected Stop to time out with the worker mid-file")
	}

	// The run is flagged stopped but its worker has not exited. A new
	// run would share the worker's hash set and counters.
	if m.Start(context.Background()) {
		t.Fatal("Start accepted while the stopped worker is still alive")
	}

	close(store.release)

	deadline := time.Now().Add(5 * time.Second)
	for !m.Start(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatal("Start never accepted after the worker exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitForIdle(t, m)
}
