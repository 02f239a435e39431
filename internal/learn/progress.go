package learn

import "log/slog"

// Reporter receives progress events during a learn run. Implementations
// must tolerate concurrent runs not existing: events for one run arrive
// from a single goroutine, in order. A panicking reporter never kills
// the run; the manager recovers and logs it.
type Reporter interface {
	// FileStart is called before a file is processed.
	FileStart(path string)

	// FileComplete is called after a file is processed with the
	// outcome status ("learned", "empty", "duplicate_content", ...).
	FileComplete(path, status string)

	// Progress is called after each file with the running position.
	Progress(current, total int)

	// Error is called when a file fails.
	Error(path string, err error)

	// Complete is called once at the end of the run.
	Complete(processed, errors int)
}

// LogReporter reports progress through a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

// NewLogReporter creates a reporter that logs at debug/info level.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) FileStart(path string) {
	r.Logger.Debug("learning file", "path", path)
}

func (r *LogReporter) FileComplete(path, status string) {
	r.Logger.Debug("file complete", "path", path, "status", status)
}

func (r *LogReporter) Progress(current, total int) {
	r.Logger.Debug("learn progress", "current", current, "total", total)
}

func (r *LogReporter) Error(path string, err error) {
	r.Logger.Warn("learn file failed", "path", path, "error", err)
}

func (r *LogReporter) Complete(processed, errors int) {
	r.Logger.Info("learn run complete", "processed", processed, "errors", errors)
}

// NopReporter discards all progress events.
type NopReporter struct{}

func (NopReporter) FileStart(string)            {}
func (NopReporter) FileComplete(string, string) {}
func (NopReporter) Progress(int, int)           {}
func (NopReporter) Error(string, error)         {}
func (NopReporter) Complete(int, int)           {}
