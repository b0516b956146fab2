package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// InstanceLogger writes the audit log of one plan instance to
// <root>/<instance id>_<plan name>.log as JSON lines.
type InstanceLogger struct {
	*slog.Logger

	path   string
	file   *os.File
	closed bool
	mu     sync.Mutex
}

// InstanceLogPath returns the log file path for an instance.
func InstanceLogPath(root string, instanceID int64, planName string) string {
	return filepath.Join(root, fmt.Sprintf("%d_%s.log", instanceID, planName))
}

// NewInstanceLogger opens (appending) the instance log under root.
func NewInstanceLogger(root string, instanceID int64, planName string) (*InstanceLogger, error) {
	err := os.MkdirAll(root, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", root, err)
	}

	path := InstanceLogPath(root, instanceID, planName)

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance log %s: %w", path, err)
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})

	return &InstanceLogger{
		Logger: slog.New(handler).With("instance_id", instanceID, "plan", planName),
		path:   path,
		file:   file,
	}, nil
}

// NewDiscardInstanceLogger returns a logger that drops every record.
func NewDiscardInstanceLogger() *InstanceLogger {
	return &InstanceLogger{Logger: slog.New(slog.DiscardHandler)}
}

// Path returns the file backing the logger, empty when discarding.
func (l *InstanceLogger) Path() string {
	return l.path
}

// Write logs a record at level, dropping it silently once closed.
func (l *InstanceLogger) Write(ctx context.Context, level slog.Level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.Log(ctx, level, msg, args...)
}

// Close flushes and closes the file. Subsequent writes are dropped.
func (l *InstanceLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	if l.file == nil {
		return nil
	}

	return l.file.Close()
}
