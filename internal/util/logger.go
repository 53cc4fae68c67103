package util

import (
	"context"
	"io"
	"log"
	"log/slog"
	"strings"
)

// SetupGlobalLogger routes the standard log package through slog so that
// third-party code printing with log ends up in the same sink.
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: GetLogger(), level: slog.LevelInfo})
}

// NewLogWriter returns a writer that logs every write as one record at level.
// Child process stderr is routed through it.
func NewLogWriter(l *slog.Logger, level slog.Level) io.Writer {
	return &logWriter{logger: l, level: level}
}

type logWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Log(context.Background(), w.level, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
