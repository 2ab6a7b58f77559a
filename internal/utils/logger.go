package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileConfig controls optional rotating file output.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a slog.Logger configured for the desired verbosity and
// format. When file.Path is set, output also goes to a size-rotated file.
func NewLogger(level string, json bool, file LogFileConfig) *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if file.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   true,
		}
		if rotator.MaxSize <= 0 {
			rotator.MaxSize = 50
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}
