package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupJSON sets slog's default logger to use JSON output at the given level.
func SetupJSON(level slog.Level) {
	setup(os.Stdout, level)
}

// FileOptions controls log rotation for SetupFile.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupFile routes slog's default logger to a rotating JSON log file, so the
// terminal stays free for the game. The returned closer flushes the file.
func SetupFile(opts FileOptions, level slog.Level) io.Closer {
	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 5
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}

	w := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
	}
	setup(w, level)

	return w
}

func setup(w io.Writer, level slog.Level) {
	logger := slog.New(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	)
	slog.SetDefault(logger)
}
