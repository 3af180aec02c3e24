package utils

import (
	"log/slog"
	"os"
)

// OpenLogFile opens path for appending and returns a text handler writing to
// it. The caller closes the file.
func OpenLogFile(path string, level slog.Level) (*os.File, slog.Handler, error) {
	if err := EnsureParent(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, slog.NewTextHandler(file, &slog.HandlerOptions{Level: level}), nil
}
