package app

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
)

func newUUID() string {
	return uuid.NewString()
}

const logModule = "unlock-engine"

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
