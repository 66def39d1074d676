package logger

import (
	"chatrelay/pkg/logging"
	"context"
	"log/slog"
)

func FromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}
