package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes entries to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the "audit" name.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Append logs the entry at info level.
func (l *LogSink) Append(_ context.Context, entry Entry) error {
	l.logger.Info("audit entry",
		zap.String("id", entry.ID.String()),
		zap.String("kind", string(entry.Kind)),
		zap.String("subject_id", entry.SubjectID),
		zap.String("status", entry.Status),
		zap.Time("timestamp", entry.Timestamp),
		zap.ByteString("payload", entry.Payload))
	return nil
}
