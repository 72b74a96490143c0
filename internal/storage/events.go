package storage

import (
	"github.com/helix-sec/crucible/internal/telemetry"
	"go.uber.org/zap"
)

// EventWriter mirrors accepted telemetry events into durable analytics
// storage. Write() must NEVER block the ingest path; the authoritative
// copy already lives in the in-process event store by the time a mirror
// write is queued.
type EventWriter interface {
	Write(event *telemetry.Event)
	Close()
}

// LogWriter is a fallback EventWriter for local development. It logs
// events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *telemetry.Event) {
	w.logger.Info("telemetry_event",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.String("action", string(event.Action)),
		zap.String("process_name", event.ProcessName),
		zap.Uint32("pid", event.PID),
		zap.Uint32("ppid", event.PPID),
		zap.String("target_path", event.TargetPath),
		zap.Int("severity", event.Severity),
	)
}

func (w *LogWriter) Close() {}
