package netgate

import (
	"log/slog"
)

// SlogSink adapts a *slog.Logger to AuditSink, writing one structured log
// line per gated call. Intended to be pointed at the audit log path
// (logging.AuditLogPath) so the gate's allow/deny trail can be reviewed or
// shipped independently of the engine's own structured log.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink wraps logger as an AuditSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Audit(r Record) {
	if s.logger == nil {
		return
	}
	s.logger.Info("network_audit",
		slog.String("url", r.URL),
		slog.String("purpose", r.Purpose),
		slog.String("caller", r.Caller),
		slog.String("mode", string(r.Mode)),
		slog.String("decision", string(r.Decision)),
	)
}
