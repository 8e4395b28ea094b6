package metrics

import (
	"cfdfeed/internal/symbols"
	"cfdfeed/logger"
)

// DropReason identifies why an inbound frame was discarded.
type DropReason string

const (
	DropMalformed    DropReason = "malformed"
	DropUnrecognized DropReason = "unrecognized"
	DropPanic        DropReason = "panic"
)

// EmitFrameDrop emits one frames_dropped event. stream is the frame's stream
// name when it had one; only its channel kind is attached, since fields end up
// as CloudWatch dimensions and stream names come from the upstream.
func EmitFrameDrop(log *logger.Log, reason DropReason, stream string) {
	fields := logger.Fields{"reason": string(reason)}
	if stream != "" {
		fields["stream_kind"] = symbols.KindOf(stream)
	}
	EmitMetric(log, "stream", "frames_dropped", 1, Counter, fields)
}

// ReportRateLimited records a 429 from the REST backend.
func ReportRateLimited(log *logger.Log, endpoint string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"endpoint": endpoint}
	EmitMetric(log, "api", "rate_limit_exceeded", 1, Counter, fields)
	log.WithComponent("api").WithFields(fields).Warn("rate limit exceeded")
}
