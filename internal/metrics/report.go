package metrics

import "cfdfeed/logger"

// StreamStats holds the counters a stream client reports periodically.
type StreamStats struct {
	Connected      bool
	FramesReceived int64
	TradesReceived int64
	BooksReceived  int64
	FramesDropped  int64
	Reconnects     int64
	TradesBuffered int
}

// ReportStream emits the stream counters and logs a summary line. The summary
// is a warning when frames were dropped.
func ReportStream(log *logger.Log, component string, stats StreamStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	dropRate := float64(0)
	if stats.FramesReceived > 0 {
		dropRate = float64(stats.FramesDropped) / float64(stats.FramesReceived)
	}

	SetTradesBuffered(stats.TradesBuffered)
	EmitMetric(log, component, "frames_received", stats.FramesReceived, Counter, nil)
	EmitMetric(log, component, "drop_rate", dropRate, Gauge, logger.Fields{"unit": "percent"})
	EmitMetric(log, component, "trades_buffered", stats.TradesBuffered, Gauge, nil)

	entry := l.WithFields(logger.Fields{
		"connected":       stats.Connected,
		"frames_received": stats.FramesReceived,
		"trades_received": stats.TradesReceived,
		"books_received":  stats.BooksReceived,
		"frames_dropped":  stats.FramesDropped,
		"drop_rate":       dropRate,
		"reconnects":      stats.Reconnects,
		"trades_buffered": stats.TradesBuffered,
	})

	if stats.FramesDropped > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
