package logger

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

var (
	errorCount int64
	warnCount  int64
)

func recordWarn() {
	atomic.AddInt64(&warnCount, 1)
}

func recordError() {
	atomic.AddInt64(&errorCount, 1)
}

// Counts returns the number of warnings and errors logged through Entry.
func Counts() (warns, errors int64) {
	return atomic.LoadInt64(&warnCount), atomic.LoadInt64(&errorCount)
}

// ResetCounts zeroes the warn and error counters.
func ResetCounts() {
	atomic.StoreInt64(&warnCount, 0)
	atomic.StoreInt64(&errorCount, 0)
}

// ReportSource supplies component specific fields for the runtime report.
type ReportSource func() Fields

// StartReport logs host statistics and the fields returned by sources every
// interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration, sources ...ReportSource) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, sources)
			}
		}
	}()
}

func logReport(log *Log, sources []ReportSource) {
	fields := reportFields()
	for _, source := range sources {
		if source == nil {
			continue
		}
		for k, v := range source() {
			fields[k] = v
		}
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")
}

func reportFields() Fields {
	warns, errs := Counts()
	fields := Fields{
		"warns":      warns,
		"errors":     errs,
		"goroutines": runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fields["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = int64(vm.Used) / 1024 / 1024
	}
	if counters, err := gnet.IOCounters(false); err == nil && len(counters) > 0 {
		fields["net_bytes_sent"] = int64(counters[0].BytesSent)
		fields["net_bytes_recv"] = int64(counters[0].BytesRecv)
	}
	return fields
}
