package chunkcrypt

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const (
	progressMinBytes    = 1 << 30 // 1 GiB
	progressMinInterval = 60 * time.Second

	secondsThreshold = 100
	minutesThreshold = 90
	hoursThreshold   = 30
)

// Progress rate-limits "N unit(s) left" reporting to at most once per
// minute AND only after at least 1 GiB has been processed since the
// previous report, per spec.md §6.
type Progress struct {
	log        *logrus.Logger
	fd         uintptr
	start      time.Time
	lastReport time.Time
	lastBytes  int64
	isTTY      bool
}

// NewProgress returns a reporter that writes through log and, when fd is
// a terminal, overwrites a single line instead of emitting one line per
// update.
func NewProgress(log *logrus.Logger, fd uintptr) *Progress {
	return &Progress{
		log:   log,
		fd:    fd,
		start: time.Now(),
		isTTY: term.IsTerminal(int(fd)),
	}
}

// Report is called after every durable offset advance with the total
// bytes processed so far and the device size. It emits at most one line
// per call, honoring the 1 GiB / 60 second double gate.
func (p *Progress) Report(processed, total int64) {
	now := time.Now()
	if processed-p.lastBytes < progressMinBytes {
		return
	}
	if !p.lastReport.IsZero() && now.Sub(p.lastReport) < progressMinInterval {
		return
	}
	p.lastBytes = processed
	p.lastReport = now

	elapsed := now.Sub(p.start).Seconds()
	if elapsed <= 0 || processed <= 0 {
		return
	}
	rate := float64(processed) / elapsed
	remainingBytes := total - processed
	if remainingBytes <= 0 || rate <= 0 {
		return
	}
	remainingSeconds := float64(remainingBytes) / rate
	msg := formatRemaining(remainingSeconds)
	if p.isTTY {
		fmt.Fprintf(p.log.Out, "\r%s", msg)
		return
	}
	p.log.Info(msg)
}

// formatRemaining applies the seconds -> minutes -> hours -> days
// escalation with thresholds 100, 90, 30 from spec.md §6.
func formatRemaining(seconds float64) string {
	if seconds < secondsThreshold {
		return unitMessage(seconds, "second")
	}
	minutes := seconds / 60
	if minutes < minutesThreshold {
		return unitMessage(minutes, "minute")
	}
	hours := minutes / 60
	if hours < hoursThreshold {
		return unitMessage(hours, "hour")
	}
	days := hours / 24
	return unitMessage(days, "day")
}

func unitMessage(n float64, unit string) string {
	rounded := int64(n + 0.5)
	plural := "s"
	if rounded == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d %s%s left", rounded, unit, plural)
}
