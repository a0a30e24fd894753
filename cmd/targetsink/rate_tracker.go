package main

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// RequestRateTracker tracks requests received per second
type RequestRateTracker struct {
	mu             sync.RWMutex
	clock          clock.Clock
	counts         map[int64]int // requests per unix second
	startTime      time.Time
	total          int
	lastReportTime time.Time
	reportInterval time.Duration
	log            logrus.FieldLogger
}

func NewRequestRateTracker(clk clock.Clock, reportInterval time.Duration, log logrus.FieldLogger) *RequestRateTracker {
	now := clk.Now()
	return &RequestRateTracker{
		clock:          clk,
		counts:         make(map[int64]int),
		startTime:      now,
		lastReportTime: now,
		reportInterval: reportInterval,
		log:            log,
	}
}

// Track adds count requests to the current second and reports the rates
// once reportInterval has passed since the last report.
func (t *RequestRateTracker) Track(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.counts[now.Unix()] += count
	t.total += count
	t.prune(now)

	if t.reportInterval > 0 && now.Sub(t.lastReportTime) >= t.reportInterval {
		t.log.WithFields(logrus.Fields{
			"rate_1s":  t.rate(now, 1),
			"rate_10s": t.rate(now, 10),
			"rate_60s": t.rate(now, 60),
			"total":    t.total,
		}).Info("requests per second")
		t.lastReportTime = now
	}
}

// Rate returns the average requests/second over the last seconds seconds.
func (t *RequestRateTracker) Rate(seconds int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rate(t.clock.Now(), seconds)
}

// Total returns the number of requests tracked so far.
func (t *RequestRateTracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

func (t *RequestRateTracker) rate(now time.Time, seconds int) float64 {
	// the current second counts as one of the window
	cutoff := now.Unix() - int64(seconds) + 1
	var total int
	for ts, count := range t.counts {
		if ts >= cutoff {
			total += count
		}
	}

	// less than a full window of data: use what we have
	window := int64(seconds)
	if elapsed := now.Unix() - t.startTime.Unix() + 1; elapsed < window {
		window = elapsed
	}
	return float64(total) / float64(window)
}

// prune drops the seconds no window looks at anymore.
func (t *RequestRateTracker) prune(now time.Time) {
	cutoff := now.Unix() - 60
	for ts := range t.counts {
		if ts < cutoff {
			delete(t.counts, ts)
		}
	}
}
