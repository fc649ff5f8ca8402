// Package budget monitors the target org's remaining daily API call
// budget and pauses the pipeline before it would be exhausted mid-run,
// rechecking on an interval until the budget recovers.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
)

// Monitor pauses the pipeline when the target connection's remaining API
// call budget drops below a threshold. A run that blows through its daily
// budget mid-seed should pause rather than fail opaquely on the next
// call.
type Monitor struct {
	c         conn.Connection
	enabled   bool
	threshold int
	interval  time.Duration
	log       logio.Logger
}

// New creates a budget Monitor. If the connection never reports a remaining
// call count (RemainingAPICalls returns ok=false), monitoring is disabled
// and every check passes.
func New(c conn.Connection, threshold int, interval time.Duration, log logio.Logger) *Monitor {
	if threshold <= 0 {
		threshold = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logio.NewDefault()
	}

	_, ok := c.RemainingAPICalls(context.Background())
	if !ok {
		log.Log("API call budget monitoring is disabled (connection does not report a remaining call count)")
		return &Monitor{c: c, enabled: false, log: log}
	}

	log.Log(fmt.Sprintf("API call budget monitoring enabled (threshold: %d, interval: %s)", threshold, interval))
	return &Monitor{c: c, enabled: true, threshold: threshold, interval: interval, log: log}
}

// IsEnabled reports whether the connection exposes a remaining-call count.
func (m *Monitor) IsEnabled() bool {
	return m.enabled
}

// Check reports whether the remaining budget is above threshold.
func (m *Monitor) Check(ctx context.Context) (ok bool, remaining int) {
	if !m.enabled {
		return true, 0
	}
	remaining, reported := m.c.RemainingAPICalls(ctx)
	if !reported {
		return true, 0
	}
	if remaining < m.threshold {
		m.log.Warn(fmt.Sprintf("API call budget is LOW: %d remaining (threshold: %d)", remaining, m.threshold))
		return false, remaining
	}
	return true, remaining
}

// WaitForBudget blocks, rechecking at the configured interval, until the
// remaining budget rises back above threshold or ctx is cancelled. The
// pipeline calls this at stage boundaries, never mid-batch.
func (m *Monitor) WaitForBudget(ctx context.Context) error {
	if !m.enabled {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, remaining := m.Check(ctx)
		if ok {
			return nil
		}
		m.log.Warn(fmt.Sprintf("pausing before next stage: %d API call(s) remaining, waiting %s", remaining, m.interval))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}
}
