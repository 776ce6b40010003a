package transfer

import "time"

// Meter samples throughput no more often than its interval.
type Meter struct {
	interval  time.Duration
	lastAt    time.Time
	lastBytes int64
	rate      float64
}

func NewMeter(interval time.Duration, start time.Time) *Meter {
	return &Meter{interval: interval, lastAt: start}
}

// Update records the running byte total and returns the current rate in
// bytes per second. The rate only changes once interval has elapsed.
func (m *Meter) Update(now time.Time, total int64) float64 {
	elapsed := now.Sub(m.lastAt)
	if elapsed < m.interval {
		return m.rate
	}
	m.rate = float64(total-m.lastBytes) / elapsed.Seconds()
	m.lastAt = now
	m.lastBytes = total
	return m.rate
}

// Rate returns the last sampled rate.
func (m *Meter) Rate() float64 { return m.rate }
