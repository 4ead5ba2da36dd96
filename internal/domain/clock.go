package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic output.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for processed_at stamps. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// StampProcessed sets ProcessedAt on every row to the current clock time.
func StampProcessed(rows []ResolvedObservation) {
	now := clock.Now().UTC()
	for i := range rows {
		rows[i].ProcessedAt = now
	}
}
