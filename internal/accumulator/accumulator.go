// Package accumulator converts irregular-interval instantaneous power
// samples into a cumulative energy series. The hub only ever reports power;
// the accumulator is the sole source of truth for energy, so the cumulative
// total must never decrease except by an explicit external reset of the
// store.
package accumulator

import (
	"time"

	"github.com/afroash/hub-server/internal/models"
)

// DefaultMaxGap bounds the energy error a single stale interval can
// contribute after a restart or long network outage.
const DefaultMaxGap = 4 * time.Hour

// Outcome classifies how a reading was applied to the sensor state.
type Outcome int

const (
	// OutcomeFirst seeds the trapezoid: the very first reading for a
	// sensor has no prior interval to integrate over.
	OutcomeFirst Outcome = iota
	// OutcomeNormal applied a trapezoidal energy delta.
	OutcomeNormal
	// OutcomeOutOfOrder rejected a non-positive elapsed interval
	// (duplicate packet or clock regression); no energy was added but
	// last power and timestamp still advanced.
	OutcomeOutOfOrder
	// OutcomeClamped applied a delta over the capped interval because the
	// real gap exceeded the configured maximum.
	OutcomeClamped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFirst:
		return "first"
	case OutcomeNormal:
		return "normal"
	case OutcomeOutOfOrder:
		return "out_of_order"
	case OutcomeClamped:
		return "clamped"
	default:
		return "unknown"
	}
}

// Result describes one application of a reading.
type Result struct {
	Outcome  Outcome
	DeltaKWh float64
	// Elapsed is the interval actually integrated over, after clamping.
	Elapsed time.Duration
}

// Accumulator integrates readings into sensor state. It is pure: Apply
// never touches storage and holds no mutable state of its own, so a single
// instance is safe for concurrent use across sensors.
type Accumulator struct {
	maxGap time.Duration
}

// New returns an accumulator capping any single interval at maxGap.
// Non-positive values fall back to DefaultMaxGap.
func New(maxGap time.Duration) *Accumulator {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	return &Accumulator{maxGap: maxGap}
}

// MaxGap returns the configured interval cap.
func (a *Accumulator) MaxGap() time.Duration {
	return a.maxGap
}

// Apply folds a reading observed at ts into prior state. A nil prior means
// this is the sensor's first reading. The returned state is always a fresh
// value; prior is never mutated.
func (a *Accumulator) Apply(prior *models.SensorState, reading *models.Reading, ts time.Time) (*models.SensorState, Result) {
	if prior == nil {
		return &models.SensorState{
			SensorID:            reading.SensorID,
			LastTimestamp:       ts,
			LastPowerWatts:      reading.PowerWatts,
			CumulativeEnergyKWh: 0,
		}, Result{Outcome: OutcomeFirst}
	}

	next := prior.Copy()
	next.LastPowerWatts = reading.PowerWatts
	next.LastTimestamp = ts

	elapsed := ts.Sub(prior.LastTimestamp)
	if elapsed <= 0 {
		// Out-of-order or duplicate packet. Advancing last power and
		// timestamp anyway keeps subsequent intervals correct.
		return next, Result{Outcome: OutcomeOutOfOrder}
	}

	outcome := OutcomeNormal
	if elapsed > a.maxGap {
		elapsed = a.maxGap
		outcome = OutcomeClamped
	}

	// Trapezoidal rule, all in float64: mean power (W) times hours,
	// divided by 1000 for kWh. No rounding until persistence.
	delta := (prior.LastPowerWatts + reading.PowerWatts) / 2 * elapsed.Hours() / 1000
	next.CumulativeEnergyKWh = prior.CumulativeEnergyKWh + delta

	return next, Result{Outcome: outcome, DeltaKWh: delta, Elapsed: elapsed}
}
