// Package ingest runs the decode → accumulate → commit → publish pipeline
// for accepted readings. Updates for a given sensor are linearized with a
// per-sensor lock spanning state read, integration and commit; different
// sensors proceed fully in parallel.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/accumulator"
	"github.com/afroash/hub-server/internal/models"
	"github.com/afroash/hub-server/internal/storage"
)

// Publisher receives finalized records after they are durably committed.
// Implementations must never block: the publish path is fire-and-forget and
// its failures never reach the hub.
type Publisher interface {
	PublishRecord(record *models.ReadingRecord)
}

// NopPublisher discards records. Used when MQTT is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishRecord(*models.ReadingRecord) {}

// Pipeline applies readings to durable sensor state.
type Pipeline struct {
	store  storage.Store
	acc    *accumulator.Accumulator
	pub    Publisher
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a pipeline. A nil publisher defaults to NopPublisher.
func New(store storage.Store, acc *accumulator.Accumulator, pub Publisher, logger zerolog.Logger) *Pipeline {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Pipeline{
		store:  store,
		acc:    acc,
		pub:    pub,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// sensorLock returns the mutex serializing updates for one sensor id,
// creating it on first use. Locks are never removed: sensors are never
// deleted in normal operation and the set is small.
func (p *Pipeline) sensorLock(sensorID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[sensorID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[sensorID] = lock
	}
	return lock
}

// Ingest folds one decoded reading observed at ts into the sensor's durable
// state and hands the committed record to the publisher. A storage failure
// returns an error and leaves state untouched; the caller still acknowledges
// the hub, the reading is just not counted as durably recorded.
func (p *Pipeline) Ingest(reading *models.Reading, ts time.Time) (*models.ReadingRecord, error) {
	lock := p.sensorLock(reading.SensorID)
	lock.Lock()
	defer lock.Unlock()

	prior, err := p.store.GetState(reading.SensorID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor state: %w", err)
	}

	state, result := p.acc.Apply(prior, reading, ts)

	record := &models.ReadingRecord{
		SensorID:            reading.SensorID,
		Label:               reading.Label(),
		Timestamp:           ts,
		PowerWatts:          reading.PowerWatts,
		CumulativeEnergyKWh: state.CumulativeEnergyKWh,
	}

	if err := p.store.Commit(state, record); err != nil {
		return nil, fmt.Errorf("failed to commit reading: %w", err)
	}

	p.logResult(reading, result)
	p.pub.PublishRecord(record)

	return record, nil
}

func (p *Pipeline) logResult(reading *models.Reading, result accumulator.Result) {
	event := p.logger.Debug()
	switch result.Outcome {
	case accumulator.OutcomeOutOfOrder:
		event = p.logger.Warn()
	case accumulator.OutcomeClamped:
		event = p.logger.Warn().Dur("max_gap", p.acc.MaxGap())
	}
	event.
		Str("sensor_id", reading.SensorID).
		Str("outcome", result.Outcome.String()).
		Float64("power_watts", reading.PowerWatts).
		Float64("delta_kwh", result.DeltaKWh).
		Dur("elapsed", result.Elapsed).
		Msg("Reading applied")
}
