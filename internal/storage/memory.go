package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/hub-server/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used in tests and anywhere durability is
// not needed. Commit semantics match SQLiteStore: state upsert and record
// append happen under one lock.
type MemoryStore struct {
	mutex   sync.RWMutex
	states  map[string]*models.SensorState
	records map[string][]*models.ReadingRecord
	labels  map[string]struct{}

	// CommitErr, when set, is returned by Commit to simulate storage
	// failures.
	CommitErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]*models.SensorState),
		records: make(map[string][]*models.ReadingRecord),
		labels:  make(map[string]struct{}),
	}
}

func (ms *MemoryStore) Close() error   { return nil }
func (ms *MemoryStore) Migrate() error { return nil }

// GetState returns a copy of the stored state, or nil if unseen.
func (ms *MemoryStore) GetState(sensorID string) (*models.SensorState, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	return ms.states[sensorID].Copy(), nil
}

// Commit stores copies so callers cannot mutate internal data afterwards.
func (ms *MemoryStore) Commit(state *models.SensorState, record *models.ReadingRecord) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if ms.CommitErr != nil {
		return ms.CommitErr
	}

	ms.states[state.SensorID] = state.Copy()
	rec := *record
	ms.records[record.SensorID] = append(ms.records[record.SensorID], &rec)
	ms.labels[record.Label] = struct{}{}
	return nil
}

func (ms *MemoryStore) ListStates() ([]*models.SensorState, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	states := make([]*models.SensorState, 0, len(ms.states))
	for _, state := range ms.states {
		states = append(states, state.Copy())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SensorID < states[j].SensorID })
	return states, nil
}

func (ms *MemoryStore) RecentRecords(sensorID string, limit int) ([]*models.ReadingRecord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	records := ms.records[sensorID]
	start := len(records) - limit
	if start < 0 {
		start = 0
	}

	// Newest first, copies only
	result := make([]*models.ReadingRecord, 0, len(records)-start)
	for i := len(records) - 1; i >= start; i-- {
		rec := *records[i]
		result = append(result, &rec)
	}
	return result, nil
}

func (ms *MemoryStore) Labels() ([]string, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	labels := make([]string, 0, len(ms.labels))
	for label := range ms.labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

func (ms *MemoryStore) DeleteRecordsBefore(cutoff time.Time) (int64, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	var deleted int64
	for sensorID, records := range ms.records {
		kept := records[:0]
		for _, rec := range records {
			if rec.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, rec)
		}
		ms.records[sensorID] = kept
	}
	return deleted, nil
}

func (ms *MemoryStore) Stats() (*StorageStats, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := &StorageStats{UniqueSensors: len(ms.states)}
	for _, state := range ms.states {
		stats.TotalEnergyKWh += state.CumulativeEnergyKWh
	}
	for _, records := range ms.records {
		stats.TotalRecords += int64(len(records))
		for _, rec := range records {
			if stats.OldestRecord.IsZero() || rec.Timestamp.Before(stats.OldestRecord) {
				stats.OldestRecord = rec.Timestamp
			}
			if rec.Timestamp.After(stats.NewestRecord) {
				stats.NewestRecord = rec.Timestamp
			}
		}
	}
	return stats, nil
}
