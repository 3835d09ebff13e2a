package storage

import (
	"testing"
	"time"

	"github.com/afroash/hub-server/internal/models"
)

func retentionRecord(sensorID string, ts time.Time) (*models.SensorState, *models.ReadingRecord) {
	return testState(sensorID, ts, 100, 1.0), testRecord(sensorID, ts, 100, 1.0)
}

func TestRetentionCleaner_RemovesOldRecords(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	state, rec := retentionRecord("741459", now.AddDate(0, 0, -45))
	store.Commit(state, rec)
	state, rec = retentionRecord("741459", now)
	store.Commit(state, rec)

	cleaner := NewRetentionCleaner(store, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}, testLogger())
	defer cleaner.Stop()

	cleaner.RunNow()

	records, _ := store.RecentRecords("741459", 10)
	if len(records) != 1 {
		t.Errorf("got %d records after cleanup, want 1", len(records))
	}

	stats := cleaner.Stats()
	if stats.TotalDeleted < 1 {
		t.Errorf("TotalDeleted = %v, want >= 1", stats.TotalDeleted)
	}
	if stats.TotalCleanups < 1 {
		t.Errorf("TotalCleanups = %v, want >= 1", stats.TotalCleanups)
	}
}

func TestRetentionCleaner_PreservesSensorState(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	state, rec := retentionRecord("741459", now.AddDate(0, 0, -365))
	store.Commit(state, rec)

	cleaner := NewRetentionCleaner(store, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}, testLogger())
	defer cleaner.Stop()

	cleaner.RunNow()

	got, _ := store.GetState("741459")
	if got == nil {
		t.Fatal("sensor state removed by retention cleaner")
	}
	if got.CumulativeEnergyKWh != 1.0 {
		t.Errorf("CumulativeEnergyKWh = %v, want 1.0", got.CumulativeEnergyKWh)
	}
}

func TestRetentionCleaner_InvalidPeriodUsesDefault(t *testing.T) {
	cleaner := NewRetentionCleaner(NewMemoryStore(), RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: 0,
	}, testLogger())
	defer cleaner.Stop()

	if cleaner.cleanupPeriod != time.Hour {
		t.Errorf("cleanupPeriod = %v, want 1h default", cleaner.cleanupPeriod)
	}
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	cleaner := NewRetentionCleaner(NewMemoryStore(), DefaultRetentionCleanerConfig(), testLogger())
	cleaner.Stop()
	cleaner.Stop()
}
