package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/afroash/hub-server/internal/models"
	"github.com/afroash/hub-server/internal/storage"
)

func TestHandleSensors(t *testing.T) {
	srv, _ := newTestServer(t)

	postBody(t, srv.URL+"/h2", "111|1|EFCT|P1,100.0")
	postBody(t, srv.URL+"/h2", "222|1|EFCT|P1,200.0")

	resp, err := http.Get(srv.URL + "/api/sensors")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var states []*models.SensorState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("got %d states, want 2", len(states))
	}
}

func TestHandleSensors_EmptyStoreReturnsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sensors")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var states []*models.SensorState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if states == nil || len(states) != 0 {
		t.Errorf("expected empty array, got %v", states)
	}
}

func TestHandleHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	postBody(t, srv.URL+"/h2", "741459|1|EFCT|P1,100.0")

	resp, err := http.Get(srv.URL + "/api/history?sensor_id=741459")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var records []*models.ReadingRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].SensorID != "741459" {
		t.Errorf("SensorID = %v, want 741459", records[0].SensorID)
	}
}

func TestHandleHistory_MissingSensorID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t)

	postBody(t, srv.URL+"/h2", "741459|1|EFCT|P1,100.0")

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats storage.StorageStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalRecords != 1 {
		t.Errorf("TotalRecords = %v, want 1", stats.TotalRecords)
	}
	if stats.UniqueSensors != 1 {
		t.Errorf("UniqueSensors = %v, want 1", stats.UniqueSensors)
	}
}
