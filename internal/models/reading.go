package models

import (
	"fmt"
	"time"
)

// Reading is one decoded instantaneous power sample from a hub packet.
// AuxPort, ChannelTag and any trailing fields are carried verbatim in Raw;
// their meaning is inferred from observed traffic, not documented, so the
// pipeline never interprets them.
type Reading struct {
	SensorID   string            `json:"sensor_id"`
	HubVersion string            `json:"hub_version"`
	PowerWatts float64           `json:"power_watts"`
	Raw        map[string]string `json:"raw,omitempty"`
}

// Label returns the namespaced identifier used for storage rows and MQTT
// topics, e.g. "efergy_h2_741459".
func (r *Reading) Label() string {
	return Label(r.HubVersion, r.SensorID)
}

// Label builds the namespaced sensor identifier from a hub version ("h2" or
// "h3") and a sensor id.
func Label(hubVersion, sensorID string) string {
	return fmt.Sprintf("efergy_%s_%s", hubVersion, sensorID)
}

func (r *Reading) String() string {
	return fmt.Sprintf("SensorID: %s, Hub: %s, Power: %.2fW", r.SensorID, r.HubVersion, r.PowerWatts)
}

// SensorState is the durable accumulation state for one sensor. One row per
// distinct sensor id, created on the first observed reading and mutated on
// every subsequent one. CumulativeEnergyKWh never decreases.
type SensorState struct {
	SensorID            string    `json:"sensor_id"`
	LastTimestamp       time.Time `json:"last_timestamp"`
	LastPowerWatts      float64   `json:"last_power_watts"`
	CumulativeEnergyKWh float64   `json:"cumulative_energy_kwh"`
}

// Copy returns a deep copy of the state.
func (s *SensorState) Copy() *SensorState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ReadingRecord is one accepted packet as persisted to the append-only
// readings log, immutable once written.
type ReadingRecord struct {
	SensorID            string    `json:"sensor_id"`
	Label               string    `json:"label"`
	Timestamp           time.Time `json:"timestamp"`
	PowerWatts          float64   `json:"power_watts"`
	CumulativeEnergyKWh float64   `json:"cumulative_energy_kwh"`
}

// PowerKW returns the instantaneous power in kilowatts, the unit published
// to dashboards.
func (r *ReadingRecord) PowerKW() float64 {
	return r.PowerWatts / 1000
}
