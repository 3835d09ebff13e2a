package mqtt

import "fmt"

// statePayload is the body of a power or energy state message.
type statePayload struct {
	Value float64 `json:"value"`
}

// discoveryPayload is a Home Assistant MQTT discovery config message.
type discoveryPayload struct {
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	ValueTemplate     string          `json:"value_template"`
	UniqueID          string          `json:"unique_id"`
	Icon              string          `json:"icon"`
	DeviceClass       string          `json:"device_class"`
	StateClass        string          `json:"state_class"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

var hubDevice = discoveryDevice{
	Name:         "Efergy Hub",
	Identifiers:  []string{"efergy"},
	Manufacturer: "Efergy",
	Model:        "Hub",
}

func powerTopic(baseTopic, label string) string {
	return fmt.Sprintf("%s/%s/power", baseTopic, label)
}

func energyTopic(baseTopic, label string) string {
	return fmt.Sprintf("%s/%s/energy", baseTopic, label)
}

func discoveryTopic(prefix, uniqueID string) string {
	return fmt.Sprintf("%s/sensor/%s/config", prefix, uniqueID)
}

func powerDiscoveryPayload(label, sensorID, stateTopic string) discoveryPayload {
	return discoveryPayload{
		Name:              fmt.Sprintf("Live power usage - %s", sensorID),
		StateTopic:        stateTopic,
		UnitOfMeasurement: "kW",
		ValueTemplate:     "{{ value_json.value }}",
		UniqueID:          label,
		Icon:              "mdi:flash",
		DeviceClass:       "power",
		StateClass:        "measurement",
		Device:            hubDevice,
	}
}

func energyDiscoveryPayload(label, sensorID, stateTopic string) discoveryPayload {
	return discoveryPayload{
		Name:              fmt.Sprintf("Energy consumption - %s", sensorID),
		StateTopic:        stateTopic,
		UnitOfMeasurement: "kWh",
		ValueTemplate:     "{{ value_json.value }}",
		UniqueID:          label + "_energy",
		Icon:              "mdi:lightning-bolt",
		DeviceClass:       "energy",
		StateClass:        "total_increasing",
		Device:            hubDevice,
	}
}
