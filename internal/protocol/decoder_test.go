package protocol

import (
	"errors"
	"testing"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantSensor string
		wantWatts  float64
	}{
		{
			name:       "typical h2 packet",
			line:       "741459|1|EFCT|P1,2479.98",
			wantSensor: "741459",
			wantWatts:  2479.98,
		},
		{
			name:       "integer watt value",
			line:       "741459|1|EFCT|P1,2000",
			wantSensor: "741459",
			wantWatts:  2000,
		},
		{
			name:       "zero power",
			line:       "98|3|EFCT|P2,0.00",
			wantSensor: "98",
			wantWatts:  0,
		},
		{
			name:       "multi-digit port index",
			line:       "555|1|EFCT|P12,13.5",
			wantSensor: "555",
			wantWatts:  13.5,
		},
		{
			name:       "trailing rssi field",
			line:       "741459|1|EFCT|P1,150.25|-67",
			wantSensor: "741459",
			wantWatts:  150.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading, err := DecodeLine(tt.line, "h2")
			if err != nil {
				t.Fatalf("DecodeLine(%q) failed: %v", tt.line, err)
			}
			if reading.SensorID != tt.wantSensor {
				t.Errorf("SensorID = %v, want %v", reading.SensorID, tt.wantSensor)
			}
			if reading.PowerWatts != tt.wantWatts {
				t.Errorf("PowerWatts = %v, want %v", reading.PowerWatts, tt.wantWatts)
			}
			if reading.HubVersion != "h2" {
				t.Errorf("HubVersion = %v, want h2", reading.HubVersion)
			}
		})
	}
}

func TestDecodeLine_RawFields(t *testing.T) {
	reading, err := DecodeLine("741459|7|EFCT|P1,100.0|-71", "h3")
	if err != nil {
		t.Fatalf("DecodeLine failed: %v", err)
	}

	if got := reading.Raw["aux_port"]; got != "7" {
		t.Errorf("Raw[aux_port] = %v, want 7", got)
	}
	if got := reading.Raw["channel_tag"]; got != "EFCT" {
		t.Errorf("Raw[channel_tag] = %v, want EFCT", got)
	}
	if got := reading.Raw["rssi"]; got != "-71" {
		t.Errorf("Raw[rssi] = %v, want -71", got)
	}
	if reading.Label() != "efergy_h3_741459" {
		t.Errorf("Label = %v, want efergy_h3_741459", reading.Label())
	}
}

func TestDecodeLine_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "no pipes at all", line: "abc"},
		{name: "too few fields", line: "741459|1|EFCT"},
		{name: "empty sensor id", line: "|1|EFCT|P1,100"},
		{name: "whitespace sensor id", line: "   |1|EFCT|P1,100"},
		{name: "payload without comma", line: "741459|1|EFCT|P1"},
		{name: "payload without port prefix", line: "741459|1|EFCT|2479.98,1"},
		{name: "port prefix not P", line: "741459|1|EFCT|Q1,100"},
		{name: "port index not numeric", line: "741459|1|EFCT|Px,100"},
		{name: "bare P with no index", line: "741459|1|EFCT|P,100"},
		{name: "non-numeric value", line: "741459|1|EFCT|P1,abc"},
		{name: "negative power", line: "741459|1|EFCT|P1,-50"},
		{name: "infinite value", line: "741459|1|EFCT|P1,Inf"},
		{name: "nan value", line: "741459|1|EFCT|P1,NaN"},
		{name: "empty value", line: "741459|1|EFCT|P1,"},
		// A second P group must reject the line, not be silently dropped:
		// multi-port payloads are an unconfirmed format variant.
		{name: "trailing second group", line: "741459|1|EFCT|P1,100,P2,200"},
		{name: "trailing junk after value", line: "741459|1|EFCT|P1,100.0x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLine(tt.line, "h2")
			if !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("DecodeLine(%q) error = %v, want ErrMalformedPacket", tt.line, err)
			}
		})
	}
}

func TestDecodeLine_Skipped(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "hub status line", line: "0|1|HUB|P1,0"},
		{name: "EFMS multi-metric packet", line: "332211|1|EFMS1|M,64.00&T,0.00&L,0.00"},
		{name: "lowercase efms", line: "332211|1|efms1|M,64.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLine(tt.line, "h2")
			if !errors.Is(err, ErrSkipLine) {
				t.Errorf("DecodeLine(%q) error = %v, want ErrSkipLine", tt.line, err)
			}
		})
	}
}

func TestDecodeLine_FloatPrecision(t *testing.T) {
	// Values with up to two decimal digits must survive parsing exactly.
	values := map[string]float64{
		"741459|1|EFCT|P1,2479.98": 2479.98,
		"741459|1|EFCT|P1,0.01":    0.01,
		"741459|1|EFCT|P1,999.9":   999.9,
	}

	for line, want := range values {
		reading, err := DecodeLine(line, "h2")
		if err != nil {
			t.Fatalf("DecodeLine(%q) failed: %v", line, err)
		}
		if reading.PowerWatts != want {
			t.Errorf("PowerWatts = %v, want exactly %v", reading.PowerWatts, want)
		}
	}
}

func TestDecodeBody_MultiLine(t *testing.T) {
	body := "741459|1|EFCT|P1,100.0\r\n" +
		"0|1|HUB|P1,0\r\n" +
		"broken line\r\n" +
		"741460|2|EFCT|P1,200.0\r\n"

	readings, errs := DecodeBody(body, "h2")

	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}
	if readings[0].SensorID != "741459" || readings[1].SensorID != "741460" {
		t.Errorf("unexpected sensor ids: %v, %v", readings[0].SensorID, readings[1].SensorID)
	}

	// The status line is skipped silently; only the broken line errors.
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !errors.Is(errs[0], ErrMalformedPacket) {
		t.Errorf("error = %v, want ErrMalformedPacket", errs[0])
	}
}

func TestDecodeBody_EmptyBody(t *testing.T) {
	readings, errs := DecodeBody("", "h2")
	if len(readings) != 0 || len(errs) != 0 {
		t.Errorf("empty body: got %d readings, %d errors, want none", len(readings), len(errs))
	}
}

func TestParsePing(t *testing.T) {
	ids := ParsePing("741459|741460|98\r\n")
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	if ids[0] != "741459" || ids[2] != "98" {
		t.Errorf("unexpected ids: %v", ids)
	}
}
