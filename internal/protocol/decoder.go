// Package protocol decodes the pipe-delimited text packets posted by legacy
// Efergy energy hubs. The protocol has no formal specification; the grammar
// here is what has been observed from real h2/h3 hubs:
//
//	<sensor_id>|<aux_port>|<channel_tag>|P<n>,<watts>[|<rssi>]
//
// A body may carry several packets separated by CRLF. Decoding is stateless
// and has no side effects.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/afroash/hub-server/internal/models"
)

// ErrMalformedPacket reports a line that could not be decoded. Callers are
// expected to log and acknowledge anyway; the hub cannot be debugged from
// this side and must not be provoked into retry storms.
var ErrMalformedPacket = errors.New("malformed packet")

// ErrSkipLine reports a line that is well-formed but carries no CT power
// reading: hub status lines (sensor id "0") and EFMS multi-metric packets.
var ErrSkipLine = errors.New("line carries no power reading")

// hub status lines use sensor id "0"
const statusSensorID = "0"

// DecodeBody splits a request body into CRLF-separated lines and decodes
// each one. Malformed lines are collected as errors but do not abort the
// remaining lines; skipped lines (status, EFMS) produce neither a reading
// nor an error.
func DecodeBody(body, hubVersion string) ([]*models.Reading, []error) {
	var (
		readings []*models.Reading
		errs     []error
	)
	for _, line := range strings.Split(body, "\r\n") {
		if line == "" {
			continue
		}
		reading, err := DecodeLine(line, hubVersion)
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		readings = append(readings, reading)
	}
	return readings, errs
}

// DecodeLine decodes a single pipe-delimited packet line.
func DecodeLine(line, hubVersion string) (*models.Reading, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: expected at least 4 fields, got %d", ErrMalformedPacket, len(fields))
	}

	sensorID := strings.TrimSpace(fields[0])
	if sensorID == "" {
		return nil, fmt.Errorf("%w: empty sensor id", ErrMalformedPacket)
	}
	if sensorID == statusSensorID {
		return nil, fmt.Errorf("%w: hub status line", ErrSkipLine)
	}

	channelTag := fields[2]
	if strings.HasPrefix(strings.ToUpper(channelTag), "EFMS") {
		// Multi-metric transmitter (M,<v>&T,<v>&L,<v>); not a CT power channel.
		return nil, fmt.Errorf("%w: EFMS multi-metric packet", ErrSkipLine)
	}

	watts, err := parsePayload(fields[3])
	if err != nil {
		return nil, err
	}

	raw := map[string]string{
		"aux_port":    fields[1],
		"channel_tag": channelTag,
	}
	// Some h3 packets append the transmitter RSSI after a fifth pipe.
	// Kept opaque: the field is unconfirmed, like aux_port and channel_tag.
	if len(fields) >= 5 && fields[4] != "" {
		raw["rssi"] = fields[4]
	}

	return &models.Reading{
		SensorID:   sensorID,
		HubVersion: hubVersion,
		PowerWatts: watts,
		Raw:        raw,
	}, nil
}

// parsePayload decodes the "P<n>,<watts>" payload field. The port index is
// validated but discarded: identity comes from the sensor id alone. The
// value is everything after the first comma and must parse in full as a
// finite non-negative float; any trailing content (a second group, stray
// separators) rejects the whole line rather than being silently dropped.
func parsePayload(payload string) (float64, error) {
	port, value, ok := strings.Cut(payload, ",")
	if !ok {
		return 0, fmt.Errorf("%w: payload %q has no comma", ErrMalformedPacket, payload)
	}
	if !validPortPrefix(port) {
		return 0, fmt.Errorf("%w: payload prefix %q does not match P<n>", ErrMalformedPacket, port)
	}
	watts, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: payload value %q: %v", ErrMalformedPacket, value, err)
	}
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		return 0, fmt.Errorf("%w: payload value %q is not finite", ErrMalformedPacket, value)
	}
	if watts < 0 {
		return 0, fmt.Errorf("%w: negative power %v", ErrMalformedPacket, watts)
	}
	return watts, nil
}

// validPortPrefix reports whether s matches P<digits>.
func validPortPrefix(s string) bool {
	if len(s) < 2 || s[0] != 'P' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParsePing decodes an application/eh-ping body, a pipe-separated list of
// sensor ids the hub can currently hear.
func ParsePing(body string) []string {
	var ids []string
	for _, id := range strings.Split(strings.TrimSpace(body), "|") {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
