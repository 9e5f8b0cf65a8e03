package topics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseState decodes a power state. Plain ON/OFF is the wire format; the
// JSON form {"state":"ON"} sent by some firmware is accepted as well.
func ParseState(payload []byte) (bool, error) {
	text := strings.TrimSpace(string(payload))

	if strings.HasPrefix(text, "{") {
		var body struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		text = body.State
	}

	switch strings.ToUpper(text) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("%w: state %q", ErrInvalidPayload, text)
	}
}

// ParseBinary treats 1, true and ON as active. Anything else is inactive.
func ParseBinary(payload []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on":
		return true
	default:
		return false
	}
}

// ParseReading decodes a setting or telemetry payload. Non-numeric payloads
// are kept as raw tokens.
func ParseReading(ch Channel, payload []byte, at time.Time) Reading {
	raw := strings.TrimSpace(string(payload))
	r := Reading{Channel: ch.Name, Kind: ch.Kind, Raw: raw, At: at}

	if ch.Kind == KindBinary {
		r.Numeric = true
		if ParseBinary(payload) {
			r.Value = 1
		}
		return r
	}

	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		r.Value = v
		r.Numeric = true
	}
	return r
}

// FormatValue renders a setting value the way devices expect it.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
