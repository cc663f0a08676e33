package gaugemux

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	EventTypeReading = "reading"
	EventTypeAck     = "ack"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// Reading is one measured value reported by a gauge channel.
type Reading struct {
	Channel int     `json:"channel"`
	Value   float64 `json:"value"`
}

// ParseReading parses a CSV reading line of the form "channel,value",
// e.g. "01,+12.0345". Leading zeros and an explicit sign are accepted.
func ParseReading(line string) (Reading, error) {
	channelPart, valuePart, found := strings.Cut(strings.TrimSpace(line), ",")
	if !found {
		return Reading{}, fmt.Errorf("not a reading line: %q", line)
	}
	channel, err := strconv.Atoi(strings.TrimSpace(channelPart))
	if err != nil {
		return Reading{}, fmt.Errorf("invalid channel in %q: %w", line, err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valuePart), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid value in %q: %w", line, err)
	}
	return Reading{Channel: channel, Value: value}, nil
}

// ClassifyPayload inspects a payload string and returns a simple event type
// token. The classification is intentionally conservative: a line that does
// not parse as a reading, acknowledgement or status object is reported
// unknown rather than guessed at.
func ClassifyPayload(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		return EventTypeStatus
	}
	if trimmed == "OK" || strings.HasPrefix(trimmed, "ER,") {
		return EventTypeAck
	}
	if _, err := ParseReading(trimmed); err == nil {
		return EventTypeReading
	}
	return EventTypeUnknown
}
