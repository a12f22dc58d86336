package transmit

import (
	"encoding/json"
	"time"
)

// Default topics for the MQTT transport.
const (
	DefaultTopic       = "home/doorwatch/readings"
	DefaultSystemTopic = "home/doorwatch/system"
)

// Payload is the MQTT message envelope for a reading.
type Payload struct {
	Reading ReadingPayload `json:"reading"`
}

// ReadingPayload contains the reading details.
type ReadingPayload struct {
	Timestamp string  `json:"timestamp"`
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
}

// FormatPayload creates the JSON payload for a reading.
func FormatPayload(r Reading) ([]byte, error) {
	payload := Payload{
		Reading: ReadingPayload{
			Timestamp: r.At.UTC().Format(time.RFC3339),
			Category:  r.Category,
			Value:     r.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message envelope for lifecycle events that
// don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a lifecycle event. If
// ev.RawPayload is set it is returned directly, which is how full status
// snapshots ride the system channel.
func FormatSystemPayload(ev SystemEvent) ([]byte, error) {
	if ev.RawPayload != nil {
		return ev.RawPayload, nil
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			Event:     ev.Event,
			Reason:    ev.Reason,
		},
	}
	return json.Marshal(payload)
}
