package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event            string       `json:"event,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	Mode             string       `json:"mode"`
	State            string       `json:"state"`
	Motion           string       `json:"motion"`
	Door             string       `json:"door"`
	WindowRemainingS float64      `json:"window_remaining_seconds"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	StartTime        string       `json:"start_time"`
	Timestamp        string       `json:"timestamp"`
	Link             LinkStatus   `json:"link"`
	Counts           CountsJSON   `json:"event_counts"`
	LastReading      *ReadingJSON `json:"last_reading,omitempty"`
	Config           ConfigJSON   `json:"config"`
}

// LinkStatus reports transport connection state.
type LinkStatus struct {
	Up      bool   `json:"up"`
	Backend string `json:"backend"`
	Target  string `json:"target"`
}

// CountsJSON is the JSON representation of emission counts.
type CountsJSON struct {
	Entries    int `json:"entries"`
	Exits      int `json:"exits"`
	Lapsed     int `json:"lapsed"`
	SensorIdle int `json:"sensor_idle"`
	Occupied   int `json:"occupied"`
	Freed      int `json:"freed"`
}

// ReadingJSON is the JSON representation of the last emission.
type ReadingJSON struct {
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
	Detail    string  `json:"detail"`
	Timestamp string  `json:"timestamp"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string `json:"mode"`
	WindowMs    int64  `json:"window_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Backend     string `json:"backend"`
	Target      string `json:"target"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}
	motion := string(snap.Motion)
	if motion == "" {
		motion = "UNKNOWN"
	}
	door := string(snap.Door)
	if door == "" {
		door = "UNKNOWN"
	}

	inner := StatusInner{
		Mode:             snap.Config.Mode,
		State:            state,
		Motion:           motion,
		Door:             door,
		WindowRemainingS: snap.WindowRemaining().Seconds(),
		UptimeSeconds:    int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:        snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:        snap.Now.UTC().Format(time.RFC3339),
		Link: LinkStatus{
			Up:      snap.LinkUp,
			Backend: snap.Config.Backend,
			Target:  snap.Config.Target,
		},
		Counts: CountsJSON{
			Entries:    snap.Traffic.Entries,
			Exits:      snap.Traffic.Exits,
			Lapsed:     snap.Traffic.Lapsed,
			SensorIdle: snap.Traffic.SensorIdle,
			Occupied:   snap.Occupancy.Occupied,
			Freed:      snap.Occupancy.Freed,
		},
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			WindowMs:    snap.Config.WindowMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Backend:     snap.Config.Backend,
			Target:      snap.Config.Target,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	if snap.LastReading != nil {
		inner.LastReading = &ReadingJSON{
			Category:  snap.LastReading.Category,
			Value:     snap.LastReading.Value,
			Detail:    snap.LastReading.Detail,
			Timestamp: snap.LastReading.At.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
