package web

import (
	"encoding/json"
	"time"

	"doorwatch/internal/journal"
)

// EventsJSON is the JSON envelope for the events endpoint.
type EventsJSON struct {
	Events []EventJSON `json:"events"`
}

// EventJSON is one journalled emission.
type EventJSON struct {
	Timestamp string  `json:"timestamp"`
	Category  string  `json:"category"`
	Value     float64 `json:"value"`
	Detail    string  `json:"detail"`
}

func formatEvents(entries []journal.Entry) []byte {
	events := make([]EventJSON, 0, len(entries))
	for _, e := range entries {
		events = append(events, EventJSON{
			Timestamp: e.At.UTC().Format(time.RFC3339),
			Category:  e.Category,
			Value:     e.Value,
			Detail:    e.Detail,
		})
	}

	data, _ := json.MarshalIndent(EventsJSON{Events: events}, "", "  ")
	return data
}
