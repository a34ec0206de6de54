package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the unit of ingestion. Dedup is keyed on (topic, event_id);
// the same event_id may exist under different topics.
type Event struct {
	EventID   string       `json:"event_id"`
	Topic     string       `json:"topic"`
	Source    string       `json:"source"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventPayload carries a required message and timestamp plus any extra
// fields the producer attached. Extra fields round-trip verbatim.
type EventPayload struct {
	Message   string
	Timestamp time.Time
	Extra     map[string]json.RawMessage
}

// MarshalJSON flattens the typed shell and the extra fields into one object.
func (p EventPayload) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(p.Extra)+2)
	for k, v := range p.Extra {
		fields[k] = v
	}

	msg, err := json.Marshal(p.Message)
	if err != nil {
		return nil, err
	}
	fields["message"] = msg

	ts, err := json.Marshal(p.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	fields["timestamp"] = ts

	return json.Marshal(fields)
}

// UnmarshalJSON splits the object into the typed shell and the extras.
func (p *EventPayload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	raw, ok := fields["message"]
	if !ok {
		return fmt.Errorf("payload.message is required")
	}
	if err := json.Unmarshal(raw, &p.Message); err != nil {
		return fmt.Errorf("payload.message: %w", err)
	}
	delete(fields, "message")

	raw, ok = fields["timestamp"]
	if !ok {
		return fmt.Errorf("payload.timestamp is required")
	}
	var tsStr string
	if err := json.Unmarshal(raw, &tsStr); err != nil {
		return fmt.Errorf("payload.timestamp: %w", err)
	}
	ts, err := ParseTimestamp(tsStr)
	if err != nil {
		return fmt.Errorf("payload.timestamp: %w", err)
	}
	p.Timestamp = ts
	delete(fields, "timestamp")

	if len(fields) > 0 {
		p.Extra = fields
	} else {
		p.Extra = nil
	}
	return nil
}

// eventWire mirrors Event with a string timestamp so producers may send
// ISO-8601 instants with or without a zone offset.
type eventWire struct {
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON serialises the event timestamp as an ISO-8601 string.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventWire{
		EventID:   e.EventID,
		Topic:     e.Topic,
		Source:    e.Source,
		Payload:   payload,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON validates required fields and parses timestamps. Presence
// is checked on the raw object: every key must exist, but topic may be
// empty (the empty string is a valid dedup scope).
func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, key := range []string{"event_id", "topic", "source", "payload", "timestamp"} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("%s is required", key)
		}
	}

	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ts, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}

	var payload EventPayload
	if err := json.Unmarshal(wire.Payload, &payload); err != nil {
		return err
	}

	e.EventID = wire.EventID
	e.Topic = wire.Topic
	e.Source = wire.Source
	e.Payload = payload
	e.Timestamp = ts
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 instants with or without a zone offset.
// Offset-less instants are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}

// PublishRequest is the body of POST /publish.
type PublishRequest struct {
	Events []Event `json:"events"`
}

// PublishResponse acknowledges an accepted batch.
type PublishResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	EventsCount int    `json:"events_count"`
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Count  int     `json:"count"`
	Events []Event `json:"events"`
}

// StatsResponse is the body of GET /stats. UniqueProcessed is computed
// from the event table at read time, never stored.
type StatsResponse struct {
	Received          int64    `json:"received"`
	UniqueProcessed   int64    `json:"unique_processed"`
	DuplicatedDropped int64    `json:"duplicated_dropped"`
	Topics            []string `json:"topics"`
	Uptime            int64    `json:"uptime"`
}
