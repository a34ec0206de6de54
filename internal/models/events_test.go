package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventUnmarshalValid(t *testing.T) {
	body := `{
		"event_id": "e1",
		"topic": "orders",
		"source": "checkout",
		"payload": {"message": "created", "timestamp": "2025-01-01T00:00:00Z", "region": "eu"},
		"timestamp": "2025-01-01T00:00:01Z"
	}`

	var event Event
	require.NoError(t, json.Unmarshal([]byte(body), &event))

	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, "orders", event.Topic)
	assert.Equal(t, "checkout", event.Source)
	assert.Equal(t, "created", event.Payload.Message)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC), event.Timestamp.UTC())

	region, ok := event.Payload.Extra["region"]
	require.True(t, ok)
	assert.Equal(t, `"eu"`, string(region))
}

func TestEventUnmarshalAllowsEmptyTopic(t *testing.T) {
	body := `{
		"event_id": "e1",
		"topic": "",
		"source": "s",
		"payload": {"message": "m", "timestamp": "2025-01-01T00:00:00Z"},
		"timestamp": "2025-01-01T00:00:00Z"
	}`

	var event Event
	require.NoError(t, json.Unmarshal([]byte(body), &event))
	assert.Equal(t, "", event.Topic)
}

func TestEventUnmarshalMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing event_id":          `{"topic":"t","source":"s","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"missing topic":             `{"event_id":"e","source":"s","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"null topic":                `{"event_id":"e","topic":null,"source":"s","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"missing source":            `{"event_id":"e","topic":"t","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"missing timestamp":         `{"event_id":"e","topic":"t","source":"s","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"}}`,
		"missing payload":           `{"event_id":"e","topic":"t","source":"s","timestamp":"2025-01-01T00:00:00Z"}`,
		"missing payload message":   `{"event_id":"e","topic":"t","source":"s","payload":{"timestamp":"2025-01-01T00:00:00Z"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"missing payload timestamp": `{"event_id":"e","topic":"t","source":"s","payload":{"message":"m"},"timestamp":"2025-01-01T00:00:00Z"}`,
		"bad timestamp":             `{"event_id":"e","topic":"t","source":"s","payload":{"message":"m","timestamp":"2025-01-01T00:00:00Z"},"timestamp":"not-a-time"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var event Event
			assert.Error(t, json.Unmarshal([]byte(body), &event))
		})
	}
}

func TestEventPayloadRoundTripKeepsExtras(t *testing.T) {
	body := `{"message":"m","timestamp":"2025-01-01T00:00:00Z","level":"warn","attempt":3}`

	var payload EventPayload
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	out, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, `"warn"`, string(decoded["level"]))
	assert.Equal(t, `3`, string(decoded["attempt"]))
	assert.Equal(t, `"m"`, string(decoded["message"]))
}

func TestParseTimestampVariants(t *testing.T) {
	for _, input := range []string{
		"2025-01-01T00:00:00Z",
		"2025-01-01T00:00:00+07:00",
		"2025-01-01T00:00:00.123456Z",
		"2025-01-01T00:00:00",
	} {
		_, err := ParseTimestamp(input)
		assert.NoError(t, err, input)
	}

	_, err := ParseTimestamp("january first")
	assert.Error(t, err)
}

func TestEventMarshalTimestampISO(t *testing.T) {
	event := Event{
		EventID: "e1",
		Topic:   "t",
		Source:  "s",
		Payload: EventPayload{
			Message:   "m",
			Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Timestamp: time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC),
	}

	out, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, `"2025-01-01T12:30:00Z"`, string(decoded["timestamp"]))

	var roundTrip Event
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.True(t, roundTrip.Timestamp.Equal(event.Timestamp))
}

func TestValidAuditAction(t *testing.T) {
	for _, action := range []string{"RECEIVED", "QUEUED", "PROCESSED", "DROPPED", "FAILED"} {
		assert.True(t, ValidAuditAction(action))
	}
	assert.False(t, ValidAuditAction("received"))
	assert.False(t, ValidAuditAction("PURGED"))
}
