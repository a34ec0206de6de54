package main

// Publisher generates synthetic event load against the aggregator to
// exercise deduplication under volume. A configurable fraction of events
// are duplicates of earlier ones in the same run.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	maxRetries = 5
	maxBackoff = 30 * time.Second
)

type eventPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type event struct {
	EventID   string       `json:"event_id"`
	Topic     string       `json:"topic"`
	Source    string       `json:"source"`
	Payload   eventPayload `json:"payload"`
	Timestamp string       `json:"timestamp"`
}

type publishRequest struct {
	Events []event `json:"events"`
}

func main() {
	aggregatorURL := getEnv("AGGREGATOR_URL", "http://localhost:8080")
	eventCount := getEnvInt("EVENT_COUNT", 20000)
	duplicateRatio := getEnvFloat("DUPLICATE_RATIO", 0.3)
	batchSize := getEnvInt("BATCH_SIZE", 1000)

	url := aggregatorURL + "/publish"

	log.Printf("Publisher starting stress test: %d events, %.0f%% duplicates, batch size %d",
		eventCount, duplicateRatio*100, batchSize)

	events := generateTestEvents(eventCount, duplicateRatio)

	start := time.Now()
	totalSent := 0
	failedBatches := 0

	for i := 0; i < len(events); i += batchSize {
		end := i + batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[i:end]

		status, body, err := postWithRetry(url, publishRequest{Events: batch})
		if err == nil && status == http.StatusOK {
			totalSent += len(batch)
			log.Printf("Batch %d: Sent %d events", i/batchSize+1, len(batch))
		} else {
			failedBatches++
			log.Printf("Batch %d failed: status=%d body=%s err=%v", i/batchSize+1, status, body, err)
		}

		time.Sleep(100 * time.Millisecond)
	}

	elapsed := time.Since(start)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(totalSent) / elapsed.Seconds()
	}

	log.Printf("Stress test completed: sent %d/%d events in %.2fs (%.2f events/s), %d failed batches",
		totalSent, len(events), elapsed.Seconds(), throughput, failedBatches)
}

// generateTestEvents builds count events across 5 topics; the trailing
// duplicateRatio fraction repeats earlier (topic, event_id) pairs with
// fresh payloads. Event ids are namespaced by a run id so consecutive
// runs do not dedup against each other.
func generateTestEvents(count int, duplicateRatio float64) []event {
	runID := uuid.NewString()[:8]
	uniqueCount := int(float64(count) * (1 - duplicateRatio))
	duplicateCount := count - uniqueCount

	events := make([]event, 0, count)
	for i := 0; i < uniqueCount; i++ {
		now := time.Now().Format(time.RFC3339Nano)
		events = append(events, event{
			EventID: fmt.Sprintf("publisher-%s-event-%d", runID, i),
			Topic:   fmt.Sprintf("topic-%d", i%5),
			Source:  "publisher-service",
			Payload: eventPayload{
				Message:   fmt.Sprintf("Message from publisher %d", i),
				Timestamp: now,
			},
			Timestamp: now,
		})
	}

	for i := 0; i < duplicateCount; i++ {
		if len(events) == 0 {
			break
		}
		original := events[i%len(events)]
		now := time.Now().Format(time.RFC3339Nano)
		events = append(events, event{
			EventID: original.EventID,
			Topic:   original.Topic,
			Source:  original.Source,
			Payload: eventPayload{
				Message:   fmt.Sprintf("Duplicate message %d", i),
				Timestamp: now,
			},
			Timestamp: now,
		})
	}

	return events
}

// postWithRetry posts the batch with capped exponential backoff. HTTP
// error statuses are returned to the caller without retrying; only
// transport failures back off.
func postWithRetry(url string, req publishRequest) (int, string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return 0, "", err
	}

	client := &http.Client{Timeout: 30 * time.Second}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := client.Post(url, "application/json", bytes.NewReader(data))
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.Printf("Warning: failed to close response body: %v", closeErr)
			}
			if readErr != nil {
				return resp.StatusCode, "", readErr
			}
			return resp.StatusCode, string(body), nil
		}

		lastErr = err
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		log.Printf("Request failed (attempt %d/%d): %v, retrying in %s", attempt, maxRetries, err, backoff)

		if attempt < maxRetries {
			time.Sleep(backoff)
		}
	}

	log.Printf("All %d attempts failed", maxRetries)
	return 0, "", lastErr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
