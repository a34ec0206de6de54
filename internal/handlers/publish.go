package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/visoredkon/chronicleweaver/internal/metrics"
	"github.com/visoredkon/chronicleweaver/internal/models"
)

// Broker is the queue side of the ingestion path.
type Broker interface {
	Push(ctx context.Context, event *models.Event) error
}

// AuditLogger records event state transitions from the ingestion path.
type AuditLogger interface {
	LogAudit(ctx context.Context, eventID, topic, source string, action models.AuditAction, workerID *int) error
}

// PublishEvents accepts a batch of events. Per event it writes a RECEIVED
// audit record, pushes to the broker, then writes QUEUED, in that order.
// Empty batches are accepted and produce no side effects. A malformed body
// is rejected with 422 before any side effect; any infrastructure failure
// aborts the batch with 500 without rolling back progress already made.
func PublishEvents(queue Broker, audit AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		ctx := r.Context()
		for i := range req.Events {
			event := &req.Events[i]

			if err := audit.LogAudit(ctx, event.EventID, event.Topic, event.Source,
				models.ActionReceived, nil); err != nil {
				log.Printf("Failed to publish events: %v", err)
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to publish events: %v", err))
				return
			}

			if err := queue.Push(ctx, event); err != nil {
				log.Printf("Failed to publish events: %v", err)
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to publish events: %v", err))
				return
			}

			if err := audit.LogAudit(ctx, event.EventID, event.Topic, event.Source,
				models.ActionQueued, nil); err != nil {
				log.Printf("Failed to publish events: %v", err)
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to publish events: %v", err))
				return
			}
		}

		metrics.EventsPublished.Add(float64(len(req.Events)))
		metrics.PublishBatchSize.Observe(float64(len(req.Events)))
		log.Printf("Published %d events to queue", len(req.Events))

		writeJSON(w, http.StatusOK, models.PublishResponse{
			Status:      "success",
			Message:     fmt.Sprintf("Published %d events", len(req.Events)),
			EventsCount: len(req.Events),
		})
	}
}
