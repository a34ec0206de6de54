package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/visoredkon/chronicleweaver/internal/models"
)

// EventReader exposes the read-only projections over the event store.
type EventReader interface {
	GetEventsByTopic(ctx context.Context, topic string) ([]models.Event, error)
	GetAllEvents(ctx context.Context) ([]models.Event, error)
	GetStats(ctx context.Context) (*models.StatsResponse, error)
	GetAuditLogs(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
	GetAuditSummary(ctx context.Context) (*models.AuditSummary, error)
}

// GetEvents returns persisted events, optionally filtered by topic.
func GetEvents(store EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var events []models.Event
		var err error

		if topic, ok := r.URL.Query()["topic"]; ok {
			events, err = store.GetEventsByTopic(r.Context(), topic[0])
		} else {
			events, err = store.GetAllEvents(r.Context())
		}
		if err != nil {
			log.Printf("Failed to retrieve events: %v", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, models.EventsResponse{Count: len(events), Events: events})
	}
}

// GetStats returns the aggregate counters and derived figures.
func GetStats(store EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GetStats(r.Context())
		if err != nil {
			log.Printf("Failed to retrieve stats: %v", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

// GetAuditLogs returns audit records matching the query filters.
func GetAuditLogs(store EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseAuditFilter(r)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		logs, err := store.GetAuditLogs(r.Context(), filter)
		if err != nil {
			log.Printf("Failed to retrieve audit logs: %v", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve audit logs: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, models.AuditLogsResponse{Count: len(logs), AuditLogs: logs})
	}
}

func parseAuditFilter(r *http.Request) (models.AuditFilter, error) {
	query := r.URL.Query()
	filter := models.AuditFilter{
		Action:  query.Get("action"),
		Topic:   query.Get("topic"),
		EventID: query.Get("event_id"),
	}

	if filter.Action != "" && !models.ValidAuditAction(filter.Action) {
		return filter, fmt.Errorf("invalid action %q", filter.Action)
	}

	if from := query.Get("from"); from != "" {
		t, err := models.ParseTimestamp(from)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' timestamp: %v", err)
		}
		filter.From = &t
	}
	if to := query.Get("to"); to != "" {
		t, err := models.ParseTimestamp(to)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' timestamp: %v", err)
		}
		filter.To = &t
	}

	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return filter, fmt.Errorf("invalid limit %q", limit)
		}
		filter.Limit = n
	}

	return filter, nil
}

// GetAuditSummary returns the grouped audit counts.
func GetAuditSummary(store EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := store.GetAuditSummary(r.Context())
		if err != nil {
			log.Printf("Failed to retrieve audit summary: %v", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve audit summary: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// ReadyCheck probes the store; 503 until it answers.
func ReadyCheck(store EventReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.GetStats(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Service not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
