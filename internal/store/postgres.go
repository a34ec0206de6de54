package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/visoredkon/chronicleweaver/internal/models"
)

// Store is the durable event store: unique processed events, a singleton
// stats row of monotonic counters, and an append-only audit log. It is
// the sole authority for "has this event been processed?".
type Store struct {
	db          *sql.DB
	startTime   time.Time
	initialized bool
}

// NewStore opens a bounded connection pool against Postgres.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS processed_events (
		id SERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		source TEXT NOT NULL,
		payload JSONB NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE (topic, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stats (
		id INTEGER PRIMARY KEY DEFAULT 1,
		received BIGINT NOT NULL DEFAULT 0,
		duplicated_dropped BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id SERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		worker_id INTEGER,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_topic ON processed_events(topic)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event_id, topic)`,
	`INSERT INTO stats (id, received, duplicated_dropped)
		VALUES (1, 0, 0)
		ON CONFLICT (id) DO NOTHING`,
}

// Initialize creates the schema if it does not exist and seeds the stats
// row. Idempotent; must be called before any other operation.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}

	s.startTime = time.Now()
	s.initialized = true
	log.Printf("Database initialized successfully")
	return nil
}

func (s *Store) ensureInitialized() error {
	if !s.initialized {
		return fmt.Errorf("store not initialized")
	}
	return nil
}

// InsertEvent attempts to persist the event, deduplicating on
// (topic, event_id). The insert, the counter update, and the audit append
// run in one transaction so counters and audit entries never diverge from
// the store. Returns true iff a new row was written.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event, workerID *int) (bool, error) {
	if err := s.ensureInitialized(); err != nil {
		return false, err
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("Warning: failed to rollback: %v", err)
		}
	}()

	var insertedID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO processed_events (event_id, topic, source, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, event_id) DO NOTHING
		RETURNING id`,
		event.EventID, event.Topic, event.Source, payload, event.Timestamp,
	).Scan(&insertedID)

	unique := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	action := models.ActionProcessed
	if unique {
		_, err = tx.ExecContext(ctx, `
			UPDATE stats
			SET received = received + 1, updated_at = NOW()
			WHERE id = 1`)
	} else {
		action = models.ActionDropped
		_, err = tx.ExecContext(ctx, `
			UPDATE stats
			SET received = received + 1, duplicated_dropped = duplicated_dropped + 1, updated_at = NOW()
			WHERE id = 1`)
	}
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, topic, source, action, worker_id)
		VALUES ($1, $2, $3, $4, $5)`,
		event.EventID, event.Topic, event.Source, string(action), workerID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return unique, nil
}

// LogAudit appends one audit record. Independent of event presence: the
// ingestion path writes RECEIVED and QUEUED before the event is persisted,
// and FAILED records describe inserts that never happened.
func (s *Store) LogAudit(ctx context.Context, eventID, topic, source string, action models.AuditAction, workerID *int) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, topic, source, action, worker_id)
		VALUES ($1, $2, $3, $4, $5)`,
		eventID, topic, source, string(action), workerID)
	return err
}

const eventColumns = "event_id, topic, source, payload, timestamp"

// GetEventsByTopic returns the persisted events for one topic, newest
// producer timestamp first.
func (s *Store) GetEventsByTopic(ctx context.Context, topic string) ([]models.Event, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM processed_events
		WHERE topic = $1
		ORDER BY timestamp DESC`, topic)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// GetAllEvents returns every persisted event, newest producer timestamp first.
func (s *Store) GetAllEvents(ctx context.Context) ([]models.Event, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM processed_events
		ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var payload []byte
		if err := rows.Scan(&event.EventID, &event.Topic, &event.Source, &payload, &event.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetStats reads the counters and derives unique_processed from a fresh
// count of processed_events.
func (s *Store) GetStats(ctx context.Context) (*models.StatsResponse, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	stats := &models.StatsResponse{
		Topics: []string{},
		Uptime: int64(time.Since(s.startTime).Seconds()),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT received, duplicated_dropped FROM stats WHERE id = 1`,
	).Scan(&stats.Received, &stats.DuplicatedDropped)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM processed_events`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		stats.Topics = append(stats.Topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events`,
	).Scan(&stats.UniqueProcessed); err != nil {
		return nil, err
	}

	return stats, nil
}

// GetAuditLogs returns audit records matching the filter, newest first.
// A limit above 1000 is capped at 1000; zero or negative means the
// default of 100.
func (s *Store) GetAuditLogs(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Action != "" {
		addCondition("action = $%d", filter.Action)
	}
	if filter.Topic != "" {
		addCondition("topic = $%d", filter.Topic)
	}
	if filter.EventID != "" {
		addCondition("event_id = $%d", filter.EventID)
	}
	if filter.From != nil {
		addCondition("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("created_at <= $%d", *filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := "SELECT id, event_id, topic, source, action, worker_id, created_at FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	records := []models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var workerID sql.NullInt32
		var action string
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Source, &action, &workerID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Action = models.AuditAction(action)
		if workerID.Valid {
			id := int(workerID.Int32)
			rec.WorkerID = &id
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetAuditSummary aggregates the audit log: totals by action, per-topic
// counts, and per-worker counts. The worker dimension is restricted to
// non-null workers, which excludes the pre-queue RECEIVED/QUEUED records
// by construction.
func (s *Store) GetAuditSummary(ctx context.Context) (*models.AuditSummary, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	summary := &models.AuditSummary{
		ByTopic:  map[string]models.AuditActionCounts{},
		ByWorker: map[string]models.AuditActionCounts{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) as count FROM audit_log GROUP BY action`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			closeRows(rows)
			return nil, err
		}
		switch models.AuditAction(action) {
		case models.ActionReceived:
			summary.TotalReceived = count
		case models.ActionQueued:
			summary.TotalQueued = count
		case models.ActionProcessed:
			summary.TotalProcessed = count
		case models.ActionDropped:
			summary.TotalDropped = count
		case models.ActionFailed:
			summary.TotalFailed = count
		}
	}
	if err := finishRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT topic, action, COUNT(*) as count FROM audit_log GROUP BY topic, action`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var topic, action string
		var count int64
		if err := rows.Scan(&topic, &action, &count); err != nil {
			closeRows(rows)
			return nil, err
		}
		counts := summary.ByTopic[topic]
		applyActionCount(&counts, models.AuditAction(action), count)
		summary.ByTopic[topic] = counts
	}
	if err := finishRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT worker_id, action, COUNT(*) as count
		FROM audit_log
		WHERE worker_id IS NOT NULL
		GROUP BY worker_id, action`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var workerID int
		var action string
		var count int64
		if err := rows.Scan(&workerID, &action, &count); err != nil {
			closeRows(rows)
			return nil, err
		}
		key := fmt.Sprintf("%d", workerID)
		counts := summary.ByWorker[key]
		switch models.AuditAction(action) {
		case models.ActionProcessed:
			counts.Processed = count
		case models.ActionDropped:
			counts.Dropped = count
		case models.ActionFailed:
			counts.Failed = count
		}
		summary.ByWorker[key] = counts
	}
	if err := finishRows(rows); err != nil {
		return nil, err
	}

	return summary, nil
}

func applyActionCount(counts *models.AuditActionCounts, action models.AuditAction, count int64) {
	switch action {
	case models.ActionReceived:
		counts.Received = count
	case models.ActionQueued:
		counts.Queued = count
	case models.ActionProcessed:
		counts.Processed = count
	case models.ActionDropped:
		counts.Dropped = count
	case models.ActionFailed:
		counts.Failed = count
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("Warning: failed to close rows: %v", err)
	}
}

func finishRows(rows *sql.Rows) error {
	err := rows.Err()
	closeRows(rows)
	return err
}
