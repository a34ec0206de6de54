package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/visoredkon/chronicleweaver/internal/broker"
	"github.com/visoredkon/chronicleweaver/internal/config"
	"github.com/visoredkon/chronicleweaver/internal/consumer"
	"github.com/visoredkon/chronicleweaver/internal/handlers"
	"github.com/visoredkon/chronicleweaver/internal/metrics"
	"github.com/visoredkon/chronicleweaver/internal/store"
)

func main() {
	cfg := config.Load()

	log.Printf("🚀 Starting ChronicleWeaver aggregator on port %s", cfg.AppPort)

	// Initialize event store
	eventStore, err := store.NewStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := eventStore.Close(); err != nil {
			log.Printf("Warning: failed to close database: %v", err)
		}
	}()

	if err := eventStore.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// Initialize broker queue
	queue, err := broker.NewQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("Warning: failed to close Redis: %v", err)
		}
	}()

	// Start consumer workers
	pool := consumer.NewPool(queue, eventStore, cfg.WorkerCount)
	pool.Start()
	defer pool.Stop()

	// Sample queue depth for the metrics endpoint
	depthCtx, stopDepth := context.WithCancel(context.Background())
	defer stopDepth()
	go sampleQueueDepth(depthCtx, queue)

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(metrics.MetricsMiddleware)

	router.HandleFunc("/", handlers.Root).Methods("GET")
	router.HandleFunc("/publish", handlers.PublishEvents(queue, eventStore)).Methods("POST")
	router.HandleFunc("/events", handlers.GetEvents(eventStore)).Methods("GET")
	router.HandleFunc("/stats", handlers.GetStats(eventStore)).Methods("GET")
	router.HandleFunc("/audit", handlers.GetAuditLogs(eventStore)).Methods("GET")
	router.HandleFunc("/audit/summary", handlers.GetAuditSummary(eventStore)).Methods("GET")
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/ready", handlers.ReadyCheck(eventStore)).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      corsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	log.Printf("ChronicleWeaver aggregator started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Aggregator shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP server shutdown failed: %v", err)
	}
}

// sampleQueueDepth refreshes the queue depth gauge until ctx is cancelled.
func sampleQueueDepth(ctx context.Context, queue *broker.Queue) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := queue.Length(ctx)
			if err != nil {
				continue
			}
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}
