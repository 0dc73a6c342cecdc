// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapboard/tapboard/internal/aggregate"
	"github.com/tapboard/tapboard/internal/broadcast"
	"github.com/tapboard/tapboard/internal/config"
	"github.com/tapboard/tapboard/internal/database"
	"github.com/tapboard/tapboard/internal/handler"
	"github.com/tapboard/tapboard/internal/repository"
	"github.com/tapboard/tapboard/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("database: %v", err)
	}
	log.Println("✓ Connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	store := repository.Store{
		Ledger:       repository.NewLedgerRepository(pool),
		Barrels:      repository.NewBarrelRepository(pool),
		Events:       repository.NewEventRepository(pool),
		Participants: repository.NewParticipantRepository(pool),
		Stats:        repository.NewStatsRepository(pool),
	}
	agg := aggregate.New(store.Stats)
	bcast := broadcast.New(agg)
	go bcast.Run(ctx)
	svc := service.New(store, bcast)
	h := handler.New(svc, agg, bcast)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // permissive CORS for the viewer frontends

	// Health & metrics
	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/activate", h.ActivateEvent)
		r.Post("/{id}/barrels", h.TapBarrel)
		r.Get("/{id}/barrels", h.ListBarrels)
		r.Post("/{id}/participants/{pid}", h.JoinEvent)
		r.Post("/{id}/participants/{pid}/consumptions", h.AddConsumption)
		r.Delete("/{id}/participants/{pid}/consumptions/last", h.RemoveLastConsumption)
		r.Get("/{id}/participants/{pid}/consumptions/count", h.CountFor)
		r.Get("/{id}/leaderboard", h.Leaderboard)
		r.Get("/{id}/dashboard", h.EventDashboard)
		r.Get("/{id}/live", h.Live)
	})
	r.Route("/participants", func(r chi.Router) {
		r.Post("/", h.CreateParticipant)
		r.Get("/", h.ListParticipants)
		r.Get("/{id}", h.GetParticipant)
		r.Post("/{id}/rebuild", h.RebuildTotals)
		r.Post("/{id}/consumptions", h.AddConsumption)
		r.Delete("/{id}/consumptions/last", h.RemoveLastConsumption)
	})
	r.Delete("/barrels/{id}", h.DeleteBarrel)
	r.Get("/dashboard", h.GlobalDashboard)
	r.Get("/public/stats", h.PublicStats)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	// No WriteTimeout: the live WebSocket feed holds its connection open.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
