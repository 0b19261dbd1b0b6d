package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/darrenak403/beyond8-server-sub001/internal/auth"
	"github.com/darrenak403/beyond8-server-sub001/internal/certificate"
	"github.com/darrenak403/beyond8-server-sub001/internal/config"
	"github.com/darrenak403/beyond8-server-sub001/internal/db"
	"github.com/darrenak403/beyond8-server-sub001/internal/event"
	"github.com/darrenak403/beyond8-server-sub001/internal/httpapi"
	"github.com/darrenak403/beyond8-server-sub001/internal/progress"
	"github.com/darrenak403/beyond8-server-sub001/internal/rbac"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.LearningDBDriver), cfg.LearningDBDSN, db.SchemaLearning)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := progress.NewSQLStore(dbh)

	// --- Consumers ---
	engine := certificate.NewEngine(store, cfg.QuizThreshold, cfg.AssignmentThreshold)
	dispatcher := event.NewDispatcher()
	progress.NewAggregator(store, engine).Register(dispatcher)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Relay ingest. Not exposed publicly; deployments keep this behind
	// the service network.
	r.Post("/internal/events", httpapi.IngestEventsHandler(dispatcher))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.RequireAny("progress:view-own", "progress:view-all")).
			Get("/enrollments/{enrollmentID}/progress", httpapi.EnrollmentProgressHandler(store))
		pr.With(rbac.RequireAny("progress:view-own", "progress:view-all")).
			Get("/enrollments/{enrollmentID}/certificate", httpapi.EnrollmentCertificateHandler(store))
	})

	r.Get("/certificates/verify/{number}", httpapi.VerifyCertificateHandler(store))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	srv := &http.Server{Addr: cfg.LearningAddr, Handler: r}
	go func() {
		log.Printf("learningd listening on %s", cfg.LearningAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
