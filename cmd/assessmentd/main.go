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
	"github.com/darrenak403/beyond8-server-sub001/internal/config"
	"github.com/darrenak403/beyond8-server-sub001/internal/db"
	"github.com/darrenak403/beyond8-server-sub001/internal/httpapi"
	"github.com/darrenak403/beyond8-server-sub001/internal/outbox"
	"github.com/darrenak403/beyond8-server-sub001/internal/quiz"
	"github.com/darrenak403/beyond8-server-sub001/internal/rbac"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.AssessmentDBDriver), cfg.AssessmentDBDSN, db.SchemaAssessment)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := quiz.NewSQLStore(dbh)
	svc := quiz.NewService(store, cfg.EnforceTimeLimit)

	// --- Outbox relay ---
	relay := outbox.NewRelay(outbox.NewRepo(dbh), cfg.LearningIngestURL,
		time.Duration(cfg.RelayTimeoutSec)*time.Second)
	sched, err := relay.Start(cfg.RelaySchedule)
	if err != nil {
		log.Fatalf("relay start failed: %v", err)
	}

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	// Protected API (JWT -> role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("quiz:create")).
			Post("/quizzes", httpapi.CreateQuizHandler(store))
		pr.With(rbac.Require("quiz:view")).
			Get("/quizzes/{quizID}", httpapi.GetQuizHandler(store))

		pr.With(rbac.Require("attempt:create")).
			Post("/quizzes/{quizID}/attempts", httpapi.StartAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/quizzes/{quizID}/attempts", httpapi.ListAttemptsHandler(svc))

		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/autosave", httpapi.AutoSaveHandler(svc))
		pr.With(rbac.Require("attempt:save")).
			Post("/attempts/{attemptID}/flag", httpapi.FlagQuestionHandler(svc))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", httpapi.SubmitAttemptHandler(svc))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}/result", httpapi.AttemptResultHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	srv := &http.Server{Addr: cfg.AssessmentAddr, Handler: r}
	go func() {
		log.Printf("assessmentd listening on %s", cfg.AssessmentAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sched.Stop()
	_ = srv.Shutdown(shutdownCtx)
}
