package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"healthcare-followup/internal/channel"
	"healthcare-followup/internal/config"
	"healthcare-followup/internal/conversation"
	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/llm"
	"healthcare-followup/internal/notify"
	"healthcare-followup/internal/patient"
	"healthcare-followup/internal/report"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	// 1. Patient database. The service runs without one, falling back to
	// the in-memory seed repository.
	patients := patient.Repository(patient.NewMemoryRepository())
	if cfg.DatabaseURL != "" {
		db, err := connectDB(cfg.DatabaseURL, log)
		if err != nil {
			log.Warn("could not connect to patient database, using in-memory seed data", "error", err)
		} else {
			runMigrations(cfg, log)
			patients = patient.NewRepository(db)
			log.Info("connected to patient database")
		}
	} else {
		log.Info("no DATABASE_URL set, using in-memory seed patients")
	}

	// 2. External capabilities. Without an API key the deterministic mock
	// provider serves text generation and classification.
	var generator conversation.Generator
	var transcripts followup.TranscriptGenerator
	var classifier followup.OutcomeClassifier
	if cfg.LLMAPIKey != "" {
		client := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
		generator, transcripts, classifier = client, client, client
	} else {
		log.Warn("no LLM API key set, using mock responses")
		mock := llm.NewMock()
		generator, transcripts, classifier = mock, mock, mock
	}

	channels := channel.NewClient(cfg.ChannelServerURL, cfg.ChannelTimeout)

	var notifier followup.Notifier
	if cfg.DoctorWebhookURL != "" {
		notifier = notify.NewClient(cfg.DoctorWebhookURL)
	} else {
		log.Warn("DOCTOR_WEBHOOK_URL is not set, review notifications disabled")
	}

	// 3. Services.
	registry := followup.NewRegistry(followup.Deps{
		Channels:    channels,
		Transcripts: transcripts,
		Classifier:  classifier,
		Generator:   generator,
		MaxRounds:   cfg.MaxConversationRounds,
		Concurrency: cfg.ProcessConcurrency,
		Logger:      log,
	})
	handler := followup.NewHandler(registry, patients, notifier, report.NewService(), log)

	// 4. Router.
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		followup.RegisterRoutes(r, handler)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	log.Info("server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func connectDB(connStr string, log *slog.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			return db, nil
		}
		log.Info("waiting for patient database", "attempt", i+1)
		time.Sleep(2 * time.Second)
	}
	return nil, err
}

func runMigrations(cfg config.Config, log *slog.Logger) {
	m, err := migrate.New(cfg.MigrationsDir, cfg.DatabaseURL)
	if err != nil {
		log.Warn("migration init failed", "error", err)
		return
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Warn("migration up failed", "error", err)
		return
	}
	log.Info("migrations applied")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
