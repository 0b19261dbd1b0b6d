package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries the settings of both service daemons; each binary reads
// the slice it needs.
type Config struct {
	AssessmentAddr string
	LearningAddr   string

	// each boundary owns its database; no sharing
	AssessmentDBDriver string
	AssessmentDBDSN    string
	LearningDBDriver   string
	LearningDBDSN      string

	AuthSecret string

	// outbox relay: cron spec with seconds field, and where to deliver
	RelaySchedule     string
	LearningIngestURL string
	RelayTimeoutSec   int

	// hard time limit: when set, an overdue submit expires instead of
	// grading (the default keeps the lenient soft limit)
	EnforceTimeLimit bool

	QuizThreshold       float64
	AssignmentThreshold float64

	CORSOrigins []string
}

// FromEnv loads .env when present, then reads the environment.
func FromEnv() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
	return Config{
		AssessmentAddr: envOr("ASSESSMENT_ADDR", ":8080"),
		LearningAddr:   envOr("LEARNING_ADDR", ":8081"),

		AssessmentDBDriver: envOr("ASSESSMENT_DB_DRIVER", "sqlite"),
		AssessmentDBDSN:    os.Getenv("ASSESSMENT_DB_DSN"),
		LearningDBDriver:   envOr("LEARNING_DB_DRIVER", "sqlite"),
		LearningDBDSN:      os.Getenv("LEARNING_DB_DSN"),

		AuthSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),

		RelaySchedule:     envOr("RELAY_SCHEDULE", "@every 2s"),
		LearningIngestURL: envOr("LEARNING_INGEST_URL", "http://localhost:8081/internal/events"),
		RelayTimeoutSec:   envInt("RELAY_TIMEOUT_SEC", 10),

		EnforceTimeLimit: envBool("ENFORCE_TIME_LIMIT", false),

		QuizThreshold:       envFloat("CERT_QUIZ_THRESHOLD", 70),
		AssignmentThreshold: envFloat("CERT_ASSIGNMENT_THRESHOLD", 5),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("bad %s=%q, using %d", k, v, def)
		return def
	}
	return n
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("bad %s=%q, using %v", k, v, def)
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
