package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	GinMode           string
	FirebaseProjectID string
	DatabaseURL       string
	ValidatorType     string // "jwk" or "firebase"
	JWTJWKSURL        string
	FirebaseCredJSON  string
	FirestoreDatabase string

	// LLM providers. Keys are referenced from the catalog through api_key_env_var,
	// these copies are kept for startup warnings only.
	GeminiAPIKey     string
	PerplexityAPIKey string
	OpenRouterAPIKey string

	// Model catalog
	Catalog *CatalogConfig `yaml:"catalog"`

	// TMDB
	TMDBAPIKey            string
	TMDBBaseURL           string
	TMDBImageBaseURL      string
	TMDBRequestsPerSecond float64
	TMDBTimeout           time.Duration

	// NATS (usage events, distributed session teardown)
	NatsURL string

	// Local key-value store (settings, summary cache)
	BadgerDir        string
	BadgerGCSchedule string

	// Summaries
	SummaryCacheTTL time.Duration

	// Sessions
	SessionIdleTimeout   time.Duration
	SessionPurgeSchedule string

	// Test harness
	HarnessDelay time.Duration

	// Usage log
	UsageLogMaxEntries int

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Worker Pool
	UsageTrackingWorkerPoolSize int
	UsageTrackingBufferSize     int
	UsageTrackingTimeoutSeconds int

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	AppConfig *Config

	DefaultSummaryCacheTTL = 72 * time.Hour
	DefaultHarnessDelay    = 500 * time.Millisecond
)

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Firebase
		FirebaseProjectID: getEnvOrDefault("FIREBASE_PROJECT_ID", ""),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		// Validator
		ValidatorType:    getEnvOrDefault("VALIDATOR_TYPE", "firebase"),
		JWTJWKSURL:       getEnvOrDefault("JWT_JWKS_URL", ""),
		FirebaseCredJSON: getEnvOrDefault("FIREBASE_CRED_JSON", ""),

		// Firestore
		FirestoreDatabase: getEnvOrDefault("FIRESTORE_DATABASE", "saimilar"),

		// LLM providers
		GeminiAPIKey:     strings.TrimSpace(getEnvOrDefault("GEMINI_API_KEY", "")),
		PerplexityAPIKey: strings.TrimSpace(getEnvOrDefault("PERPLEXITY_API_KEY", "")),
		OpenRouterAPIKey: strings.TrimSpace(getEnvOrDefault("OPENROUTER_API_KEY", "")),

		// TMDB
		TMDBAPIKey:            strings.TrimSpace(getEnvOrDefault("TMDB_API_KEY", "")),
		TMDBBaseURL:           getEnvOrDefault("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBImageBaseURL:      getEnvOrDefault("TMDB_IMAGE_BASE_URL", "https://image.tmdb.org/t/p"),
		TMDBRequestsPerSecond: getEnvFloat("TMDB_REQUESTS_PER_SECOND", 20),
		TMDBTimeout:           getEnvAsDuration("TMDB_TIMEOUT", 10*time.Second),

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		BadgerDir:        getEnvOrDefault("BADGER_DIR", ""),
		BadgerGCSchedule: getEnvOrDefault("BADGER_GC_SCHEDULE", "@every 10m"),

		SummaryCacheTTL: getEnvAsDuration("SUMMARY_CACHE_TTL", DefaultSummaryCacheTTL),

		SessionIdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		SessionPurgeSchedule: getEnvOrDefault("SESSION_PURGE_SCHEDULE", "@every 5m"),

		HarnessDelay: getEnvAsDuration("HARNESS_DELAY", DefaultHarnessDelay),

		UsageLogMaxEntries: getEnvAsInt("USAGE_LOG_MAX_ENTRIES", 1000),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Worker Pool
		UsageTrackingWorkerPoolSize: getEnvAsInt("USAGE_TRACKING_WORKER_POOL_SIZE", 4),
		UsageTrackingBufferSize:     getEnvAsInt("USAGE_TRACKING_BUFFER_SIZE", 1000),
		UsageTrackingTimeoutSeconds: getEnvAsInt("USAGE_TRACKING_TIMEOUT_SECONDS", 10),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// The config file only carries the model catalog. Environment variables
	// are not consulted for catalog settings except for provider API keys.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	log.Printf("Loading config file: %v", configFilePath)

	configFile, err := os.Open(configFilePath)
	defer func() {
		if configFile != nil {
			configFile.Close()
		}
	}()

	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if AppConfig.Catalog == nil {
		log.Fatal("Model catalog configuration is empty")
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Println("Warning: Gemini API key is missing. Please set GEMINI_API_KEY environment variable.")
	}

	if AppConfig.PerplexityAPIKey == "" {
		log.Println("Warning: Perplexity API key is missing. Please set PERPLEXITY_API_KEY environment variable.")
	}

	if AppConfig.TMDBAPIKey == "" {
		log.Println("Warning: TMDB API key is missing. Please set TMDB_API_KEY environment variable.")
	}

	if AppConfig.FirebaseProjectID == "" {
		log.Println("Warning: Firebase project ID is missing. Wishlist, watched and profiles are kept in memory.")
	}

	if AppConfig.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL is not set. Usage events will not be persisted.")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as float, using default %f: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
