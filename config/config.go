package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageSupabase = "supabase"
	StorageLocal    = "local"
)

// Config is the full server configuration, read from the environment.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":8001"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBUser      string `env:"user"`
	DBPassword  string `env:"password"`
	DBHost      string `env:"host"`
	DBPort      string `env:"port" envDefault:"5432"`
	DBName      string `env:"dbname"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`

	StorageBackend    string `env:"STORAGE_BACKEND" envDefault:"supabase"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR" envDefault:"data/uploads"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8001"`
	PDFBucket         string `env:"PDF_BUCKET" envDefault:"pdfs"`
	HandwritingBucket string `env:"HANDWRITING_BUCKET" envDefault:"handwriting"`

	OpenAIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	VisionModel    string `env:"VISION_MODEL" envDefault:"gpt-4o-mini"`

	AskAPIKey  string `env:"THESYS_API_KEY"`
	AskBaseURL string `env:"ASK_BASE_URL" envDefault:"https://api.thesys.dev/v1/embed"`
	AskModel   string `env:"ASK_MODEL" envDefault:"c1/anthropic/claude-sonnet-4/v-20250930"`
	AskRPS     float64 `env:"ASK_RATE_LIMIT" envDefault:"1"`
	AskBurst   int     `env:"ASK_RATE_BURST" envDefault:"5"`
	TrustProxy bool    `env:"TRUST_PROXY" envDefault:"false"`

	DailyAPIKey  string `env:"DAILY_API_KEY"`
	DailyBaseURL string `env:"DAILY_BASE_URL" envDefault:"https://api.daily.co/v1"`

	GoogleMapsAPIKey string `env:"GOOGLE_MAPS_API_KEY"`
	YouTubeAPIKey    string `env:"YOUTUBE_API_KEY"`
	YouTubeBaseURL   string `env:"YOUTUBE_BASE_URL"`

	MaxPDFSize       int64         `env:"MAX_PDF_SIZE" envDefault:"20971520"`
	SyncSaveInterval time.Duration `env:"SYNC_SAVE_INTERVAL" envDefault:"10s"`
	OCRWorkers       int           `env:"OCR_WORKERS" envDefault:"2"`
	OCRQueueSize     int           `env:"OCR_QUEUE_SIZE" envDefault:"64"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads an optional .env file and parses the environment into a Config.
// It reports whether a .env file was found so the caller can log it once the
// logger is configured.
func Load(files ...string) (*Config, bool, error) {
	foundDotenv := godotenv.Load(files...) == nil

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, foundDotenv, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, foundDotenv, err
	}
	return cfg, foundDotenv, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("storage backend %q requires SUPABASE_URL and SUPABASE_SERVICE_KEY", c.StorageBackend)
		}
	case StorageLocal:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.MaxPDFSize <= 0 {
		return fmt.Errorf("MAX_PDF_SIZE must be positive")
	}
	if c.OCRWorkers < 1 {
		return fmt.Errorf("OCR_WORKERS must be at least 1")
	}
	if c.DSN() == "" {
		return fmt.Errorf("DATABASE_URL or user/password/host/dbname must be set")
	}
	return nil
}

// DSN returns the Postgres connection string. DATABASE_URL wins; otherwise it
// is assembled from the individual Supabase pooler variables.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseURL); dsn != "" {
		return dsn
	}
	if strings.TrimSpace(c.DBHost) == "" || strings.TrimSpace(c.DBName) == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(strings.TrimSpace(c.DBUser), strings.TrimSpace(c.DBPassword)),
		Host:     strings.TrimSpace(c.DBHost) + ":" + strings.TrimSpace(c.DBPort),
		Path:     "/" + strings.TrimSpace(c.DBName),
		RawQuery: "sslmode=require",
	}
	return u.String()
}
