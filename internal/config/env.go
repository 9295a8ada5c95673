package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/policyqa/internal/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	DocID       string
	ManifestKey string

	DatabaseURL string
	StateDBPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	AIProvider   string
	OpenAIAPIKey string
	GeminiAPIKey string
	EmbedModel   string
	EmbedDim     int
	GenModel     string

	TopK            int
	Threshold       float64
	Temperature     float64
	MaxTokens       int
	SnippetMaxChars int
	HistoryMessages int
	SessionWindow   int
	MaxSessions     int
	MetricsWindow   int
	PriceInPerM     float64
	PriceOutPerM    float64

	TargetTokens      int
	OverlapTokens     int
	MinChunkTokens    int
	StitchPages       bool
	EmbedBatchSize    int
	EmbedConcurrency  int
	TokenizerEncoding string
	IngestTimeout     time.Duration

	AdminJWTSecret string
	LogLevel       string
	LogJSON        bool
	Port           string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	docID := getEnv("DOC_ID", "doc-001")

	cfg := &Config{
		DocID:       docID,
		ManifestKey: getEnv("MANIFEST_KEY", docID+"/manifest.json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		StateDBPath: getEnv("STATE_DB_PATH", ".state/state.db"),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "policyqa-docs"),

		AIProvider:   strings.ToLower(getEnv("AI_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", ""),
		EmbedDim:     getEnvInt("EMBED_DIM", 0),
		GenModel:     getEnv("GEN_MODEL", ""),

		TopK:            getEnvInt("TOP_K", 6),
		Threshold:       getEnvFloat("THRESHOLD", 0.25),
		Temperature:     getEnvFloat("TEMPERATURE", 0.1),
		MaxTokens:       getEnvInt("MAX_TOKENS", 1000),
		SnippetMaxChars: getEnvInt("SNIPPET_MAX_CHARS", 1200),
		HistoryMessages: getEnvInt("HISTORY_MESSAGES", 12),
		SessionWindow:   getEnvInt("SESSION_WINDOW", 20),
		MaxSessions:     getEnvInt("MAX_SESSIONS", 1000),
		MetricsWindow:   getEnvInt("METRICS_WINDOW", 500),
		PriceInPerM:     getEnvFloat("PRICE_IN_PER_M", 0.60),
		PriceOutPerM:    getEnvFloat("PRICE_OUT_PER_M", 2.40),

		TargetTokens:      getEnvInt("TARGET_TOKENS", 1200),
		OverlapTokens:     getEnvInt("OVERLAP_TOKENS", 300),
		MinChunkTokens:    getEnvInt("MIN_CHUNK_TOKENS", 50),
		StitchPages:       getEnvBool("STITCH_PAGES", true),
		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 64),
		EmbedConcurrency:  getEnvInt("EMBED_CONCURRENCY", 2),
		TokenizerEncoding: getEnv("TOKENIZER_ENCODING", "cl100k_base"),
		IngestTimeout:     getEnvDuration("INGEST_TIMEOUT", 5*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogJSON:        getEnvBool("LOG_JSON", false),
		Port:           getEnv("PORT", "8080"),
	}

	cfg.applyProviderDefaults()
	return cfg
}

func (c *Config) applyProviderDefaults() {
	switch c.AIProvider {
	case ProviderGemini:
		if c.EmbedModel == "" {
			c.EmbedModel = "text-embedding-004"
		}
		if c.EmbedDim == 0 {
			c.EmbedDim = 768
		}
		if c.GenModel == "" {
			c.GenModel = "gemini-1.5-flash"
		}
	default:
		if c.EmbedModel == "" {
			c.EmbedModel = "text-embedding-3-small"
		}
		if c.EmbedDim == 0 {
			c.EmbedDim = 1536
		}
		if c.GenModel == "" {
			c.GenModel = "gpt-4o-mini"
		}
	}
}

// LocalMode reports whether the process runs without Postgres, using the
// in-memory vector index and the SQLite state store.
func (c *Config) LocalMode() bool {
	return c.DatabaseURL == ""
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.AIProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER %q not supported", c.AIProvider))
	}
	if c.BucketName == "" {
		errs = append(errs, errors.New("BUCKET_NAME not set"))
	}
	if c.DocID == "" {
		errs = append(errs, errors.New("DOC_ID not set"))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, errors.New("EMBED_DIM must be positive"))
	}
	if c.TargetTokens <= 0 {
		errs = append(errs, errors.New("TARGET_TOKENS must be positive"))
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.TargetTokens {
		errs = append(errs, errors.New("OVERLAP_TOKENS must be in [0, TARGET_TOKENS)"))
	}
	if c.MinChunkTokens < 0 || c.MinChunkTokens > c.TargetTokens {
		errs = append(errs, errors.New("MIN_CHUNK_TOKENS must be in [0, TARGET_TOKENS]"))
	}
	if c.TopK <= 0 {
		errs = append(errs, errors.New("TOP_K must be positive"))
	}
	if c.SessionWindow <= 0 {
		errs = append(errs, errors.New("SESSION_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return d
}

func warnDefault(key, value string, def any) {
	logger.FromContext(context.Background()).Warn("invalid env value, using default",
		"key", key, "value", value, "default", def)
}
