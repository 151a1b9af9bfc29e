package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	LogLevel    string
	CORSOrigins []string
	MaxFileSize int64

	// Object store (source documents)
	BucketName         string
	BucketRegion       string
	EligibleExtensions []string

	// Blob storage: primary object storage, local disk fallback
	BlobBucket     string
	BlobPrefix     string
	FileStorageDir string

	// Managed search backend
	SearchAPIKey string
	SearchAPIURL string
	SearchRPS    float64

	// Store-id cache
	StoreCache    string // "memory" (default) or "redis"
	StoreCacheTTL time.Duration

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Worker / supervisor
	BatchSize         int
	MaxRetriesPerFile int
	WorkerBin         string
	SupervisorBin     string
	SupervisorPIDFile string

	// Watchdog
	WatchdogStateFile  string
	WatchdogStallAfter time.Duration

	// Quality gate and OCR
	OCRCharThreshold  int
	OCREngine         string // "tesseract" (default) or "gemini"
	OCRLanguage       string
	OCRDPI            int
	OCRTimeout        time.Duration
	OCRClaimTTL       time.Duration
	OCRModel          string
	GeminiTier        string
	PdftotextBin      string
	PdftoppmBin       string
	TesseractBin      string
	MetadataRulesFile string

	// Telemetry
	OTELEndpoint string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	bucket := getEnv("BUCKET_NAME", "")

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/civic_ingest"),
		DBName:      getEnv("DB_NAME", "civic_ingest"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB

		BucketName:         bucket,
		BucketRegion:       getEnv("BUCKET_REGION", ""),
		EligibleExtensions: splitList(getEnv("ELIGIBLE_EXTENSIONS", ".pdf,.txt,.md,.csv,.xlsx")),

		BlobBucket:     getEnv("BLOB_BUCKET", bucket),
		BlobPrefix:     getEnv("BLOB_PREFIX", "blobs/"),
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),

		SearchAPIKey: getEnv("SEARCH_API_KEY", getEnv("GEMINI_API_KEY", "")),
		SearchAPIURL: getEnv("SEARCH_API_URL", "https://generativelanguage.googleapis.com"),
		SearchRPS:    getEnvFloat64("SEARCH_RPS", 2),

		StoreCache:    getEnv("STORE_CACHE", "memory"),
		StoreCacheTTL: getEnvDuration("STORE_CACHE_TTL", 6*time.Hour),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BatchSize:         getEnvInt("BATCH_SIZE", 10),
		MaxRetriesPerFile: getEnvInt("MAX_RETRIES_PER_FILE", 3),
		WorkerBin:         getEnv("WORKER_BIN", "worker"),
		SupervisorBin:     getEnv("SUPERVISOR_BIN", "supervisor"),
		SupervisorPIDFile: getEnv("SUPERVISOR_PID_FILE", "./storage/supervisor.pid"),

		WatchdogStateFile:  getEnv("WATCHDOG_STATE_FILE", "./storage/watchdog-state.json"),
		WatchdogStallAfter: getEnvDuration("WATCHDOG_STALL_AFTER", 20*time.Minute),

		OCRCharThreshold:  getEnvInt("OCR_CHAR_THRESHOLD", 200),
		OCREngine:         getEnv("OCR_ENGINE", "tesseract"),
		OCRLanguage:       getEnv("OCR_LANGUAGE", "eng"),
		OCRDPI:            getEnvInt("OCR_DPI", 300),
		OCRTimeout:        getEnvDuration("OCR_TIMEOUT", 2*time.Minute), // per page
		OCRClaimTTL:       getEnvDuration("OCR_CLAIM_TTL", time.Hour),
		OCRModel:          getEnv("OCR_MODEL", "gemini-2.0-flash"),
		GeminiTier:        getEnv("GEMINI_TIER", "free"),
		PdftotextBin:      getEnv("PDFTOTEXT_BIN", "pdftotext"),
		PdftoppmBin:       getEnv("PDFTOPPM_BIN", "pdftoppm"),
		TesseractBin:      getEnv("TESSERACT_BIN", "tesseract"),
		MetadataRulesFile: getEnv("METADATA_RULES_FILE", ""),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
	}

	// Validate required fields
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("BUCKET_NAME is required - set it in .env file")
	}

	if cfg.BucketRegion == "" {
		return nil, fmt.Errorf("BUCKET_REGION is required - set it in .env file")
	}

	if cfg.SearchAPIKey == "" {
		return nil, fmt.Errorf("SEARCH_API_KEY is required - set it in .env file")
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxRetriesPerFile < 1 {
		cfg.MaxRetriesPerFile = 1
	}
	// A claim must outlive at least a few pages of a healthy run
	if minTTL := 5 * cfg.OCRTimeout; cfg.OCRClaimTTL < minTTL {
		cfg.OCRClaimTTL = minTTL
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
