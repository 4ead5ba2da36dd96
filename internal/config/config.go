package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers    []string
	KafkaSinkTopic  string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Hilltop server and request settings.
	HilltopBaseURL    string
	HilltopHTS        string
	Sites             []string
	Measurements      []string
	FromDate          string
	ToDate            string
	HilltopTimeout    time.Duration
	RateLimit         float64
	CacheSize         int
	QualityCodes      bool
	ApplyPrecision    bool
	DTLMethod         domain.Method
	RejectGreaterThan bool

	Workers      int
	PollInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	hilltopTimeout, err := parsePositiveDuration("HILLTOP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}

	pollInterval, err := parsePositiveDuration("POLL_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("HILLTOP_RATE_LIMIT", "5"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid HILLTOP_RATE_LIMIT")
	}

	cacheSize, err := parsePositiveInt("HILLTOP_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKERS", 4)
	if err != nil {
		return nil, err
	}

	method, err := domain.ParseMethod(os.Getenv("DTL_METHOD"))
	if err != nil {
		return nil, fmt.Errorf("invalid DTL_METHOD: %w", err)
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "hilltop-observations"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		HilltopBaseURL:    os.Getenv("HILLTOP_BASE_URL"),
		HilltopHTS:        os.Getenv("HILLTOP_HTS"),
		Sites:             splitList(os.Getenv("HILLTOP_SITES")),
		Measurements:      splitList(os.Getenv("HILLTOP_MEASUREMENTS")),
		FromDate:          os.Getenv("HILLTOP_FROM_DATE"),
		ToDate:            os.Getenv("HILLTOP_TO_DATE"),
		HilltopTimeout:    hilltopTimeout,
		RateLimit:         rateLimit,
		CacheSize:         cacheSize,
		QualityCodes:      os.Getenv("HILLTOP_QUALITY_CODES") == "true",
		ApplyPrecision:    os.Getenv("HILLTOP_APPLY_PRECISION") == "true",
		DTLMethod:         method,
		RejectGreaterThan: os.Getenv("DTL_REJECT_GREATER_THAN") == "true",

		Workers:      workers,
		PollInterval: pollInterval,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.HilltopBaseURL == "" {
		return nil, errors.New("HILLTOP_BASE_URL is required")
	}
	if !strings.HasSuffix(cfg.HilltopHTS, ".hts") {
		return nil, errors.New("HILLTOP_HTS is required and must end with .hts")
	}
	if len(cfg.Measurements) == 0 {
		return nil, errors.New("HILLTOP_MEASUREMENTS is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
