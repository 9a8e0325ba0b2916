package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

// ScheduleDisabled turns off periodic refreshes; the service aggregates once at startup.
const ScheduleDisabled = "off"

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir            string
	SeverityFile       string
	FundingFile        string
	PooledFundFile     string
	CountriesFile      string
	CountryAliasesFile string // optional

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	RefreshSchedule string
	MinCohortSize   int

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// LoadEnvFile copies variables from a dotenv file into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	mapboxCacheSize, err := parsePositiveInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	minCohort, err := parsePositiveInt("MIN_COHORT_SIZE", 5)
	if err != nil {
		return nil, err
	}

	schedule := sharedcfg.EnvOrDefault("REFRESH_SCHEDULE", "@every 1h")
	if schedule != ScheduleDisabled {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid REFRESH_SCHEDULE: %w", err)
		}
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	dataDir := sharedcfg.EnvOrDefault("DATA_DIR", "./data")
	cfg := &Config{
		DataDir:            dataDir,
		SeverityFile:       dataPath(dataDir, sharedcfg.EnvOrDefault("SEVERITY_FILE", "severity.csv")),
		FundingFile:        dataPath(dataDir, sharedcfg.EnvOrDefault("FUNDING_FILE", "funding.csv")),
		PooledFundFile:     dataPath(dataDir, sharedcfg.EnvOrDefault("POOLED_FUND_FILE", "pooled_funds.csv")),
		CountriesFile:      dataPath(dataDir, sharedcfg.EnvOrDefault("COUNTRIES_FILE", "countries.csv")),
		CountryAliasesFile: dataPath(dataDir, os.Getenv("COUNTRY_ALIASES_FILE")),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RefreshSchedule: schedule,
		MinCohortSize:   minCohort,

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "crisis-country-records"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// RefreshEnabled reports whether periodic refreshes are scheduled.
func (c *Config) RefreshEnabled() bool {
	return c.RefreshSchedule != ScheduleDisabled
}

// DatasetFiles maps each source dataset to its configured file.
func (c *Config) DatasetFiles() map[domain.Dataset]string {
	return map[domain.Dataset]string{
		domain.DatasetSeverity:    c.SeverityFile,
		domain.DatasetFunding:     c.FundingFile,
		domain.DatasetPooledFunds: c.PooledFundFile,
		domain.DatasetCountries:   c.CountriesFile,
	}
}

// dataPath resolves a relative file name against the data directory.
// Empty names stay empty.
func dataPath(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
