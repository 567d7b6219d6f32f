package util

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names read by LoadConfig.
const (
	EnvDataDir    = "RULENOTIFY_DATA_DIR"
	EnvDBDriver   = "RULENOTIFY_DB_DRIVER"
	EnvDBDSN      = "RULENOTIFY_DB_DSN"
	EnvAsOf       = "RULENOTIFY_AS_OF"
	EnvWorkers    = "RULENOTIFY_WORKERS"
	EnvLimit      = "RULENOTIFY_LIMIT"
	EnvAPIAddr    = "RULENOTIFY_API_ADDR"
	EnvVerbose    = "RULENOTIFY_VERBOSE"
	EnvTwilioFrom = "TWILIO_FROM_NUMBER"

	// EnvDatabaseURL is honored as a fallback DSN, as most hosting platforms set it.
	EnvDatabaseURL = "DATABASE_URL"
)

// Defaults applied when neither the environment nor a flag provides a value.
const (
	DefaultDataDir = "data"
	DefaultAPIAddr = ":8080"
)

// Config holds environment configuration. Command flags override every field.
type Config struct {
	DataDir    string
	DBDriver   string // "", "sqlite3" or "postgres"
	DBDSN      string
	AsOf       time.Time // zero means the engine default
	Workers    int
	Limit      int
	APIAddr    string
	Verbose    bool
	TwilioFrom string
}

// LoadConfig loads .env files (when present) and reads the RULENOTIFY_* variables.
// Variables already set in the process environment win over .env entries.
func LoadConfig(files ...string) Config {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("LoadConfig: no .env file loaded", "error", err)
	} else {
		slog.Debug("LoadConfig: loaded .env file")
	}

	cfg := Config{
		DataDir:    GetEnvDefault(EnvDataDir, DefaultDataDir),
		DBDriver:   GetEnvDefault(EnvDBDriver, ""),
		DBDSN:      GetEnvDefault(EnvDBDSN, GetEnvDefault(EnvDatabaseURL, "")),
		AsOf:       ParseTimeEnv(EnvAsOf, time.Time{}),
		Workers:    ParseIntEnv(EnvWorkers, 0),
		Limit:      ParseIntEnv(EnvLimit, 0),
		APIAddr:    GetEnvDefault(EnvAPIAddr, DefaultAPIAddr),
		Verbose:    ParseBoolEnv(EnvVerbose, false),
		TwilioFrom: GetEnvDefault(EnvTwilioFrom, ""),
	}
	if cfg.DBDSN != "" && cfg.DBDriver == "" {
		cfg.DBDriver = DetectDriver(cfg.DBDSN)
	}

	slog.Debug("environment variables loaded",
		EnvDataDir, cfg.DataDir,
		EnvDBDriver, cfg.DBDriver,
		"RULENOTIFY_DB_DSN_SET", cfg.DBDSN != "",
		EnvAsOf, cfg.AsOf,
		EnvWorkers, cfg.Workers,
		EnvLimit, cfg.Limit,
		EnvAPIAddr, cfg.APIAddr)
	return cfg
}

// DetectDriver guesses the SQL driver from a DSN: URLs and key=value strings naming a
// host are PostgreSQL, everything else is a SQLite path.
func DetectDriver(dsn string) string {
	switch {
	case dsn == "":
		return ""
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "host=") || strings.Contains(dsn, " host="):
		return "postgres"
	default:
		return "sqlite3"
	}
}
