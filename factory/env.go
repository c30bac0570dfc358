package factory

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/orcall"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConfigFromEnv overlays ORCALL_* environment variables on the defaults.
func ConfigFromEnv() *orcall.Config {
	cfg := orcall.DefaultConfig()

	cfg.Session.Backend = orcall.Backend(getEnv("ORCALL_BACKEND", string(cfg.Session.Backend)))
	cfg.Session.Image = getEnv("ORCALL_IMAGE", "comtest")
	cfg.Session.Host = getEnv("ORCALL_HOST", cfg.Session.Host)
	cfg.Session.Mode = orcall.ConnectionMode(getEnv("ORCALL_MODE", string(cfg.Session.Mode)))
	cfg.Session.ConnectTimeout = time.Duration(getEnvInt("ORCALL_CONNECT_TIMEOUT_SECONDS", int(cfg.Session.ConnectTimeout/time.Second))) * time.Second

	cfg.Call.LookupMetadata = getEnvBool("ORCALL_LOOKUP_META", cfg.Call.LookupMetadata)
	cfg.Call.ReturnOnlySent = getEnvBool("ORCALL_RETURN_ONLY_SENT", cfg.Call.ReturnOnlySent)
	cfg.Call.Timeout = time.Duration(getEnvInt("ORCALL_CALL_TIMEOUT_SECONDS", int(cfg.Call.Timeout/time.Second))) * time.Second

	cfg.Catalogue.Procedure = getEnv("ORCALL_CATALOGUE_PROCEDURE", cfg.Catalogue.Procedure)
	cfg.Catalogue.InterfaceParam = getEnv("ORCALL_CATALOGUE_PARAM", cfg.Catalogue.InterfaceParam)
	cfg.Catalogue.FailureThreshold = getEnvInt("ORCALL_CATALOGUE_FAILURE_THRESHOLD", cfg.Catalogue.FailureThreshold)
	cfg.Catalogue.SuspendFor = time.Duration(getEnvInt("ORCALL_CATALOGUE_SUSPEND_SECONDS", int(cfg.Catalogue.SuspendFor/time.Second))) * time.Second

	cfg.Postgres.Host = getEnv("ORCALL_PG_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = getEnvInt("ORCALL_PG_PORT", cfg.Postgres.Port)
	cfg.Postgres.Database = getEnv("ORCALL_PG_DATABASE", "postgres")
	cfg.Postgres.Username = getEnv("ORCALL_PG_USER", "postgres")
	cfg.Postgres.Password = getEnv("ORCALL_PG_PASSWORD", "")
	cfg.Postgres.SSLMode = getEnv("ORCALL_PG_SSL_MODE", cfg.Postgres.SSLMode)
	cfg.Postgres.MaxConnections = int32(getEnvInt("ORCALL_PG_MAX_CONNECTIONS", int(cfg.Postgres.MaxConnections)))
	cfg.Postgres.UseIAM = getEnvBool("ORCALL_PG_USE_IAM", false)
	cfg.Postgres.Region = getEnv("ORCALL_PG_REGION", getEnv("AWS_REGION", ""))

	cfg.Journal.Path = getEnv("ORCALL_JOURNAL_PATH", "")
	cfg.Journal.SlowCallThreshold = time.Duration(getEnvInt("ORCALL_SLOW_CALL_MS", int(cfg.Journal.SlowCallThreshold/time.Millisecond))) * time.Millisecond

	cfg.Snapshot.Bucket = getEnv("ORCALL_SNAPSHOT_BUCKET", "")
	cfg.Snapshot.Prefix = getEnv("ORCALL_SNAPSHOT_PREFIX", cfg.Snapshot.Prefix)
	cfg.Snapshot.Endpoint = getEnv("ORCALL_S3_ENDPOINT", "")
	cfg.Snapshot.Region = getEnv("ORCALL_S3_REGION", getEnv("AWS_REGION", ""))
	cfg.Snapshot.UsePathStyle = getEnvBool("ORCALL_S3_PATH_STYLE", cfg.Snapshot.Endpoint != "")

	cfg.Logging.Level = getEnv("ORCALL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("ORCALL_LOG_FORMAT", cfg.Logging.Format)
	cfg.Telemetry.Enabled = getEnvBool("ORCALL_TELEMETRY", false)
	return cfg
}

// NewLogger builds the process logger: a development logger for the console
// format, otherwise a JSON production logger at cfg.Level.
func NewLogger(cfg orcall.LoggingConfig) (*zap.Logger, error) {
	if cfg.Format == "console" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
