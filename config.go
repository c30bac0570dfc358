package orcall

import (
	"time"
)

// Backend selects the transport a dispatcher is built on.
type Backend string

const (
	BackendLoopback Backend = "loopback"
	BackendPostgres Backend = "postgres"
)

// Config consolidates settings for the dispatcher and its collaborators
type Config struct {
	Session   SessionConfig   `json:"session"`
	Call      CallConfig      `json:"call"`
	Catalogue CatalogueConfig `json:"catalogue"`
	Postgres  PostgresConfig  `json:"postgres"`
	Journal   JournalConfig   `json:"journal"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// SessionConfig names the application to connect to
type SessionConfig struct {
	Backend        Backend        `json:"backend"`
	Image          string         `json:"image"`
	Host           string         `json:"host"`
	Mode           ConnectionMode `json:"mode"`
	ConnectTimeout time.Duration  `json:"connectTimeout"`
}

// CallConfig controls signature resolution and result decoding
type CallConfig struct {
	// LookupMetadata resolves signatures from the application catalogue
	// before falling back to inference.
	LookupMetadata bool `json:"lookupMetadata"`
	// ReturnOnlySent limits decoding to the top-level keys of the call arguments.
	ReturnOnlySent bool          `json:"returnOnlySent"`
	Timeout        time.Duration `json:"timeout"`
}

// CatalogueConfig controls how application metadata is fetched
type CatalogueConfig struct {
	Procedure      string `json:"procedure"`
	InterfaceParam string `json:"interfaceParam"`
	MaxRecordDepth int    `json:"maxRecordDepth"`

	// FailureThreshold remote fetch failures within FailureWindow suspend
	// further fetches for SuspendFor. Zero disables suspension.
	FailureThreshold int           `json:"failureThreshold"`
	FailureWindow    time.Duration `json:"failureWindow"`
	SuspendFor       time.Duration `json:"suspendFor"`
}

// PostgresConfig contains database connection settings for the postgres backend
type PostgresConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int32         `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	UseIAM          bool          `json:"useIAM"`
	Region          string        `json:"region"`
}

// JournalConfig configures the DuckDB call journal. An empty Path disables it.
type JournalConfig struct {
	Path              string        `json:"path"`
	SlowCallThreshold time.Duration `json:"slowCallThreshold"`
}

// SnapshotConfig configures catalogue snapshots in S3. An empty Bucket disables them.
type SnapshotConfig struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	UsePathStyle bool   `json:"usePathStyle"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// TelemetryConfig toggles OpenTelemetry instrumentation
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
}

// Catalogue call defaults
const (
	DefaultCatalogueProcedure = "GetMetaDataInterface"
	DefaultInterfaceParam     = "b_so_interface"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Backend:        BackendLoopback,
			Host:           "localhost",
			Mode:           ModeDirect,
			ConnectTimeout: 10 * time.Second,
		},
		Call: CallConfig{
			LookupMetadata: true,
			ReturnOnlySent: false,
			Timeout:        30 * time.Second,
		},
		Catalogue: CatalogueConfig{
			Procedure:        DefaultCatalogueProcedure,
			InterfaceParam:   DefaultInterfaceParam,
			MaxRecordDepth:   8,
			FailureThreshold: 3,
			FailureWindow:    time.Minute,
			SuspendFor:       30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  4,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Journal: JournalConfig{
			SlowCallThreshold: time.Second,
		},
		Snapshot: SnapshotConfig{
			Prefix: "catalogues",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Session.Image == "" {
		return &ConfigError{Field: "session.image", Message: "must not be empty"}
	}

	switch c.Session.Backend {
	case BackendLoopback, BackendPostgres:
	default:
		return &ConfigError{Field: "session.backend", Message: "must be loopback or postgres"}
	}

	if _, err := ParseConnectionMode(string(c.Session.Mode)); err != nil {
		return &ConfigError{Field: "session.mode", Message: err.Error()}
	}

	if c.Catalogue.MaxRecordDepth <= 0 {
		return &ConfigError{Field: "catalogue.maxRecordDepth", Message: "must be greater than 0"}
	}

	if c.Catalogue.FailureThreshold < 0 {
		return &ConfigError{Field: "catalogue.failureThreshold", Message: "must not be negative"}
	}

	if c.Call.LookupMetadata && (c.Catalogue.Procedure == "" || c.Catalogue.InterfaceParam == "") {
		return &ConfigError{Field: "catalogue.procedure", Message: "procedure and interfaceParam are required when lookupMetadata is set"}
	}

	if c.Session.Backend == BackendPostgres {
		if c.Postgres.Port <= 0 {
			return &ConfigError{Field: "postgres.port", Message: "must be greater than 0"}
		}
		if c.Postgres.MaxConnections <= 0 {
			return &ConfigError{Field: "postgres.maxConnections", Message: "must be greater than 0"}
		}
		if c.Postgres.UseIAM && c.Postgres.Region == "" {
			return &ConfigError{Field: "postgres.region", Message: "required when useIAM is set"}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
