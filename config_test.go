package orcall

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Session.Backend != BackendLoopback {
		t.Errorf("Expected default backend loopback, got %s", config.Session.Backend)
	}
	if config.Session.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %s", config.Session.Host)
	}
	if config.Session.Mode != ModeDirect {
		t.Errorf("Expected direct connection mode, got %q", config.Session.Mode)
	}
	if !config.Call.LookupMetadata {
		t.Error("Expected metadata lookup to be enabled by default")
	}
	if config.Call.ReturnOnlySent {
		t.Error("Expected ReturnOnlySent to be disabled by default")
	}
	if config.Call.Timeout != 30*time.Second {
		t.Errorf("Expected call timeout 30s, got %v", config.Call.Timeout)
	}
	if config.Catalogue.Procedure != "GetMetaDataInterface" {
		t.Errorf("Expected catalogue procedure GetMetaDataInterface, got %s", config.Catalogue.Procedure)
	}
	if config.Catalogue.InterfaceParam != "b_so_interface" {
		t.Errorf("Expected interface param b_so_interface, got %s", config.Catalogue.InterfaceParam)
	}
	if config.Postgres.Port != 5432 {
		t.Errorf("Expected postgres port 5432, got %d", config.Postgres.Port)
	}
	if config.Journal.Path != "" {
		t.Errorf("Expected journal disabled by default, got %s", config.Journal.Path)
	}
	if config.Snapshot.Bucket != "" {
		t.Errorf("Expected snapshots disabled by default, got %s", config.Snapshot.Bucket)
	}
}

func TestConfigValidationDetailed(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorField  string
	}{
		{
			name:        "valid config",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "missing image",
			modify:      func(c *Config) { c.Session.Image = "" },
			expectError: true,
			errorField:  "session.image",
		},
		{
			name:        "unknown backend",
			modify:      func(c *Config) { c.Session.Backend = "corba" },
			expectError: true,
			errorField:  "session.backend",
		},
		{
			name:        "unknown mode",
			modify:      func(c *Config) { c.Session.Mode = "carrier-pigeon" },
			expectError: true,
			errorField:  "session.mode",
		},
		{
			name:        "name server mode",
			modify:      func(c *Config) { c.Session.Mode = ModeUnauthenticated },
			expectError: false,
		},
		{
			name:        "zero record depth",
			modify:      func(c *Config) { c.Catalogue.MaxRecordDepth = 0 },
			expectError: true,
			errorField:  "catalogue.maxRecordDepth",
		},
		{
			name:        "lookup without catalogue procedure",
			modify:      func(c *Config) { c.Catalogue.Procedure = "" },
			expectError: true,
			errorField:  "catalogue.procedure",
		},
		{
			name: "no lookup without catalogue procedure",
			modify: func(c *Config) {
				c.Call.LookupMetadata = false
				c.Catalogue.Procedure = ""
			},
			expectError: false,
		},
		{
			name: "postgres zero port",
			modify: func(c *Config) {
				c.Session.Backend = BackendPostgres
				c.Postgres.Port = 0
			},
			expectError: true,
			errorField:  "postgres.port",
		},
		{
			name: "postgres iam without region",
			modify: func(c *Config) {
				c.Session.Backend = BackendPostgres
				c.Postgres.UseIAM = true
			},
			expectError: true,
			errorField:  "postgres.region",
		},
		{
			name: "loopback ignores postgres settings",
			modify: func(c *Config) {
				c.Postgres.Port = 0
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Session.Image = "comtest"
			tt.modify(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected validation error for field %s but got none", tt.errorField)
					return
				}
				configErr, ok := err.(*ConfigError)
				if !ok {
					t.Errorf("Expected ConfigError but got %T", err)
					return
				}
				if configErr.Field != tt.errorField {
					t.Errorf("Expected error for field %s but got %s", tt.errorField, configErr.Field)
				}
			} else if err != nil {
				t.Errorf("Expected no validation error but got: %v", err)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "test.field",
		Message: "test message",
	}

	expected := "config validation error for field 'test.field': test message"
	if err.Error() != expected {
		t.Errorf("Expected error message %s, got %s", expected, err.Error())
	}
}

func TestImageName(t *testing.T) {
	tests := []struct {
		image string
		mode  ConnectionMode
		want  string
	}{
		{"comtest", ModeDirect, "comtest"},
		{"comtest", ModeDefault, "comtest.img"},
		{"comtest", ModeUnauthenticated, "comtest.img"},
		{"comtest.img", ModeCompressed, "comtest.img"},
		{"comtest", ModeHTTP, "comtest"},
	}
	for _, tt := range tests {
		if got := ImageName(tt.image, tt.mode); got != tt.want {
			t.Errorf("ImageName(%q, %q) = %q, want %q", tt.image, tt.mode, got, tt.want)
		}
	}
}

func TestParseConnectionMode(t *testing.T) {
	for in, want := range map[string]ConnectionMode{
		"None":   ModeDirect,
		"direct": ModeDirect,
		"":       ModeDefault,
		"HTTP":   ModeHTTP,
	} {
		got, err := ParseConnectionMode(in)
		if err != nil {
			t.Errorf("ParseConnectionMode(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseConnectionMode(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseConnectionMode("smoke-signal"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
