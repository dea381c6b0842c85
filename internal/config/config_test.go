package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:3306)/test?parseTime=true",
		},
		{
			name: "with TLS mode",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "secret",
				Database: "mydb",
				TLSMode:  "skip-verify",
			},
			expected: "admin:secret@tcp(db.example.com:3306)/mydb?parseTime=true&tls=skip-verify",
		},
		{
			name: "empty password",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "",
				Database: "test",
			},
			expected: "root:@tcp(localhost:3306)/test?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.DSN()
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Note: Full integration tests for Load() should be done in integration tests
// because Load() relies on global state (pflag.CommandLine) which is difficult
// to test in isolation without causing conflicts between tests.

func TestConfig_Validate(t *testing.T) {
	// Helper to create a valid base config
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Host:         "localhost",
				Port:         3306,
				User:         "root",
				Database:     "test",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
			Server: ServerConfig{
				Port:             8080,
				DefaultListLimit: 100,
				MaxListLimit:     1000,
			},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1.0,
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				OTLP: OTLPConfig{
					Protocol:    "grpc",
					Compression: "gzip",
				},
			},
			Entities: []EntityConfig{
				{
					Name:       "Product",
					Table:      "products",
					PrimaryKey: "id",
					Fields:     []FieldConfig{{Name: "id", Type: "int"}},
				},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		cfg := validConfig()
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	t.Run("invalid database port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid database port high", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 70000
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid server port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.port")
	})

	t.Run("invalid TLS mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLSMode = "verify-maybe"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls_mode")
	})

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "skip-verify", "true", "false"} {
			cfg := validConfig()
			cfg.Database.TLSMode = mode
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("negative pool limits invalid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.MaxOpenConns = -1
		cfg.Database.MaxIdleConns = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.max_open_conns")
		assert.Contains(t, result.Error(), "database.max_idle_conns")
	})

	t.Run("max_idle_conns greater than max_open_conns warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.MaxOpenConns = 10
		cfg.Database.MaxIdleConns = 20
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "max_idle_conns")
	})

	t.Run("default list limit below one", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.DefaultListLimit = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.default_list_limit")
	})

	t.Run("default list limit exceeds max", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.DefaultListLimit = 500
		cfg.Server.MaxListLimit = 100
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "default_list_limit exceeds max_list_limit")
	})

	t.Run("GraphiQL without GraphQL warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.GraphiQLEnabled = true
		cfg.Server.GraphQLEnabled = false
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "GraphiQL")
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Level = "verbose"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Format = "xml"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.format")
	})

	t.Run("trace sample ratio out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.TraceSampleRatio = 1.5
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.trace_sample_ratio")
	})

	t.Run("invalid OTLP protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.protocol")
	})

	t.Run("valid OTLP protocols", func(t *testing.T) {
		for _, protocol := range []string{"", "grpc", "http/protobuf"} {
			cfg := validConfig()
			cfg.Observability.OTLP.Protocol = protocol
			if protocol == "http/protobuf" {
				cfg.Observability.OTLP.Endpoint = "localhost:4318"
			}
			result := cfg.Validate()
			assert.False(t, result.HasErrors(), "protocol %q should be valid", protocol)
		}
	})

	t.Run("invalid OTLP http/protobuf endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "localhost"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.endpoint")
	})

	t.Run("valid OTLP http/protobuf endpoint URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "https://otlp.example.com/v1/traces"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("invalid OTLP compression", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Compression = "zstd"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.compression")
	})

	t.Run("per-signal OTLP override validated with its own prefix", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Traces = &OTLPConfig{Protocol: "xml"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.traces.protocol")
	})

	t.Run("negative retry attempts", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.RetryMaxAttempts = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.retry_max_attempts")
	})

	t.Run("rate limit enabled without RPS", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 0
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "rate_limit_rps")
	})

	t.Run("rate limit enabled without burst", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "rate_limit_burst")
	})

	t.Run("rate limit valid config", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("rate limit disabled with values warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = false
		cfg.Server.RateLimitRPS = 100
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "rate limit values")
	})

	t.Run("CORS enabled without origins", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "cors_allowed_origins")
	})

	t.Run("CORS wildcard with credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"*"}
		cfg.Server.CORSAllowCredentials = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "wildcard")
	})

	t.Run("CORS wildcard without credentials warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"*"}
		cfg.Server.CORSAllowCredentials = false
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "wildcard")
	})

	t.Run("CORS specific origins valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"https://example.com"}
		cfg.Server.CORSAllowCredentials = true
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("OIDC enabled requires issuer and audience", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.OIDCEnabled = true
		cfg.Server.OIDCIssuerURL = ""
		cfg.Server.OIDCAudience = ""
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "oidc_issuer_url")
		assert.Contains(t, result.Error(), "oidc_audience")
	})

	t.Run("no entities warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Entities = nil
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0].Message, "no entities")
	})

	t.Run("multiple errors collected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		cfg.Server.Port = 0
		cfg.Observability.Logging.Level = "invalid"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Len(t, result.Errors, 3)
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
			Hint:    "try this",
		}
		assert.Equal(t, "test.field: test message (hint: try this)", err.Error())
	})

	t.Run("without hint", func(t *testing.T) {
		err := ValidationError{
			Field:   "test.field",
			Message: "test message",
		}
		assert.Equal(t, "test.field: test message", err.Error())
	})
}

func TestGetSignalConfigs(t *testing.T) {
	base := OTLPConfig{
		Endpoint:         "localhost:4317",
		Protocol:         "grpc",
		Compression:      "gzip",
		Timeout:          10 * time.Second,
		Headers:          map[string]string{"x-team": "platform"},
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	}

	t.Run("no override returns global config", func(t *testing.T) {
		obs := ObservabilityConfig{OTLP: base}
		assert.Equal(t, base, obs.GetTracesConfig())
		assert.Equal(t, base, obs.GetLogsConfig())
		assert.Equal(t, base, obs.GetMetricsConfig())
	})

	t.Run("override replaces endpoint and protocol", func(t *testing.T) {
		obs := ObservabilityConfig{
			OTLP: base,
			Traces: &OTLPConfig{
				Endpoint: "traces.example.com:4318",
				Protocol: "http/protobuf",
			},
		}
		merged := obs.GetTracesConfig()
		assert.Equal(t, "traces.example.com:4318", merged.Endpoint)
		assert.Equal(t, "http/protobuf", merged.Protocol)
		assert.Equal(t, "gzip", merged.Compression)
		assert.Equal(t, 10*time.Second, merged.Timeout)
	})

	t.Run("override headers merge over base headers", func(t *testing.T) {
		obs := ObservabilityConfig{
			OTLP: base,
			Logs: &OTLPConfig{
				Headers: map[string]string{"x-signal": "logs", "x-team": "obs"},
			},
		}
		merged := obs.GetLogsConfig()
		assert.Equal(t, map[string]string{"x-signal": "logs", "x-team": "obs"}, merged.Headers)
		// base headers untouched
		assert.Equal(t, map[string]string{"x-team": "platform"}, base.Headers)
	})

	t.Run("override block always wins for insecure", func(t *testing.T) {
		insecureBase := base
		insecureBase.Insecure = true
		obs := ObservabilityConfig{
			OTLP:    insecureBase,
			Metrics: &OTLPConfig{},
		}
		assert.False(t, obs.GetMetricsConfig().Insecure)
	})

	t.Run("retry settings override as a pair", func(t *testing.T) {
		obs := ObservabilityConfig{
			OTLP: base,
			Traces: &OTLPConfig{
				RetryEnabled:     false,
				RetryMaxAttempts: 5,
			},
		}
		merged := obs.GetTracesConfig()
		assert.False(t, merged.RetryEnabled)
		assert.Equal(t, 5, merged.RetryMaxAttempts)
	})
}

func TestReadPasswordFile(t *testing.T) {
	t.Run("trims surrounding whitespace", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "password")
		if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := readPasswordFile(path)
		assert.NoError(t, err)
		assert.Equal(t, "s3cret", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readPasswordFile(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})
}

func TestStringToStringSliceHookFunc(t *testing.T) {
	hook := stringToStringSliceHookFunc(",").(func(reflect.Type, reflect.Type, interface{}) (interface{}, error))
	stringType := reflect.TypeOf("")
	sliceType := reflect.TypeOf([]string{})

	t.Run("splits and trims", func(t *testing.T) {
		got, err := hook(stringType, sliceType, "https://a.example, https://b.example")
		assert.NoError(t, err)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, got)
	})

	t.Run("empty string yields empty slice", func(t *testing.T) {
		got, err := hook(stringType, sliceType, "  ")
		assert.NoError(t, err)
		assert.Equal(t, []string{}, got)
	})

	t.Run("non-string input passes through", func(t *testing.T) {
		got, err := hook(reflect.TypeOf(0), sliceType, 42)
		assert.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}
