package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileEnv names the environment variable holding the optional TOML file path.
const FileEnv = "PROVISION_CONFIG_FILE"

// Load reads configuration for a pipeline run and validates it.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadSandbox reads configuration for the sandbox server. API credentials
// are not required.
func LoadSandbox() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateSandbox(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	cfg := &Config{}
	v := reflect.ValueOf(cfg).Elem()

	if err := applyDefaults(v); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path := os.Getenv(FileEnv); path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	if err := applyEnv(v); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, nil
}

// decodeFile layers a TOML file over cfg. Keys absent from the file keep
// their current values.
func decodeFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// walk calls fn for every settable leaf field, recursing into nested structs.
func walk(v reflect.Value, fn func(field reflect.StructField, val reflect.Value) error) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := walk(fieldVal, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(field, fieldVal); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults sets every field that carries a default tag.
func applyDefaults(v reflect.Value) error {
	return walk(v, func(field reflect.StructField, val reflect.Value) error {
		def := field.Tag.Get("default")
		if def == "" {
			return nil
		}
		if err := setField(val, def); err != nil {
			return fmt.Errorf("invalid default for %s=%q: %w", field.Tag.Get("env"), def, err)
		}
		return nil
	})
}

// applyEnv overrides fields whose environment variable (or its alternate)
// is set to a non-empty value.
func applyEnv(v reflect.Value) error {
	return walk(v, func(field reflect.StructField, val reflect.Value) error {
		envName := field.Tag.Get("env")
		if envName == "" {
			return nil
		}

		value := os.Getenv(envName)
		if value == "" {
			if alt := field.Tag.Get("envAlt"); alt != "" {
				value = os.Getenv(alt)
			}
		}
		if value == "" {
			return nil
		}

		if err := setField(val, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
		return nil
	})
}

// missingRequired lists the env names of required fields still at their
// zero value after every layer was applied.
func missingRequired(v reflect.Value) []string {
	var missing []string
	walk(v, func(field reflect.StructField, val reflect.Value) error {
		if field.Tag.Get("required") == "true" && val.IsZero() {
			missing = append(missing, field.Tag.Get("env"))
		}
		return nil
	})
	return missing
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks the settings a pipeline run needs.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	for _, name := range missingRequired(reflect.ValueOf(c).Elem()) {
		errs = append(errs, name+" is required")
	}

	if c.API.BaseURL != "" {
		if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("PROVISION_API_BASE_URL (%q) must be an absolute URL", c.API.BaseURL))
		}
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, "PROVISION_API_TIMEOUT must be positive")
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, "PROVISION_API_MAX_RETRIES must be non-negative")
	}
	if c.API.RetryBackoff < 0 {
		errs = append(errs, "PROVISION_API_RETRY_BACKOFF must be non-negative")
	}

	if c.Run.InputDir == "" {
		errs = append(errs, "PROVISION_INPUT_DIR must not be empty")
	}
	if c.Run.OutputDir == "" {
		errs = append(errs, "PROVISION_OUTPUT_DIR must not be empty")
	}
	if c.Run.BatchSize <= 0 {
		errs = append(errs, "PROVISION_BATCH_SIZE must be positive")
	}
	if c.Run.MaxRows <= 0 {
		errs = append(errs, "PROVISION_MAX_ROWS must be positive")
	}

	if c.Database.Enabled() && c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, "ARCHIVE_ENDPOINT is required when archiving is enabled")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "ARCHIVE_BUCKET is required when archiving is enabled")
		}
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			errs = append(errs, "ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when archiving is enabled")
		}
		if c.Archive.Timeout <= 0 {
			errs = append(errs, "ARCHIVE_TIMEOUT must be positive")
		}
	}

	errs = append(errs, c.commonErrors()...)
	return joinErrors(errs)
}

// ValidateSandbox checks the settings the sandbox server needs.
func (c *Config) ValidateSandbox() error {
	var errs []string

	if c.Sandbox.Port <= 0 || c.Sandbox.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SANDBOX_PORT (%d) must be 1-65535", c.Sandbox.Port))
	}
	if c.Sandbox.Token == "" {
		errs = append(errs, "SANDBOX_TOKEN must not be empty")
	}
	if c.Sandbox.ShutdownTimeout <= 0 {
		errs = append(errs, "SANDBOX_SHUTDOWN_TIMEOUT must be positive")
	}
	if _, err := c.Sandbox.ParseFaults(); err != nil {
		errs = append(errs, err.Error())
	}

	errs = append(errs, c.commonErrors()...)
	return joinErrors(errs)
}

func (c *Config) commonErrors() []string {
	var errs []string

	validEnvs := map[string]bool{"dev": true, "staging": true, "prod": true}
	if !validEnvs[strings.ToLower(c.Environment)] {
		errs = append(errs, fmt.Sprintf("PROVISION_ENV (%q) must be one of: dev, staging, prod", c.Environment))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}
	return errs
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
}

// ParseFaults turns the key=status list into a map.
func (c *SandboxConfig) ParseFaults() (map[string]int, error) {
	faults := make(map[string]int, len(c.Faults))
	for _, entry := range c.Faults {
		key, status, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("SANDBOX_FAULTS entry %q must be key=status", entry)
		}
		code, err := strconv.Atoi(strings.TrimSpace(status))
		if err != nil || code < 400 || code > 599 {
			return nil, fmt.Errorf("SANDBOX_FAULTS entry %q needs a 4xx or 5xx status", entry)
		}
		faults[key] = code
	}
	return faults, nil
}

// String returns a safe string representation of the config for logging.
// Credentials and connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Environment: %q, ", c.Environment))
	b.WriteString(fmt.Sprintf("API: {BaseURL: %q, Token: [MASKED], Timeout: %s, MaxRetries: %d}, ",
		c.API.BaseURL, c.API.Timeout, c.API.MaxRetries))
	b.WriteString(fmt.Sprintf("Run: {InputDir: %q, OutputDir: %q, BatchSize: %d, MaxRows: %d, WriteSafeCompensation: %v}, ",
		c.Run.InputDir, c.Run.OutputDir, c.Run.BatchSize, c.Run.MaxRows, c.Run.WriteSafeCompensation))
	b.WriteString(fmt.Sprintf("Database: {Enabled: %v, URL: [MASKED]}, ", c.Database.Enabled()))
	b.WriteString(fmt.Sprintf("Archive: {Enabled: %v, Endpoint: %q, Bucket: %q, SecretKey: [MASKED]}, ",
		c.Archive.Enabled, c.Archive.Endpoint, c.Archive.Bucket))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
