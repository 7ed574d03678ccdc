package seeder

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration reads Go duration syntax ("2s", "1m30s") or bare seconds ("2", "2.5").
type Duration time.Duration

// ParseDuration parses either form.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config holds the seeder configuration.
type Config struct {
	APIBaseURL        string   `yaml:"api_base_url"`
	APITimeout        Duration `yaml:"api_timeout"`
	StateDBPath       string   `yaml:"state_db_path"`
	RateLimitDelay    Duration `yaml:"rate_limit_delay"`
	ExtractionTimeout Duration `yaml:"extraction_timeout"`
	MaxContentLength  int      `yaml:"max_content_length"`
	MinContentLength  int      `yaml:"min_content_length"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryBaseDelay    Duration `yaml:"retry_base_delay"`
	RetryMultiplier   float64  `yaml:"retry_multiplier"`
	RetryMaxDelay     Duration `yaml:"retry_max_delay"`
	Workers           int      `yaml:"workers"`
	QualityThreshold  float64  `yaml:"quality_threshold"`
	StaleAfter        Duration `yaml:"stale_after"`
	UserAgent         string   `yaml:"user_agent"`
	FlattenNamespaces bool     `yaml:"flatten_namespaces"`
	MetricsAddr       string   `yaml:"metrics_addr"`
	// FileRoot confines file sources to a directory when set.
	FileRoot string `yaml:"file_root"`
	// AllowPrivateURLs lets extractors reach loopback and private networks.
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
	// TraceSQL logs every state database statement at debug level.
	TraceSQL bool `yaml:"trace_sql"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:        "http://localhost:8000",
		APITimeout:        Duration(120 * time.Second),
		StateDBPath:       "~/.knowledge-seeder/state.db",
		RateLimitDelay:    Duration(2 * time.Second),
		ExtractionTimeout: Duration(30 * time.Second),
		MaxContentLength:  500_000,
		MinContentLength:  100,
		MaxRetries:        3,
		RetryBaseDelay:    Duration(5 * time.Second),
		RetryMultiplier:   2.0,
		RetryMaxDelay:     Duration(60 * time.Second),
		Workers:           4,
		QualityThreshold:  40,
		StaleAfter:        Duration(30 * time.Minute),
		UserAgent:         "KnowledgeSeeder/0.1.0",
	}
}

// LoadConfig reads a YAML file over the defaults, then applies the
// environment. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from SEEDER_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("SEEDER_API_BASE_URL", &c.APIBaseURL)
	duration("SEEDER_API_TIMEOUT", &c.APITimeout)
	str("SEEDER_STATE_DB_PATH", &c.StateDBPath)
	duration("SEEDER_RATE_LIMIT_DELAY", &c.RateLimitDelay)
	duration("SEEDER_EXTRACTION_TIMEOUT", &c.ExtractionTimeout)
	integer("SEEDER_MAX_CONTENT_LENGTH", &c.MaxContentLength)
	integer("SEEDER_MIN_CONTENT_LENGTH", &c.MinContentLength)
	integer("SEEDER_MAX_RETRIES", &c.MaxRetries)
	duration("SEEDER_RETRY_DELAY", &c.RetryBaseDelay)
	float("SEEDER_RETRY_MULTIPLIER", &c.RetryMultiplier)
	duration("SEEDER_RETRY_MAX_DELAY", &c.RetryMaxDelay)
	integer("SEEDER_WORKERS", &c.Workers)
	float("SEEDER_QUALITY_THRESHOLD", &c.QualityThreshold)
	duration("SEEDER_STALE_AFTER", &c.StaleAfter)
	str("SEEDER_USER_AGENT", &c.UserAgent)
	boolean("SEEDER_FLATTEN_NAMESPACES", &c.FlattenNamespaces)
	str("SEEDER_METRICS_ADDR", &c.MetricsAddr)
	str("SEEDER_FILE_ROOT", &c.FileRoot)
	boolean("SEEDER_ALLOW_PRIVATE_URLS", &c.AllowPrivateURLs)
	boolean("SEEDER_TRACE_SQL", &c.TraceSQL)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	var problems []string
	if c.APIBaseURL == "" {
		problems = append(problems, "api_base_url is required")
	}
	if c.StateDBPath == "" {
		problems = append(problems, "state_db_path is required")
	}
	if c.Workers <= 0 {
		problems = append(problems, "workers must be > 0")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max_retries must be >= 0")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		problems = append(problems, "quality_threshold must be within 0..100")
	}
	if c.RetryMultiplier < 1 {
		problems = append(problems, "retry_multiplier must be >= 1")
	}
	if c.APITimeout <= 0 || c.ExtractionTimeout <= 0 {
		problems = append(problems, "timeouts must be > 0")
	}
	if c.RateLimitDelay < 0 || c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		problems = append(problems, "delays must be >= 0")
	}
	if c.MaxContentLength <= 0 {
		problems = append(problems, "max_content_length must be > 0")
	}
	if c.MinContentLength < 0 {
		problems = append(problems, "min_content_length must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
