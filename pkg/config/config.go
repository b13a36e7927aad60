package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL           string `yaml:"baseUrl"`
	Token             string `yaml:"token"`
	RunName           string `yaml:"runName"`
	Env               string `yaml:"env"`
	CreateSession     bool   `yaml:"createSession"`
	BatchSize         int    `yaml:"batchSize"`
	MaxRetries        int    `yaml:"maxRetries"`
	TimeoutMs         int    `yaml:"timeoutMs"`
	FailSilently      bool   `yaml:"failSilently"`
	UploadAttachments bool   `yaml:"uploadAttachments"`
	RetryOn429        bool   `yaml:"retryOn429"`
	BackoffPolicy     string `yaml:"backoffPolicy"`
	BackoffBaseMs     int    `yaml:"backoffBaseMs"`
	BackoffMaxMs      int    `yaml:"backoffMaxMs"`
	LogLevel          string `yaml:"logLevel"`
	LogFormat         string `yaml:"logFormat"`
	TracingEnabled    bool   `yaml:"tracingEnabled"`
	OTLPEndpoint      string `yaml:"otlpEndpoint"`
	TracingSample     string `yaml:"tracingSample"`
	MetricsAddr       string `yaml:"metricsAddr"`
}

// Default returns the configuration used when a key is absent from the
// file. Unmarshalling happens over this value, so explicit `false` in the
// file still wins over a default of true.
func Default() Config {
	return Config{
		BaseURL:           "http://localhost:8080",
		Env:               "dev",
		CreateSession:     true,
		BatchSize:         1,
		MaxRetries:        3,
		TimeoutMs:         30000,
		FailSilently:      true,
		UploadAttachments: true,
		RetryOn429:        true,
		BackoffPolicy:     "exp_equal_jitter",
		BackoffBaseMs:     250,
		BackoffMaxMs:      10000,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func LoadConfig(filePath string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	applyEnv(&c)
	normalize(&c)
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file
// or an empty path, falling back to defaults plus env overrides.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		c := Default()
		applyEnv(&c)
		normalize(&c)
		return &c, nil
	}
	c, err := LoadConfig(filePath)
	if err != nil && os.IsNotExist(err) {
		d := Default()
		applyEnv(&d)
		normalize(&d)
		return &d, nil
	}
	return c, err
}

func applyEnv(c *Config) {
	if v := os.Getenv("TESTRELAY_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("TESTRELAY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("TESTRELAY_RUN_NAME"); v != "" {
		c.RunName = v
	}
	if v := os.Getenv("TESTRELAY_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("TESTRELAY_CREATE_SESSION"); v != "" {
		c.CreateSession = parseBool(v)
	}
	if v := os.Getenv("TESTRELAY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("TESTRELAY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("TESTRELAY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TimeoutMs = n
		}
	}
	if v := os.Getenv("TESTRELAY_FAIL_SILENTLY"); v != "" {
		c.FailSilently = parseBool(v)
	}
	if v := os.Getenv("TESTRELAY_UPLOAD_ATTACHMENTS"); v != "" {
		c.UploadAttachments = parseBool(v)
	}
	if v := os.Getenv("TESTRELAY_RETRY_ON_429"); v != "" {
		c.RetryOn429 = parseBool(v)
	}
	if v := os.Getenv("TESTRELAY_BACKOFF_POLICY"); v != "" {
		c.BackoffPolicy = v
	}
	if v := os.Getenv("TESTRELAY_BACKOFF_BASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackoffBaseMs = n
		}
	}
	if v := os.Getenv("TESTRELAY_BACKOFF_MAX_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackoffMaxMs = n
		}
	}
	if v := os.Getenv("TESTRELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TESTRELAY_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("TESTRELAY_TRACING_ENABLED"); v != "" {
		c.TracingEnabled = parseBool(v)
	}
	if v := os.Getenv("TESTRELAY_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("TESTRELAY_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func normalize(c *Config) {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 30000
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = 250
	}
	if c.BackoffMaxMs <= 0 {
		c.BackoffMaxMs = 10000
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_equal_jitter"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if c.BaseURL == "" {
		errs = append(errs, "baseUrl is required")
	} else {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "baseUrl must be a valid http(s) URL")
		}
	}
	if strings.TrimSpace(c.Token) == "" && !dev {
		errs = append(errs, "token is required in non-dev")
	}
	if c.BackoffMaxMs < c.BackoffBaseMs {
		errs = append(errs, "backoffMaxMs must be >= backoffBaseMs")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "1" || v == "true" || v == "yes"
}
