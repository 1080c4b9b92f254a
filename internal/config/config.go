package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/sift/internal/predictor"
	"github.com/MikeSquared-Agency/sift/internal/triage"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string

	InferenceURL   string
	InferenceToken string
	SentimentModel string
	CategoryModel  string
	PredictTimeout time.Duration
	PredictRetries int
	MaxInputChars  int
	Workers        int

	Labels           []string
	Threshold        float64
	ExcludedCategory string
	PolicyFile       string

	AnthropicAPIKey string
	InsightModel    string
	SlackBotToken   string
	SlackChannel    string
}

// Error is a configuration problem. It is fatal: nothing is scored until it
// is fixed.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// policyFile is the optional YAML override for the triage policy.
type policyFile struct {
	Labels           []string `yaml:"labels"`
	Threshold        *float64 `yaml:"threshold"`
	ExcludedCategory string   `yaml:"excluded_category"`
}

// Load reads configuration from the environment, after loading a .env file
// when one exists. A policy file named by SIFT_POLICY_FILE overrides the label
// set and triage policy. A variable that is set but cannot be parsed is an
// *Error; unset variables take their defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	var env envReader
	cfg := Config{
		Port:        env.getInt("SIFT_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("SIFT_API_TOKEN", ""),

		InferenceURL:   envStr("INFERENCE_URL", "https://api-inference.huggingface.co"),
		InferenceToken: envStr("INFERENCE_TOKEN", ""),
		SentimentModel: envStr("SIFT_SENTIMENT_MODEL", "cardiffnlp/twitter-roberta-base-sentiment"),
		CategoryModel:  envStr("SIFT_CATEGORY_MODEL", "facebook/bart-large-mnli"),
		PredictTimeout: env.getDuration("SIFT_PREDICT_TIMEOUT", 30*time.Second),
		PredictRetries: env.getInt("SIFT_PREDICT_RETRIES", 2),
		MaxInputChars:  env.getInt("SIFT_MAX_INPUT_CHARS", 8000),
		Workers:        env.getInt("SIFT_WORKERS", 4),

		Labels:           envList("SIFT_LABELS", predictor.DefaultLabels),
		Threshold:        env.getFloat("SIFT_THRESHOLD", triage.DefaultThreshold),
		ExcludedCategory: envStr("SIFT_EXCLUDED_CATEGORY", triage.DefaultExcluded),
		PolicyFile:       envStr("SIFT_POLICY_FILE", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		InsightModel:    envStr("SIFT_INSIGHT_MODEL", "claude-sonnet-4-20250514"),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_REPORT_CHANNEL", ""),
	}
	if env.err != nil {
		return cfg, env.err
	}

	if cfg.PolicyFile != "" {
		if err := cfg.applyPolicyFile(cfg.PolicyFile); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Field: "SIFT_POLICY_FILE", Reason: err.Error()}
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return &Error{Field: "SIFT_POLICY_FILE", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	if len(pf.Labels) > 0 {
		c.Labels = pf.Labels
	}
	if pf.Threshold != nil {
		c.Threshold = *pf.Threshold
	}
	if pf.ExcludedCategory != "" {
		c.ExcludedCategory = pf.ExcludedCategory
	}
	return nil
}

// Policy returns the configured triage policy.
func (c Config) Policy() triage.Policy {
	return triage.Policy{Threshold: c.Threshold, Excluded: c.ExcludedCategory}
}

// Validate checks everything scoring depends on and returns the first
// problem as an *Error.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &Error{Field: "SIFT_PORT", Reason: fmt.Sprintf("invalid port %d", c.Port)}
	}

	u, err := url.Parse(c.InferenceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &Error{Field: "INFERENCE_URL", Reason: fmt.Sprintf("invalid endpoint %q", c.InferenceURL)}
	}
	if c.SentimentModel == "" {
		return &Error{Field: "SIFT_SENTIMENT_MODEL", Reason: "required"}
	}
	if c.CategoryModel == "" {
		return &Error{Field: "SIFT_CATEGORY_MODEL", Reason: "required"}
	}
	if c.PredictTimeout <= 0 {
		return &Error{Field: "SIFT_PREDICT_TIMEOUT", Reason: "must be positive"}
	}
	if c.PredictRetries < 0 {
		return &Error{Field: "SIFT_PREDICT_RETRIES", Reason: "must not be negative"}
	}
	if c.MaxInputChars <= 0 {
		return &Error{Field: "SIFT_MAX_INPUT_CHARS", Reason: "must be positive"}
	}
	if c.Workers < 1 {
		return &Error{Field: "SIFT_WORKERS", Reason: "must be at least 1"}
	}

	if err := ValidateLabels(c.Labels); err != nil {
		return err
	}
	if err := c.Policy().Validate(); err != nil {
		return &Error{Field: "SIFT_THRESHOLD", Reason: err.Error()}
	}
	return nil
}

// ValidateLabels rejects an empty label set, blank labels and duplicates.
func ValidateLabels(labels []string) error {
	if len(labels) == 0 {
		return &Error{Field: "SIFT_LABELS", Reason: "label set is empty"}
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l == "" {
			return &Error{Field: "SIFT_LABELS", Reason: "blank label"}
		}
		if seen[l] {
			return &Error{Field: "SIFT_LABELS", Reason: fmt.Sprintf("duplicate label %q", l)}
		}
		seen[l] = true
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader parses typed variables and keeps the first failure.
type envReader struct {
	err error
}

func (r *envReader) fail(key, value, kind string) {
	if r.err == nil {
		r.err = &Error{Field: key, Reason: fmt.Sprintf("%q is not a valid %s", value, kind)}
	}
}

func (r *envReader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, "integer")
		return fallback
	}
	return n
}

func (r *envReader) getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.fail(key, v, "number")
		return fallback
	}
	return f
}

func (r *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, "duration")
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
