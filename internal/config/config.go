// Package config loads and validates the connector platform's runtime
// configuration from APP_-prefixed environment variables, following the
// teacher's env()-with-default idiom.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-validated runtime configuration for one process.
type Config struct {
	Env            string
	DatabaseURL    string
	HTTPAddr       string
	OperatorTokens []string
	CryptoKeyB64   string // base64, decodes to exactly 32 bytes

	Scheduler SchedulerConfig
	Executor  ExecutorConfig
	Refresh   RefreshConfig
	Webhook   WebhookConfig

	GitHub GitHubConfig
}

// SchedulerConfig bounds per spec §4.4's Edge Cases / Config Bounds.
type SchedulerConfig struct {
	TickIntervalSeconds          int64
	DefaultIntervalSeconds       int64
	MinSyncIntervalSeconds       int64
	MaxOverriddenIntervalSeconds int64
	JitterPctMin                 float64
	JitterPctMax                 float64
	BatchSize                    int
}

// ExecutorConfig bounds per spec §4.5.
type ExecutorConfig struct {
	ClaimBatch        int
	Concurrency       int
	JobTimeout        time.Duration
	RetryBaseSeconds  float64
	RetryMaxSeconds   float64
	RetryJitterFactor float64
	MaxAttempts       int32
}

// RefreshConfig bounds per spec §4.6.
type RefreshConfig struct {
	TickSeconds     int64
	LeadTimeSeconds int64
	JitterFactor    float64
	Concurrency     int
}

// WebhookConfig bounds per spec §4.7: the ingress-wide rate limit plus one
// signature secret per non-GitHub provider scheme (GitHub's own secret
// lives on GitHubConfig alongside its OAuth credentials).
type WebhookConfig struct {
	RateLimitPerMinute    int
	SlackSigningSecret    string
	SlackToleranceSeconds int64
	JiraSecret            string
	ZohoCliqToken         string
	GmailJWKSURL          string
	GmailAudience         string
	GmailIssuer           string
}

// GitHubConfig carries the GitHub adapter's OAuth/webhook secrets. Empty
// ClientID means "not configured" — the adapter is skipped at startup.
type GitHubConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	WebhookSecret string
	APIBaseURL    string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int64) (int64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", k, v, err)
	}
	return n, nil
}

func envFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q: %w", k, v, err)
	}
	return f, nil
}

// operatorTokens reads the accepted operator bearer tokens: APP_OPERATOR_TOKENS
// is a comma-separated list for rotating/multiple operators; APP_OPERATOR_TOKEN
// is the singular legacy form, accepted as a one-element set when set.
func operatorTokens() []string {
	var tokens []string
	if csv := env("APP_OPERATOR_TOKENS", ""); csv != "" {
		for _, t := range strings.Split(csv, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	if single := env("APP_OPERATOR_TOKEN", ""); single != "" {
		tokens = append(tokens, single)
	}
	return tokens
}

// Load reads and validates configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	cfg.Env = env("APP_ENV", "")
	cfg.DatabaseURL = env("APP_DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("APP_DATABASE_URL is required")
	}
	cfg.HTTPAddr = env("APP_HTTP_ADDR", ":8080")
	cfg.OperatorTokens = operatorTokens()
	if len(cfg.OperatorTokens) == 0 {
		return Config{}, fmt.Errorf("APP_OPERATOR_TOKENS (or APP_OPERATOR_TOKEN) is required")
	}
	cfg.CryptoKeyB64 = env("APP_CRYPTO_KEY", "")
	keyBytes, err := base64.StdEncoding.DecodeString(cfg.CryptoKeyB64)
	if err != nil {
		return Config{}, fmt.Errorf("APP_CRYPTO_KEY must be valid base64: %w", err)
	}
	if len(keyBytes) != 32 {
		return Config{}, fmt.Errorf("APP_CRYPTO_KEY must decode to exactly 32 bytes, got %d", len(keyBytes))
	}

	sc := SchedulerConfig{}
	if sc.TickIntervalSeconds, err = envInt("APP_SCHEDULER_TICK_INTERVAL_SECONDS", 60); err != nil {
		return Config{}, err
	}
	if sc.TickIntervalSeconds < 10 || sc.TickIntervalSeconds > 300 {
		return Config{}, fmt.Errorf("APP_SCHEDULER_TICK_INTERVAL_SECONDS must be in [10,300], got %d", sc.TickIntervalSeconds)
	}
	if sc.DefaultIntervalSeconds, err = envInt("APP_SCHEDULER_DEFAULT_INTERVAL_SECONDS", 900); err != nil {
		return Config{}, err
	}
	sc.MinSyncIntervalSeconds = 60
	if sc.MaxOverriddenIntervalSeconds, err = envInt("APP_SCHEDULER_MAX_OVERRIDDEN_INTERVAL_SECONDS", 86400); err != nil {
		return Config{}, err
	}
	if sc.MaxOverriddenIntervalSeconds < 60 || sc.MaxOverriddenIntervalSeconds > 604800 {
		return Config{}, fmt.Errorf("APP_SCHEDULER_MAX_OVERRIDDEN_INTERVAL_SECONDS must be in [60,604800], got %d", sc.MaxOverriddenIntervalSeconds)
	}
	if sc.DefaultIntervalSeconds < sc.MinSyncIntervalSeconds || sc.DefaultIntervalSeconds > sc.MaxOverriddenIntervalSeconds {
		return Config{}, fmt.Errorf("APP_SCHEDULER_DEFAULT_INTERVAL_SECONDS must be in [%d,%d], got %d", sc.MinSyncIntervalSeconds, sc.MaxOverriddenIntervalSeconds, sc.DefaultIntervalSeconds)
	}
	if sc.JitterPctMin, err = envFloat("APP_SCHEDULER_JITTER_PCT_MIN", 0.0); err != nil {
		return Config{}, err
	}
	if sc.JitterPctMax, err = envFloat("APP_SCHEDULER_JITTER_PCT_MAX", 0.2); err != nil {
		return Config{}, err
	}
	if sc.JitterPctMin < 0 || sc.JitterPctMax > 1.0 || sc.JitterPctMin > sc.JitterPctMax {
		return Config{}, fmt.Errorf("scheduler jitter bounds must satisfy 0<=min<=max<=1.0, got min=%v max=%v", sc.JitterPctMin, sc.JitterPctMax)
	}
	batchSize, err := envInt("APP_SCHEDULER_BATCH_SIZE", 128)
	if err != nil {
		return Config{}, err
	}
	sc.BatchSize = int(batchSize)
	cfg.Scheduler = sc

	ec := ExecutorConfig{}
	claimBatch, err := envInt("APP_EXECUTOR_CLAIM_BATCH", 32)
	if err != nil {
		return Config{}, err
	}
	ec.ClaimBatch = int(claimBatch)
	concurrency, err := envInt("APP_EXECUTOR_CONCURRENCY", 8)
	if err != nil {
		return Config{}, err
	}
	ec.Concurrency = int(concurrency)
	jobTimeoutSeconds, err := envInt("APP_EXECUTOR_JOB_TIMEOUT_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	ec.JobTimeout = time.Duration(jobTimeoutSeconds) * time.Second
	ec.RetryBaseSeconds = 5
	ec.RetryMaxSeconds = 900
	ec.RetryJitterFactor = 0.1
	maxAttempts, err := envInt("APP_EXECUTOR_MAX_ATTEMPTS", 10)
	if err != nil {
		return Config{}, err
	}
	ec.MaxAttempts = int32(maxAttempts)
	cfg.Executor = ec

	rc := RefreshConfig{}
	if rc.TickSeconds, err = envInt("APP_REFRESH_TICK_SECONDS", 300); err != nil {
		return Config{}, err
	}
	if rc.LeadTimeSeconds, err = envInt("APP_REFRESH_LEAD_TIME_SECONDS", 600); err != nil {
		return Config{}, err
	}
	if rc.JitterFactor, err = envFloat("APP_REFRESH_JITTER_FACTOR", 0.2); err != nil {
		return Config{}, err
	}
	refreshConcurrency, err := envInt("APP_REFRESH_CONCURRENCY", 4)
	if err != nil {
		return Config{}, err
	}
	rc.Concurrency = int(refreshConcurrency)
	cfg.Refresh = rc

	rateLimit, err := envInt("APP_WEBHOOK_RATE_LIMIT_PER_MINUTE", 300)
	if err != nil {
		return Config{}, err
	}
	slackTolerance, err := envInt("APP_WEBHOOK_SLACK_TOLERANCE_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.Webhook = WebhookConfig{
		RateLimitPerMinute:    int(rateLimit),
		SlackSigningSecret:    env("APP_WEBHOOK_SLACK_SIGNING_SECRET", ""),
		SlackToleranceSeconds: slackTolerance,
		JiraSecret:            env("APP_WEBHOOK_JIRA_SECRET", ""),
		ZohoCliqToken:         env("APP_WEBHOOK_ZOHO_CLIQ_TOKEN", ""),
		GmailJWKSURL:          env("APP_WEBHOOK_GMAIL_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
		GmailAudience:         env("APP_WEBHOOK_GMAIL_AUDIENCE", ""),
		GmailIssuer:           env("APP_WEBHOOK_GMAIL_ISSUER", "https://accounts.google.com"),
	}

	cfg.GitHub = GitHubConfig{
		ClientID:      env("APP_GITHUB_CLIENT_ID", ""),
		ClientSecret:  env("APP_GITHUB_CLIENT_SECRET", ""),
		RedirectURI:   env("APP_GITHUB_REDIRECT_URI", ""),
		WebhookSecret: env("APP_GITHUB_WEBHOOK_SECRET", ""),
		APIBaseURL:    env("APP_GITHUB_API_BASE", ""),
	}

	return cfg, nil
}

// Redacted returns a copy of the config with secrets masked, safe to log.
func (c Config) Redacted() map[string]any {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return strings.Repeat("*", 8)
	}
	return map[string]any{
		"env":             c.Env,
		"http_addr":       c.HTTPAddr,
		"database_url":    mask(c.DatabaseURL),
		"operator_tokens": fmt.Sprintf("%d configured", len(c.OperatorTokens)),
		"crypto_key":      mask(c.CryptoKeyB64),
		"scheduler":       c.Scheduler,
		"executor":        c.Executor,
		"refresh":         c.Refresh,
		"webhook": map[string]any{
			"rate_limit_per_minute":   c.Webhook.RateLimitPerMinute,
			"slack_tolerance_seconds": c.Webhook.SlackToleranceSeconds,
			"slack_configured":        c.Webhook.SlackSigningSecret != "",
			"jira_configured":         c.Webhook.JiraSecret != "",
			"zoho_cliq_configured":    c.Webhook.ZohoCliqToken != "",
			"gmail_jwks_url":          c.Webhook.GmailJWKSURL,
			"gmail_audience":          c.Webhook.GmailAudience,
			"gmail_issuer":            c.Webhook.GmailIssuer,
		},
		"github_client_id":  c.GitHub.ClientID,
		"github_configured": c.GitHub.ClientID != "",
	}
}
