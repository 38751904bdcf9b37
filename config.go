package bulwark

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the resilience layer, sourced from
// environment variables with sensible defaults.
type Config struct {
	// ServiceQuotas maps service names to their per-window request quota.
	ServiceQuotas map[string]int
	// DefaultQuota applies to service names without an explicit quota.
	DefaultQuota    int
	RateLimitWindow time.Duration

	FailureThreshold int
	OpenTimeout      time.Duration

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64

	CacheTTL        time.Duration
	CacheMaxEntries int
	AllowedHosts    []string

	Log LogConfig
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// LoadConfig reads environment variables into a Config. It expects
// LoadDotEnv to have been executed by the caller when needed (e.g. in
// development).
func LoadConfig() Config {
	return Config{
		ServiceQuotas:   parseServiceQuotas(getEnv("BULWARK_SERVICE_RATE_LIMITS", "")),
		DefaultQuota:    getEnvAsInt("BULWARK_DEFAULT_RATE_LIMIT", 100),
		RateLimitWindow: getEnvAsDuration("BULWARK_RATE_LIMIT_WINDOW", time.Hour),

		FailureThreshold: getEnvAsInt("BULWARK_FAILURE_THRESHOLD", 5),
		OpenTimeout:      getEnvAsDuration("BULWARK_OPEN_TIMEOUT", 60*time.Second),

		RequestTimeout: getEnvAsDuration("BULWARK_REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:     getEnvAsInt("BULWARK_MAX_RETRIES", 3),
		RetryBaseDelay: getEnvAsDuration("BULWARK_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:  getEnvAsDuration("BULWARK_RETRY_MAX_DELAY", 5*time.Minute),
		RetryJitter:    getEnvAsFloat("BULWARK_RETRY_JITTER", 0),

		CacheTTL:        getEnvAsDuration("BULWARK_CACHE_TTL", time.Hour),
		CacheMaxEntries: getEnvAsInt("BULWARK_CACHE_MAX_ENTRIES", 1000),
		AllowedHosts:    splitHosts(getEnv("BULWARK_ALLOWED_HOSTS", "")),

		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// LoadDotEnv loads a .env file into the process environment when one exists.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("warning: could not load .env: %v", err)
		}
	}
}

// Allowlist builds the host allowlist from the configured hosts.
func (c *Config) Allowlist() *Allowlist {
	return NewAllowlist(c.AllowedHosts)
}

// parseServiceQuotas parses "docs=100,search=300" into a quota map. Entries
// that do not parse are skipped.
func parseServiceQuotas(value string) map[string]int {
	quotas := make(map[string]int)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		quota, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || name == "" || quota <= 0 {
			continue
		}
		quotas[name] = quota
	}
	return quotas
}

func splitHosts(value string) []string {
	var hosts []string
	for _, h := range strings.Split(value, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return dur
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
