package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"liuweiq/snsworker/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Redis configuration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	JobQueueKey       string
	ResultStreamCount int
	ResultStreamName  string
	StreamMaxLength   int64

	// Memcache configuration
	MemcacheAddr string
	CacheBackend string // memcache | redis | memory

	// Crawl configuration
	HTTPTimeout      time.Duration
	WorkerIdleSleep  time.Duration
	UserAgents       []string
	Headless         bool
	SyntheticComment bool
	ProfilePath      string

	// Session store configuration
	SessionSecret        string
	SessionMaxIdle       time.Duration
	SessionFailThreshold int

	// Proxy binding configuration
	ProxyMode            string // off | global | sticky-user
	ProxyServer          string
	ProxyUsername        string
	ProxyPassword        string
	ProxyTTL             time.Duration
	ProxyRotateThreshold int
	ProxyPoolEnabled     bool

	// Provider fallback configuration
	ProviderToken   string
	ProviderBaseURL string

	// Daily budget configuration
	DailyBudgetEnabled bool
	DailyBudgetUnits   int

	// Callback configuration
	CallbackTimeout time.Duration

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("CRAWLER_REDIS_DB", "0"))
	streamCount, _ := strconv.Atoi(getEnv("CRAWLER_RESULT_STREAM_COUNT", "1"))
	streamMaxLen, _ := strconv.Atoi(getEnv("CRAWLER_STREAM_MAX_LEN", "512"))
	httpTimeoutMs, _ := strconv.Atoi(getEnv("CRAWLER_HTTP_TIMEOUT_MS", "12000"))
	idleSleepMs, _ := strconv.Atoi(getEnv("CRAWLER_WORKER_IDLE_SLEEP_MS", "200"))
	sessionIdleHours, _ := strconv.Atoi(getEnv("CRAWLER_SESSION_MAX_IDLE_HOURS", "168"))
	sessionFailThreshold, _ := strconv.Atoi(getEnv("CRAWLER_SESSION_FAIL_THRESHOLD", "3"))
	proxyTTLMin, _ := strconv.Atoi(getEnv("CRAWLER_PROXY_TTL_MINUTES", "30"))
	proxyRotate, _ := strconv.Atoi(getEnv("CRAWLER_PROXY_ROTATE_THRESHOLD", "3"))
	budgetUnits, _ := strconv.Atoi(getEnv("CRAWLER_DAILY_BUDGET_UNITS", "2000"))
	callbackTimeoutS, _ := strconv.Atoi(getEnv("CRAWLER_CALLBACK_TIMEOUT_S", "10"))

	return &Config{
		RedisAddr:         getEnv("CRAWLER_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("CRAWLER_REDIS_PASSWORD", ""),
		RedisDB:           redisDB,
		JobQueueKey:       getEnv("CRAWLER_JOB_QUEUE_KEY", "crawler:jobs"),
		ResultStreamCount: streamCount,
		ResultStreamName:  getEnv("CRAWLER_RESULT_STREAM_PREFIX", "crawlresult"),
		StreamMaxLength:   int64(streamMaxLen),

		MemcacheAddr: getEnv("MEMCACHE_ADDR", "localhost:11211"),
		CacheBackend: getEnv("CACHE_BACKEND", "memory"),

		HTTPTimeout:      time.Duration(httpTimeoutMs) * time.Millisecond,
		WorkerIdleSleep:  time.Duration(idleSleepMs) * time.Millisecond,
		UserAgents:       splitList(getEnv("CRAWLER_USER_AGENT_POOL", defaultUserAgents)),
		Headless:         getBool("CRAWLER_HEADLESS", true),
		SyntheticComment: getBool("CRAWLER_SYNTHETIC_FALLBACK", false),
		ProfilePath:      getEnv("CRAWLER_PROFILE_PATH", ""),

		SessionSecret:        getEnv("CRAWLER_SESSION_SECRET", ""),
		SessionMaxIdle:       time.Duration(sessionIdleHours) * time.Hour,
		SessionFailThreshold: sessionFailThreshold,

		ProxyMode:            getEnv("CRAWLER_PROXY_MODE", "sticky-user"),
		ProxyServer:          getEnv("CRAWLER_PROXY_SERVER", ""),
		ProxyUsername:        getEnv("CRAWLER_PROXY_USERNAME", ""),
		ProxyPassword:        getEnv("CRAWLER_PROXY_PASSWORD", ""),
		ProxyTTL:             time.Duration(proxyTTLMin) * time.Minute,
		ProxyRotateThreshold: proxyRotate,
		ProxyPoolEnabled:     getBool("CRAWLER_PROXY_POOL", false),

		ProviderToken:   getEnv("CRAWLER_PROVIDER_TOKEN", ""),
		ProviderBaseURL: getEnv("CRAWLER_PROVIDER_BASE_URL", "https://api.tikhub.io"),

		DailyBudgetEnabled: getBool("CRAWLER_ENABLE_DAILY_BUDGET", false),
		DailyBudgetUnits:   budgetUnits,

		CallbackTimeout: time.Duration(callbackTimeoutS) * time.Second,

		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

// Validate checks configuration consistency before the worker starts
func (c *Config) Validate() error {
	switch c.ProxyMode {
	case "off", "global", "sticky-user":
	default:
		return errors.NewConfiguration("invalid CRAWLER_PROXY_MODE: "+c.ProxyMode, nil)
	}
	switch c.CacheBackend {
	case "memcache", "redis", "memory":
	default:
		return errors.NewConfiguration("invalid CACHE_BACKEND: "+c.CacheBackend, nil)
	}
	if c.ResultStreamCount < 1 {
		return errors.NewConfiguration("CRAWLER_RESULT_STREAM_COUNT must be >= 1", nil)
	}
	if c.HTTPTimeout < time.Second {
		return errors.NewConfiguration("CRAWLER_HTTP_TIMEOUT_MS must be >= 1000", nil)
	}
	if len(c.UserAgents) == 0 {
		return errors.NewConfiguration("CRAWLER_USER_AGENT_POOL must not be empty", nil)
	}
	return nil
}

const defaultUserAgents = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36," +
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36," +
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBool retrieves a boolean environment variable or returns a default value
func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
