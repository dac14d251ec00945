package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"subjectfix/internal/subject"
)

// EnvConfigFile names the environment variable holding an optional TOML file.
const EnvConfigFile = "SUBJECTFIX_CONFIG"

const patternSeparator = "||"

type Config struct {
	RedisURL string `toml:"redis_url"`

	IMAPHost           string   `toml:"imap_host"`
	IMAPPort           int      `toml:"imap_port"`
	IMAPUser           string   `toml:"imap_user"`
	IMAPPass           string   `toml:"imap_pass"`
	IMAPTLS            bool     `toml:"imap_tls"`
	IMAPTrash          string   `toml:"imap_trash"`
	IMAPTimeoutSeconds int      `toml:"imap_timeout_seconds"`
	WatchFolders       []string `toml:"watch_folders"`
	PollSeconds        int      `toml:"poll_seconds"`
	NewMailDelayMS     int      `toml:"new_mail_delay_ms"`
	PageSize           int      `toml:"page_size"`
	ProcessExisting    bool     `toml:"process_existing"`

	SubjectPatterns []string `toml:"subject_patterns"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	APIAddr              string `toml:"api_addr"`
	MetricsAddr          string `toml:"metrics_addr"`
	AdminPassword        string `toml:"admin_password"`
	JWTSecret            string `toml:"jwt_secret"`
	RateLimitLoginPerMin int    `toml:"rate_limit_login_per_min"`

	JournalBlobs string `toml:"journal_blobs"`
	S3Endpoint   string `toml:"s3_endpoint"`
	S3Bucket     string `toml:"s3_bucket"`
	S3AccessKey  string `toml:"s3_access_key"`
	S3SecretKey  string `toml:"s3_secret_key"`
	S3Prefix     string `toml:"s3_prefix"`
	S3Secure     bool   `toml:"s3_secure"`
}

func Defaults() *Config {
	return &Config{
		RedisURL:             "redis://localhost:6379/0",
		IMAPHost:             "localhost",
		IMAPPort:             993,
		IMAPTLS:              true,
		IMAPTimeoutSeconds:   60,
		WatchFolders:         []string{"INBOX"},
		PollSeconds:          30,
		NewMailDelayMS:       1500,
		PageSize:             50,
		SubjectPatterns:      []string{subject.DefaultPattern},
		LogLevel:             "info",
		LogFormat:            "json",
		APIAddr:              ":8080",
		MetricsAddr:          ":9090",
		RateLimitLoginPerMin: 10,
		JournalBlobs:         "redis",
		S3Prefix:             "originals/",
		S3Secure:             true,
	}
}

// Load builds the configuration from defaults, the TOML file named by
// SUBJECTFIX_CONFIG if set, and environment variables, later sources winning.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the keys present in a TOML file onto cfg.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	c.IMAPHost = getEnv("IMAP_HOST", c.IMAPHost)
	c.IMAPPort = getEnvInt("IMAP_PORT", c.IMAPPort)
	c.IMAPUser = getEnv("IMAP_USER", c.IMAPUser)
	c.IMAPPass = getEnv("IMAP_PASS", c.IMAPPass)
	c.IMAPTLS = getEnvBool("IMAP_TLS", c.IMAPTLS)
	c.IMAPTrash = getEnv("IMAP_TRASH", c.IMAPTrash)
	c.IMAPTimeoutSeconds = getEnvInt("IMAP_TIMEOUT_SECONDS", c.IMAPTimeoutSeconds)
	c.WatchFolders = getEnvList("WATCH_FOLDERS", ",", c.WatchFolders)
	c.PollSeconds = getEnvInt("POLL_SECONDS", c.PollSeconds)
	c.NewMailDelayMS = getEnvInt("NEW_MAIL_DELAY_MS", c.NewMailDelayMS)
	c.PageSize = getEnvInt("PAGE_SIZE", c.PageSize)
	c.ProcessExisting = getEnvBool("PROCESS_EXISTING", c.ProcessExisting)

	c.SubjectPatterns = getEnvList("SUBJECT_PATTERNS", patternSeparator, c.SubjectPatterns)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.APIAddr = getEnv("API_ADDR", c.APIAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.AdminPassword = getEnv("ADMIN_PASSWORD", c.AdminPassword)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.RateLimitLoginPerMin = getEnvInt("RATE_LIMIT_LOGIN_PER_MIN", c.RateLimitLoginPerMin)

	c.JournalBlobs = getEnv("JOURNAL_BLOBS", c.JournalBlobs)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = getEnv("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = getEnv("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Prefix = getEnv("S3_PREFIX", c.S3Prefix)
	c.S3Secure = getEnvBool("S3_SECURE", c.S3Secure)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *Config) NewMailDelay() time.Duration {
	return time.Duration(c.NewMailDelayMS) * time.Millisecond
}

func (c *Config) IMAPTimeout() time.Duration {
	return time.Duration(c.IMAPTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits the variable on sep, dropping blank items. An empty variable
// keeps the fallback.
func getEnvList(key, sep string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
