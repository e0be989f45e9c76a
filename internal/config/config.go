package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// AllowedOrigins gates the websocket upgrade. Empty permits all origins.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Feed struct {
		PingInterval string `yaml:"ping_interval"`
		Buffer       int    `yaml:"buffer"`
	} `yaml:"feed"`
	Checkin struct {
		TTL string `yaml:"ttl"`
	} `yaml:"checkin"`
	Reconciler struct {
		APIURL        string `yaml:"api_url"`
		FeedURL       string `yaml:"feed_url"`
		StudentID     string `yaml:"student_id"`
		InstructorID  string `yaml:"instructor_id"`
		FetchLimit    int    `yaml:"fetch_limit"`
		CheckinDelay  string `yaml:"checkin_delay"`
		Debounce      string `yaml:"debounce"`
		PollInterval  string `yaml:"poll_interval"`
		MaxRetries    int    `yaml:"max_retries"`
		BackoffBase   string `yaml:"backoff_base"`
		BackoffMax    string `yaml:"backoff_max"`
		IdleTimeout   string `yaml:"idle_timeout"`
		RenewInterval string `yaml:"renew_interval"`
		Token         string `yaml:"token"`
	} `yaml:"reconciler"`
}

// Load reads YAML config from path. A missing file yields an empty config so
// the process can run from environment variables alone. Environment
// overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Reconciler.APIURL, "API_URL")
	setString(&c.Reconciler.FeedURL, "FEED_URL")
	setString(&c.Reconciler.StudentID, "STUDENT_ID")
	setString(&c.Reconciler.InstructorID, "INSTRUCTOR_ID")
	setString(&c.Reconciler.Token, "AUTH_TOKEN")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = parseOrigins(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
func parseOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
