package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads a yaml.v3 config file, layering a .env file and then the
// process environment on top of its defaults.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load builds a Config starting from Default(), overlaying path's YAML
// contents if it exists, then environment variables. path may be empty, in
// which case only the environment layer applies.
func (l *Loader) Load(path string) (Config, error) {
	// No .env file present is expected in production; fall through to the
	// process environment either way.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PUBSUB_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v, ok := envInt("REDIS_DB"); ok {
		cfg.Redis.DB = v
	}
	if v := os.Getenv("UPSTREAM_WS_URL"); v != "" {
		cfg.Upstream.WSURL = v
	}
	if v := os.Getenv("UPSTREAM_EXCHANGE"); v != "" {
		cfg.Upstream.Exchange = v
	}
	if v, ok := envInt("WARMUP_DEPTH"); ok {
		cfg.Engine.WarmupDepth = v
	}
	if v, ok := envInt("RING_CAPACITY"); ok {
		cfg.Engine.RingCapacity = v
	}
	if v, ok := envInt("MAX_SHARDS"); ok {
		cfg.Engine.MaxShards = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.HTTP.MetricsAddr = v
	}
	if v := os.Getenv("JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitAndTrim(v)
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
