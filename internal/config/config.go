// Package config defines the engine's runtime configuration shape and its
// env-override layering, built on a yaml.v3-backed Config covering Redis,
// upstream exchange connectivity, symbol/rule defaults, and the
// ring/warm-up/shard tuning knobs the evaluation engine needs.
package config

import "time"

// Config is the complete process configuration.
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Engine   EngineConfig   `yaml:"engine"`
	HTTP     HTTPConfig     `yaml:"http"`
	Journal  JournalConfig  `yaml:"journal"`
	Symbols  []string       `yaml:"symbols"`
}

// RedisConfig configures the pub/sub mirror (C9's external channel) and the
// rule-mutation feed AlertIndex (C4) resyncs from.
type RedisConfig struct {
	URL          string `yaml:"url"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MaxRetries   int    `yaml:"max_retries"`
	DialTimeout  string `yaml:"dial_timeout"`
}

// UpstreamConfig holds the upstream exchange settings. cmd/alertengine does
// not pass them to IngestionSource (C5): its Binance connector always dials
// its built-in endpoint, so WSURL and Exchange do not affect ingestion.
type UpstreamConfig struct {
	Exchange string `yaml:"exchange"`
	WSURL    string `yaml:"ws_url"`
}

// EngineConfig configures EvaluationEngine (C6) and its supporting stores.
type EngineConfig struct {
	WarmupDepth   int `yaml:"warmup_depth"`
	RingCapacity  int `yaml:"ring_capacity"`
	MaxShards     int `yaml:"max_shards"`
	ShardQueueLen int `yaml:"shard_queue_len"`
}

// HTTPConfig configures the optional read-only status surface and the
// separate Prometheus metrics listener.
type HTTPConfig struct {
	ListenAddr         string  `yaml:"listen_addr"`
	MetricsAddr        string  `yaml:"metrics_addr"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// JournalConfig configures the C10 on-disk trigger log.
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the engine's baseline configuration, used as the base
// that file and environment layers override.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			PoolSize:    10,
			MaxRetries:  3,
			DialTimeout: "5s",
		},
		Upstream: UpstreamConfig{
			Exchange: "binance",
			WSURL:    "wss://fstream.binance.com/stream",
		},
		Engine: EngineConfig{
			WarmupDepth:   200,
			RingCapacity:  256,
			MaxShards:     0, // 0 means auto: GOMAXPROCS
			ShardQueueLen: 1024,
		},
		HTTP: HTTPConfig{
			ListenAddr:         ":5000",
			MetricsAddr:        ":9090",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Journal: JournalConfig{
			Dir: "./data/journal",
		},
	}
}

// DialTimeoutDuration parses Redis.DialTimeout, falling back to 5s on a
// malformed value rather than failing startup over a config typo.
func (c Config) DialTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Redis.DialTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errConfig("symbols: at least one symbol must be configured")
	}
	if c.Engine.WarmupDepth <= 0 {
		return errConfig("engine.warmup_depth must be positive")
	}
	if c.Engine.RingCapacity <= 0 {
		return errConfig("engine.ring_capacity must be positive")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return string(e) }
