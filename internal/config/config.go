// Package config carrega a configuração do gateway a partir do ambiente
// (e de flags, quando ligadas pelo cobra).
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string

	PoolName        string
	PoolCapacity    int
	AllocateTimeout time.Duration
	JournalDSN      string
	JournalTimeout  time.Duration
	EventQueueSize  int

	RateEnabled        bool
	RateRPS            float64
	RateBurst          int
	RateKeyHeader      string
	RateExemptReads    bool
	TrustXFF           bool
	RetryAfter         time.Duration
	AddHeaders         bool
	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration
	FailFastReads      bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	StatsTTL       time.Duration
	StatsBucket    string
	StatsTrackKeys bool

	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

// RedisEnabled indica se cache e estatísticas vão para o Redis.
func (c Config) RedisEnabled() bool { return strings.TrimSpace(c.RedisAddr) != "" }

// New devolve um viper com os defaults e leitura automática do ambiente.
// RATE_RPS e RATE_BURST não têm default aqui: Load decide o burst olhando
// se o RPS foi informado.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("POOL_NAME", "default")
	v.SetDefault("POOL_CAPACITY", 100)
	v.SetDefault("ALLOCATE_TIMEOUT", 2*time.Second)
	v.SetDefault("JOURNAL_DSN", "")
	v.SetDefault("JOURNAL_TIMEOUT", 3*time.Second)
	v.SetDefault("EVENT_QUEUE_SIZE", 1024)

	v.SetDefault("RATE_ENABLED", true)
	v.SetDefault("RATE_KEY_HEADER", "X-Requester-Id")
	v.SetDefault("TRUST_XFF", false)
	v.SetDefault("RATE_EXEMPT_READS", true)
	// 0: o rate limit informa o tempo até o próximo token; o 503 usa 1s.
	v.SetDefault("RETRY_AFTER", time.Duration(0))
	v.SetDefault("ADD_RATELIMIT_HEADERS", false)
	v.SetDefault("CONCURRENCY_MAX", 100)
	v.SetDefault("CONCURRENCY_TIMEOUT", time.Duration(0))
	v.SetDefault("CONCURRENCY_FAIL_FAST_READS", true)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "seats")
	v.SetDefault("STATS_TTL", 24*time.Hour)
	v.SetDefault("STATS_BUCKET", "minute")
	v.SetDefault("STATS_TRACK_KEYS", false)

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	return v
}

// Load lê e valida a configuração.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:      v.GetString("LISTEN_ADDR"),
		PoolName:        strings.TrimSpace(v.GetString("POOL_NAME")),
		PoolCapacity:    v.GetInt("POOL_CAPACITY"),
		AllocateTimeout: v.GetDuration("ALLOCATE_TIMEOUT"),
		JournalDSN:      strings.TrimSpace(v.GetString("JOURNAL_DSN")),
		JournalTimeout:  v.GetDuration("JOURNAL_TIMEOUT"),
		EventQueueSize:  v.GetInt("EVENT_QUEUE_SIZE"),

		RateEnabled:        v.GetBool("RATE_ENABLED"),
		RateRPS:            10,
		RateKeyHeader:      v.GetString("RATE_KEY_HEADER"),
		RateExemptReads:    v.GetBool("RATE_EXEMPT_READS"),
		TrustXFF:           v.GetBool("TRUST_XFF"),
		RetryAfter:         v.GetDuration("RETRY_AFTER"),
		AddHeaders:         v.GetBool("ADD_RATELIMIT_HEADERS"),
		ConcurrencyMax:     v.GetInt("CONCURRENCY_MAX"),
		ConcurrencyTimeout: v.GetDuration("CONCURRENCY_TIMEOUT"),
		FailFastReads:      v.GetBool("CONCURRENCY_FAIL_FAST_READS"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisPrefix:   v.GetString("REDIS_PREFIX"),

		StatsTTL:       v.GetDuration("STATS_TTL"),
		StatsBucket:    v.GetString("STATS_BUCKET"),
		StatsTrackKeys: v.GetBool("STATS_TRACK_KEYS"),

		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
	}

	rpsSet := v.IsSet("RATE_RPS") && v.GetString("RATE_RPS") != ""
	if rpsSet {
		cfg.RateRPS = v.GetFloat64("RATE_RPS")
	}
	// IMPORTANTE: o "burst" permite uma rajada inicial de requisições.
	// Com RPS muito baixo (ex: 0.02), o padrão 20 pode dar a impressão de que
	// o limiter não está funcionando, porque as primeiras ~20 passam.
	if v.IsSet("RATE_BURST") && v.GetString("RATE_BURST") != "" {
		cfg.RateBurst = v.GetInt("RATE_BURST")
	} else {
		cfg.RateBurst = 20
		if rpsSet && cfg.RateRPS > 0 && cfg.RateRPS < 1 {
			cfg.RateBurst = 1
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PoolName == "" {
		errs = append(errs, errors.New("POOL_NAME is required"))
	}
	if c.PoolCapacity <= 0 {
		errs = append(errs, errors.New("POOL_CAPACITY must be > 0"))
	}
	if c.AllocateTimeout < 0 {
		errs = append(errs, errors.New("ALLOCATE_TIMEOUT must be >= 0"))
	}
	if c.JournalTimeout <= 0 {
		errs = append(errs, errors.New("JOURNAL_TIMEOUT must be > 0"))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, errors.New("EVENT_QUEUE_SIZE must be > 0"))
	}
	if c.RateRPS <= 0 {
		errs = append(errs, errors.New("RATE_RPS must be > 0"))
	}
	if c.RateBurst <= 0 {
		errs = append(errs, errors.New("RATE_BURST must be > 0"))
	}
	if c.RetryAfter < 0 {
		errs = append(errs, errors.New("RETRY_AFTER must be >= 0"))
	}
	if c.ConcurrencyMax < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	switch strings.ToLower(c.StatsBucket) {
	case "minute", "none":
	default:
		errs = append(errs, errors.New("STATS_BUCKET must be minute or none"))
	}
	return errors.Join(errs...)
}
