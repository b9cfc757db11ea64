package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTSecret     string
	JWTIssuer     string
	JWTAccessTTL  time.Duration
	JWTRefreshTTL time.Duration
	// Blacklist selects the revocation store: "memory" or "redis".
	Blacklist string
}

type RateLimitConfig struct {
	MaxAttempts   int
	Window        time.Duration
	Block         time.Duration
	SweepInterval time.Duration
}

type AuditConfig struct {
	Enabled bool
	Stream  string
}

type StorageConfig struct {
	// Driver is "postgres" or "memory". The memory driver is meant for local runs.
	Driver string
}

type BootstrapConfig struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	RateLimit        RateLimitConfig
	Audit            AuditConfig
	Storage          StorageConfig
	Bootstrap        BootstrapConfig
	AllowCORSOrigins []string
}

var ErrInvalidConfig = errors.New("invalid config")

func Load() (*AppConfig, error) {
	loadDotenv(os.Getenv("MESTREDB_ENVIRONMENT"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("MESTREDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, decoderOptions); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the services would refuse at startup anyway,
// so the process fails before opening any connection.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("%w: security.jwtsecret is required", ErrInvalidConfig)
	}
	if c.Security.JWTAccessTTL <= 0 || c.Security.JWTRefreshTTL <= 0 {
		return fmt.Errorf("%w: token ttls must be positive", ErrInvalidConfig)
	}
	if c.Security.JWTAccessTTL >= c.Security.JWTRefreshTTL {
		return fmt.Errorf("%w: access ttl %s must be shorter than refresh ttl %s",
			ErrInvalidConfig, c.Security.JWTAccessTTL, c.Security.JWTRefreshTTL)
	}
	switch c.Security.Blacklist {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown blacklist backend %q", ErrInvalidConfig, c.Security.Blacklist)
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("%w: ratelimit.maxattempts must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Block <= 0 || c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("%w: ratelimit durations must be positive", ErrInvalidConfig)
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	return nil
}

func decoderOptions(dc *mapstructure.DecoderConfig) {
	dc.TagName = "mapstructure"
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// loadDotenv loads .env.<environment> when present and falls back to .env.
// Variables already set in the process environment win.
func loadDotenv(environment string) {
	if environment == "" {
		environment = "development"
	}
	if err := godotenv.Load(".env." + environment); err == nil {
		return
	}
	_ = godotenv.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.jwtissuer", "mestredb")
	v.SetDefault("security.jwtaccessttl", "1h")
	v.SetDefault("security.jwtrefreshttl", "168h") // 7 days
	v.SetDefault("security.blacklist", "memory")

	v.SetDefault("ratelimit.maxattempts", 5)
	v.SetDefault("ratelimit.window", "15m")
	v.SetDefault("ratelimit.block", "15m")
	v.SetDefault("ratelimit.sweepinterval", "1m")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.stream", "audit:events")

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("bootstrap.adminname", "Administrator")
	v.SetDefault("bootstrap.adminemail", "")
	v.SetDefault("bootstrap.adminpassword", "")

	v.SetDefault("allowcorsorigins", []string{})
}
