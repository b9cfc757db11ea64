package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	Environment string
	Redis       WorkerRedisConfig
	Archive     ArchiveConfig
	Queues      QueueConfig
	Logging     LoggingConfig
}

type WorkerRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

// Connection returns the subset the shared Redis client needs.
func (c WorkerRedisConfig) Connection() RedisConfig {
	return RedisConfig{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// ArchiveConfig points at the S3-compatible bucket that keeps audit events.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type QueueConfig struct {
	ClaimInterval time.Duration
	BatchSize     int64
	Block         time.Duration
}

type LoggingConfig struct {
	Level string
}

func LoadWorker() (*WorkerConfig, error) {
	loadDotenv(os.Getenv("MESTREDB_WORKER_ENVIRONMENT"))

	v := viper.New()
	v.SetConfigName("worker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.SetEnvPrefix("MESTREDB_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setWorkerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg, decoderOptions); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if cfg.Queues.ClaimInterval <= 0 {
		return nil, fmt.Errorf("%w: queues.claiminterval must be positive", ErrInvalidConfig)
	}
	if cfg.Archive.Enabled && strings.TrimSpace(cfg.Archive.Bucket) == "" {
		return nil, fmt.Errorf("%w: archive.bucket is required when archiving", ErrInvalidConfig)
	}

	return &cfg, nil
}

func setWorkerDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "audit:events")
	v.SetDefault("redis.group", "audit-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "127.0.0.1:9000")
	v.SetDefault("archive.accesskey", "")
	v.SetDefault("archive.secretkey", "")
	v.SetDefault("archive.bucket", "mestredb-audit")
	v.SetDefault("archive.usessl", false)
	v.SetDefault("archive.region", "us-east-1")

	v.SetDefault("queues.claiminterval", "30s")
	v.SetDefault("queues.batchsize", 10)
	v.SetDefault("queues.block", "5s")

	v.SetDefault("logging.level", "info")
}
