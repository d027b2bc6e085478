// Package config loads service settings from flags, environment, an optional
// YAML file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreFile  = "file"
	StoreRedis = "redis"

	BlobDisk = "disk"
	BlobS3   = "s3"
)

type Config struct {
	Port   int `mapstructure:"port"`
	WSPort int `mapstructure:"ws_port"`

	DataFile     string `mapstructure:"data_file"`
	StoreBackend string `mapstructure:"store_backend"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisKey     string `mapstructure:"redis_key"`

	UploadDir     string `mapstructure:"upload_dir"`
	BlobBackend   string `mapstructure:"blob_backend"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Region      string `mapstructure:"s3_region"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3Prefix      string `mapstructure:"s3_prefix"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`

	MaxPageSize    int      `mapstructure:"max_page_size"`
	MaxMessageSize int64    `mapstructure:"max_message_size"`
	SendQueueSize  int      `mapstructure:"send_queue_size"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	NATSURL      string   `mapstructure:"nats_url"`
	NATSSubject  string   `mapstructure:"nats_subject"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// New returns a viper instance with every key defaulted and environment
// lookup enabled. Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", 3000)
	v.SetDefault("ws_port", 3001)
	v.SetDefault("data_file", "data/messages.json")
	v.SetDefault("store_backend", StoreFile)
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("redis_key", "chaos:messages")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("blob_backend", BlobDisk)
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_prefix", "uploads/")
	v.SetDefault("max_upload_size", 50<<20)
	v.SetDefault("max_page_size", 500)
	v.SetDefault("max_message_size", 512<<10)
	v.SetDefault("send_queue_size", 256)
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_burst", 40)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "chaos.events")
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", "chaos-events")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and decodes v. With an empty
// configFile, config.yaml is searched in ./config and the working directory
// and its absence is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("ws_port %d out of range", c.WSPort))
	}
	if c.Port == c.WSPort {
		errs = append(errs, fmt.Errorf("port and ws_port must differ, both are %d", c.Port))
	}

	switch c.StoreBackend {
	case StoreFile:
		if c.DataFile == "" {
			errs = append(errs, errors.New("data_file is required for the file store"))
		}
	case StoreRedis:
		if c.RedisURL == "" || c.RedisKey == "" {
			errs = append(errs, errors.New("redis_url and redis_key are required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q", c.StoreBackend))
	}

	switch c.BlobBackend {
	case BlobDisk:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("upload_dir is required for the disk blob store"))
		}
	case BlobS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3_bucket is required for the s3 blob store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob_backend %q", c.BlobBackend))
	}

	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max_upload_size must be positive"))
	}
	if c.MaxPageSize <= 0 {
		errs = append(errs, errors.New("max_page_size must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("send_queue_size must be positive"))
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		errs = append(errs, errors.New("rate_limit must be >= 0 with a positive rate_burst"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
