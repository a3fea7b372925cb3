package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/libtrack/loan-service/internal/gateway"
	"github.com/libtrack/loan-service/pkg/email"
	"github.com/libtrack/loan-service/pkg/kafka"
	"github.com/libtrack/loan-service/pkg/logger"
	"github.com/libtrack/loan-service/pkg/postgres"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"30s"`
	WriteTimeout time.Duration
}

type Sweeper struct {
	Interval   time.Duration `yaml:"interval" envconfig:"SWEEP_INTERVAL" default:"10m"`
	PendingTTL time.Duration `yaml:"pendingTTL" envconfig:"SWEEP_PENDING_TTL" default:"1h"`
}

type Config struct {
	Server   HTTPServer `yaml:"server"`
	Database postgres.Config
	Kafka    kafka.Config
	Gateway  gateway.Config
	SMTP     email.Config
	Sweeper  Sweeper
	AuthMode string     `envconfig:"AUTH_MODE" default:"jwt"`
	JWTKey   string     `envconfig:"JWT_KEY" default:"secret"`
	Log      logger.Log `yaml:"log"`
}

var (
	once sync.Once
	cfg  Config
)

type Option func(*Config)

func WithLogLevel(level zapcore.Level) Option {
	return func(c *Config) {
		c.Log.LogLevel = level
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = d
	}
}

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
