// Package config loads the service configuration from config.yaml and the
// environment: application identity, logger, Redis, PostgreSQL, the AMQP
// broker and the scheduler tuning knobs.
package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type (
	// AppConfig is the root configuration object.
	AppConfig struct {
		App       *App       `mapstructure:"app"`
		Logger    *Logger    `mapstructure:"logger"`
		Redis     *Redis     `mapstructure:"redis"`
		DB        *DB        `mapstructure:"db"`
		AMQP      *AMQP      `mapstructure:"amqp"`
		Scheduler *Scheduler `mapstructure:"scheduler"`
	}

	// App identifies the running service.
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Redis configures the key/value store connection.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	}

	// DB configures the PostgreSQL archive connection.
	DB struct {
		Connection string `mapstructure:"connection"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
	}

	// AMQP configures the execution backend broker.
	AMQP struct {
		URL string `mapstructure:"url"`
	}

	// Scheduler holds the scheduler tuning knobs. Zero values fall back to
	// the service defaults (4 workers, 1s tick, 60s snapshots).
	Scheduler struct {
		Workers        int           `mapstructure:"workers"`
		Tick           time.Duration `mapstructure:"tick"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		StatsInterval  time.Duration `mapstructure:"stats_interval"`
		RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
		RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
		TaskTTL        time.Duration `mapstructure:"task_ttl"`
	}

	// Logger contains the zap configuration.
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// addZapEncoderConfig fills the encoder config with zapcore types that
// cannot come from YAML.
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

// New loads and validates the configuration, terminating on failure since
// nothing can run without it.
func New() *AppConfig {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/secrets/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("env")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("config file not found: %v", err)
		} else {
			log.Fatalf("error reading config file: %v", err)
		}
	}

	if err := viper.BindEnv("app.name", "APP_NAME"); err != nil {
		log.Fatalf("error binding APP_NAME env variable")
	}

	// Database
	viper.BindEnv("db.host", "PG_HOST")
	viper.BindEnv("db.port", "PG_PORT")
	viper.BindEnv("db.user", "PG_USER")
	viper.BindEnv("db.password", "PG_PASS")
	viper.BindEnv("db.name", "PG_DB")

	// Redis
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Broker and scheduler
	viper.BindEnv("amqp.url", "AMQP_URL")
	viper.BindEnv("scheduler.workers", "SCHEDULER_WORKERS")

	var config *AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("unable to decode into struct: %v", err)
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)

	return config
}
