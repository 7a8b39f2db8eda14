package config

import (
	"errors"
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	LedgerDriverRedis  = "redis"
	LedgerDriverMemory = "memory"
)

var (
	ErrEmptySecret   = errors.New("auth.jwt-secret-key is required")
	ErrUnknownLedger = errors.New("unknown ledger driver")
)

type Config struct {
	LogLevel          string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort          string `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort        string `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8080"`
	Redis             Redis  `yaml:"redis"`
	SQLiteStoragePath string `yaml:"sqlite-storage-path" env:"SQLITE_STORAGE_PATH" env-default:"rounds.db"`
	Auth              Auth   `yaml:"auth"`
	Ledger            Ledger `yaml:"ledger"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type Auth struct {
	JWTSecretKey string `yaml:"jwt-secret-key" env:"JWT_SECRET_KEY"`
	// AllowIssue enables the development endpoints that issue tokens and fund accounts.
	AllowIssue bool `yaml:"allow-issue" env:"AUTH_ALLOW_ISSUE" env-default:"false"`
}

type Ledger struct {
	Driver string `yaml:"driver" env:"LEDGER_DRIVER" env-default:"redis"`
	Token  string `yaml:"token" env:"LEDGER_TOKEN" env-default:"PSP22"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Config) Validate() error {
	if that.Auth.JWTSecretKey == "" {
		return ErrEmptySecret
	}

	switch that.Ledger.Driver {
	case LedgerDriverRedis, LedgerDriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLedger, that.Ledger.Driver)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
