package config

import (
	"sync"
)

var (
	globalConfig Config
	initOnce     sync.Once
)

type Config struct {
	Server   ServerConfig   `json:"server" envPrefix:"SERVER_" validate:"required"`
	Database DatabaseConfig `json:"database" envPrefix:"DB_" validate:"required"`
	Redis    RedisConfig    `json:"redis" envPrefix:"REDIS_" validate:"required"`
	Auth     AuthConfig     `json:"auth" envPrefix:"AUTH_" validate:"required"`
	Throttle ThrottleConfig `json:"throttle" envPrefix:"THROTTLE_" validate:"required"`
}

type ServerConfig struct {
	Port         string   `json:"port" env:"PORT" validate:"required,numeric"`
	Host         string   `json:"host" env:"HOST" validate:"required,hostname|ip"`
	ReadTimeout  Duration `json:"read_timeout" env:"READ_TIMEOUT" validate:"required,duration_gt0"`
	WriteTimeout Duration `json:"write_timeout" env:"WRITE_TIMEOUT" validate:"required,duration_gt0"`
}

type DatabaseConfig struct {
	Host           string `json:"host" env:"HOST" validate:"required,hostname|ip"`
	Port           string `json:"port" env:"PORT" validate:"required,numeric"`
	User           string `json:"user" env:"USER" validate:"required"`
	Password       string `json:"password" env:"PASSWORD" validate:"required"`
	DBName         string `json:"db_name" env:"NAME" validate:"required"`
	SSLMode        string `json:"ssl_mode" env:"SSL_MODE" validate:"required,oneof=disable require verify-ca verify-full"`
	MigrationsPath string `json:"migrations_path" env:"MIGRATIONS_PATH" validate:"required"`
}

type RedisConfig struct {
	Addr     string `json:"addr" env:"ADDR" validate:"required,hostname_port"`
	Password string `json:"password" env:"PASSWORD" validate:"omitempty"`
	DB       int    `json:"db" env:"DB" validate:"gte=0"`
}

// AuthConfig holds token issuance parameters. A single secret signs both
// access and refresh tokens; TTLs are independent per token kind.
type AuthConfig struct {
	AccessTokenTTL  Duration `json:"access_token_ttl" env:"ACCESS_TOKEN_TTL" validate:"required,duration_gt0"`
	RefreshTokenTTL Duration `json:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" validate:"required,duration_gt0"`
	SecretKey       string   `json:"secret_key" env:"SECRET_KEY" validate:"required"`
}

// ThrottleConfig holds the login failure window and lockout policy.
type ThrottleConfig struct {
	MaxAttempts   int      `json:"max_attempts" env:"MAX_ATTEMPTS" validate:"required,gt=0"`
	FailureWindow Duration `json:"failure_window" env:"FAILURE_WINDOW" validate:"required,duration_gt0"`
	LockDuration  Duration `json:"lock_duration" env:"LOCK_DURATION" validate:"required,duration_gt0"`
}
