package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	OTP       OTPConfig
	Footprint FootprintConfig
	Chat      ChatConfig
	Exchange  ExchangeConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Path string
}

// DefaultJWTSecret is the placeholder secret used when none is configured.
const DefaultJWTSecret = "change-me"

type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	CookieSecure bool
}

// InsecureSecret reports whether tokens would be signed with an empty or
// placeholder secret.
func (a AuthConfig) InsecureSecret() bool {
	secret := strings.TrimSpace(a.JWTSecret)
	return secret == "" || secret == DefaultJWTSecret
}

// OTPConfig controls the lifetime of one-time exchange codes.
type OTPConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// FootprintConfig points at the external carbon/water scoring service.
type FootprintConfig struct {
	URL     string
	Timeout time.Duration
}

type ChatConfig struct {
	StoreTimeout time.Duration
	WriteTimeout time.Duration
}

type ExchangeConfig struct {
	SignupPoints int
}

type LogConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.path", "data.db")
	v.SetDefault("auth.jwt_secret", DefaultJWTSecret)
	v.SetDefault("auth.token_ttl", "72h")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("otp.ttl", "900s")
	v.SetDefault("otp.sweep_interval", "60s")
	v.SetDefault("footprint.url", "http://localhost:5000/predict")
	v.SetDefault("footprint.timeout", "5s")
	v.SetDefault("chat.store_timeout", "5s")
	v.SetDefault("chat.write_timeout", "10s")
	v.SetDefault("exchange.signup_points", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.include_caller", false)
}

// LoadConfig reads config.yaml (or the file at path when non-empty) and
// applies REWARE_* environment overrides on top of the defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("reware")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  splitOrigins(v.GetStringSlice("server.allowed_origins")),
		},
		Database: DatabaseConfig{Path: v.GetString("database.path")},
		Auth: AuthConfig{
			JWTSecret:    v.GetString("auth.jwt_secret"),
			TokenTTL:     v.GetDuration("auth.token_ttl"),
			CookieSecure: v.GetBool("auth.cookie_secure"),
		},
		OTP: OTPConfig{
			TTL:           v.GetDuration("otp.ttl"),
			SweepInterval: v.GetDuration("otp.sweep_interval"),
		},
		Footprint: FootprintConfig{
			URL:     v.GetString("footprint.url"),
			Timeout: v.GetDuration("footprint.timeout"),
		},
		Chat: ChatConfig{
			StoreTimeout: v.GetDuration("chat.store_timeout"),
			WriteTimeout: v.GetDuration("chat.write_timeout"),
		},
		Exchange: ExchangeConfig{SignupPoints: v.GetInt("exchange.signup_points")},
		Log: LogConfig{
			Level:         v.GetString("log.level"),
			Format:        v.GetString("log.format"),
			IncludeCaller: v.GetBool("log.include_caller"),
		},
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("port %d is out of range", cfg.Server.Port)
	}
	if cfg.OTP.TTL <= 0 {
		return Config{}, fmt.Errorf("otp.ttl must be positive")
	}
	if cfg.Exchange.SignupPoints < 0 {
		return Config{}, fmt.Errorf("exchange.signup_points must not be negative")
	}
	return cfg, nil
}

// splitOrigins accepts either a yaml list or a single comma separated env value.
func splitOrigins(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, origin := range strings.Split(item, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}
