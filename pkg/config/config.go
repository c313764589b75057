// Package config loads the settings of the phone login commands from the
// environment.
//
// Durations accept ISO 8601 ("PT30S") as well as Go syntax ("30s"):
//
//	PHONE_LOGIN_WAIT_INTERVAL=PT30S
//	PHONE_LOGIN_REQUEST_TIMEOUT=15s
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"

	"github.com/tendant/phone-login/pkg/devbackend"
	"github.com/tendant/phone-login/pkg/network"
	"github.com/tendant/phone-login/pkg/preferences"
)

// PhoneLoginConfig configures the login client.
type PhoneLoginConfig struct {
	AppID          string `env:"PHONE_LOGIN_APP_ID" env-default:"dev-app"`
	AppSecret      string `env:"PHONE_LOGIN_APP_SECRET" env-default:"JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"`
	ProjectID      string `env:"PHONE_LOGIN_PROJECT_ID" env-default:"dev-project"`
	Environment    string `env:"PHONE_LOGIN_ENVIRONMENT" env-default:"production"`
	BaseURL        string `env:"PHONE_LOGIN_BASE_URL" env-default:""`
	PathStyle      string `env:"PHONE_LOGIN_PATH_STYLE" env-default:"phone"`
	WaitInterval   string `env:"PHONE_LOGIN_WAIT_INTERVAL" env-default:"PT30S"`
	RequestTimeout string `env:"PHONE_LOGIN_REQUEST_TIMEOUT" env-default:"PT30S"`
	DefaultCountry string `env:"PHONE_LOGIN_DEFAULT_COUNTRY" env-default:"DE"`
	LogActions     bool   `env:"PHONE_LOGIN_LOG_ACTIONS" env-default:"true"`
	LogLevel       string `env:"PHONE_LOGIN_LOG_LEVEL" env-default:"info"`
}

// StorageConfig selects where preferences are kept.
type StorageConfig struct {
	Type          string `env:"PHONE_LOGIN_STORAGE" env-default:"file"` // memory, file or redis
	DataDir       string `env:"PHONE_LOGIN_DATA_DIR" env-default:"./data"`
	RedisAddr     string `env:"PHONE_LOGIN_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"PHONE_LOGIN_REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"PHONE_LOGIN_REDIS_DB" env-default:"0"`
	RedisPrefix   string `env:"PHONE_LOGIN_REDIS_PREFIX" env-default:"phone-login:"`
}

// DevBackendConfig configures cmd/devbackend.
type DevBackendConfig struct {
	Port                  int     `env:"DEV_BACKEND_PORT" env-default:"4000"`
	AppID                 string  `env:"DEV_BACKEND_APP_ID" env-default:"dev-app"`
	AppSecret             string  `env:"DEV_BACKEND_APP_SECRET" env-default:"JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"`
	ProjectID             string  `env:"DEV_BACKEND_PROJECT_ID" env-default:"dev-project"`
	JWTSecret             string  `env:"DEV_BACKEND_JWT_SECRET" env-default:"very-secure-jwt-secret"`
	TokenLifetime         string  `env:"DEV_BACKEND_TOKEN_TTL" env-default:"PT1H"`
	CodeLifetime          string  `env:"DEV_BACKEND_CODE_TTL" env-default:"PT5M"`
	CodeRequestCapacity   int     `env:"DEV_BACKEND_CODE_REQUEST_CAPACITY" env-default:"3"`
	CodeRequestRefillRate float64 `env:"DEV_BACKEND_CODE_REQUEST_REFILL_RATE" env-default:"0.0333"`
	FixedCode             string  `env:"DEV_BACKEND_FIXED_CODE" env-default:""`
	RateLimitEnabled      bool    `env:"DEV_BACKEND_RATE_LIMIT_ENABLED" env-default:"true"`
	LogLevel              string  `env:"DEV_BACKEND_LOG_LEVEL" env-default:"info"`
}

// Load reads envFile, when it exists, into the process environment and then
// fills cfg from the environment.
func Load(envFile string, cfg interface{}) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			slog.Debug("No env file", "path", envFile)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// ParseDuration parses an ISO 8601 duration such as "PT30S", falling back
// to Go duration syntax. An empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := duration.Parse(s); err == nil {
		return d.ToTimeDuration(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NetworkConfiguration maps the settings onto a network.Configuration.
func (c PhoneLoginConfig) NetworkConfiguration() (network.Configuration, error) {
	var cfg network.Configuration
	if err := copier.Copy(&cfg, &c); err != nil {
		return network.Configuration{}, fmt.Errorf("failed to copy configuration: %w", err)
	}

	environment, err := network.ParseEnvironment(c.Environment)
	if err != nil {
		return network.Configuration{}, err
	}
	pathStyle, err := network.ParsePathStyle(c.PathStyle)
	if err != nil {
		return network.Configuration{}, err
	}
	cfg.Environment = environment
	cfg.PathStyle = pathStyle
	return cfg, nil
}

// Durations returns the parsed wait interval and request timeout.
func (c PhoneLoginConfig) Durations() (waitInterval, requestTimeout time.Duration, err error) {
	if waitInterval, err = ParseDuration(c.WaitInterval); err != nil {
		return 0, 0, fmt.Errorf("wait interval: %w", err)
	}
	if requestTimeout, err = ParseDuration(c.RequestTimeout); err != nil {
		return 0, 0, fmt.Errorf("request timeout: %w", err)
	}
	return waitInterval, requestTimeout, nil
}

// StoreConfig maps the settings onto a preferences.StoreConfig.
func (c StorageConfig) StoreConfig() preferences.StoreConfig {
	var cfg preferences.StoreConfig
	if err := copier.Copy(&cfg, &c); err != nil {
		slog.Error("Failed to copy storage configuration", "err", err)
	}
	return cfg
}

// NewStore creates the configured preferences store.
func (c StorageConfig) NewStore() (preferences.Store, error) {
	return preferences.NewStore(c.Type, c.StoreConfig())
}

// BackendConfig maps the settings onto a devbackend.Config.
func (c DevBackendConfig) BackendConfig() (devbackend.Config, error) {
	var cfg devbackend.Config
	if err := copier.Copy(&cfg, &c); err != nil {
		return devbackend.Config{}, fmt.Errorf("failed to copy configuration: %w", err)
	}

	var err error
	if cfg.TokenTTL, err = ParseDuration(c.TokenLifetime); err != nil {
		return devbackend.Config{}, fmt.Errorf("token ttl: %w", err)
	}
	if cfg.CodeTTL, err = ParseDuration(c.CodeLifetime); err != nil {
		return devbackend.Config{}, fmt.Errorf("code ttl: %w", err)
	}
	return cfg, nil
}
