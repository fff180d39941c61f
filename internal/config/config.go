package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"reaper/internal/game"
)

type AccountBackend string

const (
	AccountsRedis    AccountBackend = "redis"
	AccountsPostgres AccountBackend = "postgres"
	AccountsMemory   AccountBackend = "memory"
)

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Postgres struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// DSN is the pgx connection string for the configured database.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, p.Schema)
}

type Config struct {
	Port           int
	Env            string
	Redis          Redis
	Postgres       Postgres
	Accounts       AccountBackend
	JWTSecret      string
	AdminToken     string
	GameConfig     string
	MigrationsPath string
	Game           game.Settings
}

func (c Config) Production() bool { return c.Env == "production" }

// Load reads the environment (and .env) then layers the game YAML file,
// if present, over the built-in game defaults.
func Load() (Config, error) {
	cfg := Config{
		Port: getEnvAsInt("PORT", 8080),
		Env:  getEnv("APP_ENV", "local"),
		Redis: Redis{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Postgres: Postgres{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Database: getEnv("BLUEPRINT_DB_DATABASE", "reaper"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Accounts:       AccountBackend(getEnv("ACCOUNT_STORE", string(AccountsRedis))),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		GameConfig:     getEnv("GAME_CONFIG", "config.yaml"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
	}

	switch cfg.Accounts {
	case AccountsRedis, AccountsPostgres, AccountsMemory:
	default:
		return Config{}, fmt.Errorf("ACCOUNT_STORE: unknown backend %q", cfg.Accounts)
	}
	if cfg.JWTSecret == "" && cfg.Production() {
		return Config{}, errors.New("JWT_SECRET is required in production")
	}
	if cfg.Accounts == AccountsMemory && cfg.Production() {
		return Config{}, errors.New("ACCOUNT_STORE=memory is not allowed in production")
	}

	settings, err := LoadSettings(cfg.GameConfig)
	if err != nil {
		return Config{}, err
	}
	cfg.Game = settings
	return cfg, nil
}

// LoadSettings decodes a game settings file over DefaultSettings. A
// missing file is not an error.
func LoadSettings(path string) (game.Settings, error) {
	settings := game.DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate(settings); err != nil {
		return settings, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

func validate(s game.Settings) error {
	switch {
	case !s.Limits.Min.IsPositive():
		return errors.New("limits.min must be positive")
	case s.Limits.Max.IsPositive() && s.Limits.Max.LessThan(s.Limits.Min):
		return errors.New("limits.max is below limits.min")
	case s.Jackpot.Threshold < 2:
		return errors.New("jackpot.threshold must be at least 2")
	case s.Crash.TickInterval <= 0:
		return errors.New("crash.tick_interval must be positive")
	case s.Coinflip.SweepInterval <= 0:
		return errors.New("coinflip.sweep_interval must be positive")
	case s.Payout.MaxRetries < 0:
		return errors.New("payout.max_retries must not be negative")
	case s.Payout.RetryInterval <= 0:
		return errors.New("payout.retry_interval must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
