package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	CORS          CORSConfig
	Log           LogConfig
	Workflow      WorkflowConfig
	Enrollment    EnrollmentConfig
	Notifications NotificationsConfig
	Exports       ExportsConfig
	Dashboard     DashboardConfig
	Maintenance   MaintenanceConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// IdentityConfig configures bearer-token verification. Tokens are minted
// by the upstream identity provider; this service only verifies them.
type IdentityConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WorkflowConfig tunes the catalog versioning workflow. The blocking
// status list decides which in-flight newer versions freeze edits on an
// active entity; it has been retuned before and stays configurable.
type WorkflowConfig struct {
	ActiveBlockingStatuses []string
	ActivationSweep        time.Duration
	LineageCacheTTL        time.Duration
}

// EnrollmentConfig governs the enrollment approval pipeline.
type EnrollmentConfig struct {
	MaxCoursesPerRecord int
	RequireOpenPeriod   bool
}

// NotificationsConfig tunes the in-process notification dispatcher.
type NotificationsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// ExportsConfig controls CSV/PDF export rendering.
type ExportsConfig struct {
	Enabled      bool
	Organisation string
	MaxRows      int
}

// DashboardConfig governs approval dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// MaintenanceConfig freezes mutating endpoints during term rollovers.
type MaintenanceConfig struct {
	ReadOnly bool
	Message  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Identity = IdentityConfig{
		Secret:   v.GetString("IDENTITY_TOKEN_SECRET"),
		Issuer:   v.GetString("IDENTITY_TOKEN_ISSUER"),
		Audience: v.GetString("IDENTITY_TOKEN_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Workflow = WorkflowConfig{
		ActiveBlockingStatuses: splitAndTrim(v.GetString("WORKFLOW_ACTIVE_BLOCKING_STATUSES")),
		ActivationSweep:        parseDuration(v.GetString("WORKFLOW_ACTIVATION_SWEEP"), 15*time.Minute),
		LineageCacheTTL:        parseDuration(v.GetString("WORKFLOW_LINEAGE_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Enrollment = EnrollmentConfig{
		MaxCoursesPerRecord: v.GetInt("ENROLLMENT_MAX_COURSES"),
		RequireOpenPeriod:   v.GetBool("ENROLLMENT_REQUIRE_OPEN_PERIOD"),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize: v.GetInt("NOTIFICATIONS_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), time.Second),
	}

	cfg.Exports = ExportsConfig{
		Enabled:      v.GetBool("ENABLE_EXPORTS"),
		Organisation: v.GetString("EXPORTS_ORGANISATION"),
		MaxRows:      v.GetInt("EXPORTS_MAX_ROWS"),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Maintenance = MaintenanceConfig{
		ReadOnly: v.GetBool("MAINTENANCE_READONLY"),
		Message:  v.GetString("MAINTENANCE_MESSAGE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "curricula")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("IDENTITY_TOKEN_SECRET", "dev_secret")
	v.SetDefault("IDENTITY_TOKEN_ISSUER", "")
	v.SetDefault("IDENTITY_TOKEN_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WORKFLOW_ACTIVE_BLOCKING_STATUSES", "draft,submitted,pending_approval,approved,pending_activation")
	v.SetDefault("WORKFLOW_ACTIVATION_SWEEP", "15m")
	v.SetDefault("WORKFLOW_LINEAGE_CACHE_TTL", "5m")

	v.SetDefault("ENROLLMENT_MAX_COURSES", 12)
	v.SetDefault("ENROLLMENT_REQUIRE_OPEN_PERIOD", true)

	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "1s")

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_ORGANISATION", "Acadeon University")
	v.SetDefault("EXPORTS_MAX_ROWS", 5000)

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("MAINTENANCE_READONLY", false)
	v.SetDefault("MAINTENANCE_MESSAGE", "catalog maintenance in progress, mutations are paused")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
