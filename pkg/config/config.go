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

// Mail providers understood by the notification dispatcher.
const (
	MailProviderConsole  = "console"
	MailProviderSendGrid = "sendgrid"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Meeting      MeetingConfig
	Provisioning ProvisioningConfig
	RoomIDs      RoomIDConfig
	Callback     CallbackConfig
	Mail         MailConfig
	Cache        CacheConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrationsAuto bool
	// ConnectRetries is how many extra pings are attempted while the server starts.
	ConnectRetries int
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MeetingConfig points the gateway client at the external meeting host.
type MeetingConfig struct {
	BaseURL          string
	SharedSecret     string
	Timeout          time.Duration
	DefaultLogoutURL string
	WelcomeTemplate  string
	SiteName         string
}

// ProvisioningConfig bounds how long callers wait on a concurrent room provisioning.
type ProvisioningConfig struct {
	WaitTimeout  time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// RoomIDConfig controls numeric room identifier allocation.
type RoomIDConfig struct {
	SeedMin     int64
	SeedMax     int64
	MaxAttempts int
}

// CallbackConfig signs the end-of-meeting webhook URL handed to the meeting host.
type CallbackConfig struct {
	BaseURL       string
	SigningSecret string
	TTL           time.Duration
}

// MailConfig selects the notification transport.
type MailConfig struct {
	Provider       string
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	Workers        int
	Retries        int
	RetryDelay     time.Duration
}

// CacheConfig governs the Redis backed meeting state cache.
type CacheConfig struct {
	Enabled    bool
	RunningTTL time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:           v.GetString("DB_HOST"),
		Port:           v.GetInt("DB_PORT"),
		User:           v.GetString("DB_USER"),
		Password:       v.GetString("DB_PASSWORD"),
		Name:           v.GetString("DB_NAME"),
		SSLMode:        v.GetString("DB_SSL_MODE"),
		MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:   v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrationsAuto: v.GetBool("DB_AUTO_MIGRATE"),
		ConnectRetries: v.GetInt("DB_CONNECT_RETRIES"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		URL:      v.GetString("REDIS_URL"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Meeting = MeetingConfig{
		BaseURL:          strings.TrimRight(v.GetString("MEETING_BASE_URL"), "/"),
		SharedSecret:     v.GetString("MEETING_SHARED_SECRET"),
		Timeout:          parseDuration(v.GetString("MEETING_TIMEOUT"), 10*time.Second),
		DefaultLogoutURL: v.GetString("MEETING_DEFAULT_LOGOUT_URL"),
		WelcomeTemplate:  v.GetString("MEETING_WELCOME_TEMPLATE"),
		SiteName:         v.GetString("SITE_NAME"),
	}

	cfg.Provisioning = ProvisioningConfig{
		WaitTimeout:  parseDuration(v.GetString("PROVISION_WAIT_TIMEOUT"), 15*time.Second),
		PollInterval: parseDuration(v.GetString("PROVISION_POLL_INTERVAL"), 50*time.Millisecond),
		StaleAfter:   parseDuration(v.GetString("PROVISION_STALE_AFTER"), time.Minute),
	}

	cfg.RoomIDs = RoomIDConfig{
		SeedMin:     v.GetInt64("ROOM_ID_SEED_MIN"),
		SeedMax:     v.GetInt64("ROOM_ID_SEED_MAX"),
		MaxAttempts: v.GetInt("ROOM_ID_MAX_ATTEMPTS"),
	}

	cfg.Callback = CallbackConfig{
		BaseURL:       strings.TrimRight(v.GetString("CALLBACK_BASE_URL"), "/"),
		SigningSecret: v.GetString("CALLBACK_SIGNING_SECRET"),
		TTL:           parseDuration(v.GetString("CALLBACK_TTL"), 7*24*time.Hour),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		FromEmail:      v.GetString("MAIL_FROM_EMAIL"),
		Workers:        v.GetInt("MAIL_WORKERS"),
		Retries:        v.GetInt("MAIL_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("MAIL_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("ENABLE_CACHE"),
		RunningTTL: parseDuration(v.GetString("MEETING_RUNNING_CACHE_TTL"), 5*time.Second),
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
	v.SetDefault("DB_NAME", "darasa")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_CONNECT_RETRIES", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MEETING_BASE_URL", "http://localhost:8090/bigbluebutton/api")
	v.SetDefault("MEETING_SHARED_SECRET", "dev_meeting_secret")
	v.SetDefault("MEETING_TIMEOUT", "10s")
	v.SetDefault("MEETING_DEFAULT_LOGOUT_URL", "http://localhost:4200")
	v.SetDefault("MEETING_WELCOME_TEMPLATE", "<br>Welcome to <b>%s</b>!")
	v.SetDefault("SITE_NAME", "Darasa")

	v.SetDefault("PROVISION_WAIT_TIMEOUT", "15s")
	v.SetDefault("PROVISION_POLL_INTERVAL", "50ms")
	v.SetDefault("PROVISION_STALE_AFTER", "1m")

	v.SetDefault("ROOM_ID_SEED_MIN", 100000)
	v.SetDefault("ROOM_ID_SEED_MAX", 999999)
	v.SetDefault("ROOM_ID_MAX_ATTEMPTS", 5)

	v.SetDefault("CALLBACK_BASE_URL", "http://localhost:8080")
	v.SetDefault("CALLBACK_SIGNING_SECRET", "dev_callback_secret")
	v.SetDefault("CALLBACK_TTL", "168h")

	v.SetDefault("MAIL_PROVIDER", MailProviderConsole)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_NAME", "Darasa")
	v.SetDefault("MAIL_FROM_EMAIL", "no-reply@darasa.local")
	v.SetDefault("MAIL_WORKERS", 2)
	v.SetDefault("MAIL_RETRIES", 3)
	v.SetDefault("MAIL_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("MEETING_RUNNING_CACHE_TTL", "5s")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
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
