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
	Env  string
	Port int

	Serial      SerialConfig
	Monitor     MonitorConfig
	Log         LogConfig
	CORS        CORSConfig
	Database    DatabaseConfig
	RosterStore RosterStoreConfig
	Exports     ExportsConfig
}

// SerialConfig tunes the link supervisor. The forced-refresh interval matches
// the bridge firmware's observed behaviour and may be a driver workaround, so
// it stays overridable rather than hard-coded.
type SerialConfig struct {
	BaudRate           int
	ReadTimeout        time.Duration
	HealthInterval     time.Duration
	ForcedRefresh      time.Duration
	SelfTestInterval   time.Duration
	HeartbeatWarn      time.Duration
	HeartbeatReconnect time.Duration
	StopTimeout        time.Duration
}

// MonitorConfig tunes the status aggregator and the event log.
type MonitorConfig struct {
	DuplicateWindow   time.Duration
	DurationWarning   time.Duration
	DurationCritical  time.Duration
	MaxLogEntries     int
	LogDisplayEntries int
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
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
}

// RosterStoreConfig toggles roster persistence across restarts.
type RosterStoreConfig struct {
	Enabled bool
}

// ExportsConfig controls event-log export artifacts.
type ExportsConfig struct {
	Enabled    bool
	StorageDir string
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

	cfg.Serial = SerialConfig{
		BaudRate:           v.GetInt("SERIAL_BAUD_RATE"),
		ReadTimeout:        parseDuration(v.GetString("SERIAL_READ_TIMEOUT"), time.Second),
		HealthInterval:     parseDuration(v.GetString("SERIAL_HEALTH_INTERVAL"), 10*time.Second),
		ForcedRefresh:      parseDuration(v.GetString("SERIAL_FORCED_REFRESH"), 3*time.Minute),
		SelfTestInterval:   parseDuration(v.GetString("SERIAL_SELF_TEST_INTERVAL"), time.Minute),
		HeartbeatWarn:      parseDuration(v.GetString("SERIAL_HEARTBEAT_WARN"), 40*time.Second),
		HeartbeatReconnect: parseDuration(v.GetString("SERIAL_HEARTBEAT_RECONNECT"), 90*time.Second),
		StopTimeout:        parseDuration(v.GetString("SERIAL_STOP_TIMEOUT"), 2*time.Second),
	}

	cfg.Monitor = MonitorConfig{
		DuplicateWindow:   parseDuration(v.GetString("MONITOR_DUPLICATE_WINDOW"), 5*time.Second),
		DurationWarning:   parseDuration(v.GetString("MONITOR_DURATION_WARNING"), 2*time.Minute),
		DurationCritical:  parseDuration(v.GetString("MONITOR_DURATION_CRITICAL"), 5*time.Minute),
		MaxLogEntries:     v.GetInt("MONITOR_MAX_LOG_ENTRIES"),
		LogDisplayEntries: v.GetInt("MONITOR_LOG_DISPLAY_ENTRIES"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.RosterStore = RosterStoreConfig{
		Enabled: v.GetBool("ENABLE_ROSTER_STORE"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:    v.GetBool("ENABLE_EXPORTS"),
		StorageDir: v.GetString("EXPORTS_STORAGE_DIR"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("SERIAL_BAUD_RATE", 115200)
	v.SetDefault("SERIAL_READ_TIMEOUT", "1s")
	v.SetDefault("SERIAL_HEALTH_INTERVAL", "10s")
	v.SetDefault("SERIAL_FORCED_REFRESH", "180s")
	v.SetDefault("SERIAL_SELF_TEST_INTERVAL", "60s")
	v.SetDefault("SERIAL_HEARTBEAT_WARN", "40s")
	v.SetDefault("SERIAL_HEARTBEAT_RECONNECT", "90s")
	v.SetDefault("SERIAL_STOP_TIMEOUT", "2s")

	v.SetDefault("MONITOR_DUPLICATE_WINDOW", "5s")
	v.SetDefault("MONITOR_DURATION_WARNING", "120s")
	v.SetDefault("MONITOR_DURATION_CRITICAL", "300s")
	v.SetDefault("MONITOR_MAX_LOG_ENTRIES", 1000)
	v.SetDefault("MONITOR_LOG_DISPLAY_ENTRIES", 200)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "qube_monitor")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 5)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_ROSTER_STORE", false)
	v.SetDefault("ENABLE_EXPORTS", false)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
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
