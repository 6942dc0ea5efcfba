package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	Switch    SwitchConfig    `json:"switch"`
	HTTP      HTTPConfig      `json:"http"`
	Database  DatabaseConfig  `json:"database"`
	Queue     QueueConfig     `json:"queue"`
	STT       STTConfig       `json:"stt"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
}

// SwitchConfig holds the switch event-socket connection configuration
type SwitchConfig struct {
	// Switch event-socket host
	Host string `json:"host" env:"SWITCH_HOST" default:"127.0.0.1"`

	// Switch event-socket port
	Port int `json:"port" env:"SWITCH_PORT" default:"8021"`

	// Event-socket authentication secret
	Password string `json:"-" env:"SWITCH_PASSWORD" default:"ClueCon"`

	// Time limit for a single connect attempt
	ConnectTimeout time.Duration `json:"connect_timeout" env:"SWITCH_CONNECT_TIMEOUT" default:"10s"`

	// Fixed delay between reconnect attempts
	ReconnectDelay time.Duration `json:"reconnect_delay" env:"SWITCH_RECONNECT_DELAY" default:"5s"`

	// Reconnect attempt ceiling before the connection is declared failed
	MaxReconnects int `json:"max_reconnects" env:"SWITCH_MAX_RECONNECTS" default:"10"`
}

// HTTPConfig holds the HTTP/WebSocket server configuration
type HTTPConfig struct {
	Enabled      bool          `json:"enabled" env:"HTTP_ENABLED" default:"true"`
	Port         int           `json:"port" env:"HTTP_PORT" default:"8085"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig controls durable persistence. When disabled the pipeline
// runs in dry-run mode and store writes are logged instead of executed.
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled" env:"DATABASE_ENABLED" default:"false"`
	Host            string        `json:"host" env:"DATABASE_HOST" default:"127.0.0.1"`
	Port            int           `json:"port" env:"DATABASE_PORT" default:"3306"`
	Name            string        `json:"name" env:"DATABASE_NAME" default:"voiceerp"`
	Username        string        `json:"username" env:"DATABASE_USER" default:"voiceerp"`
	Password        string        `json:"-" env:"DATABASE_PASSWORD"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" default:"30m"`
}

// QueueConfig holds async processing queue configuration
type QueueConfig struct {
	// Worker counts per lane
	SegmentWorkers     int `json:"segment_workers" env:"QUEUE_SEGMENT_WORKERS" default:"2"`
	AudioWorkers       int `json:"audio_workers" env:"QUEUE_AUDIO_WORKERS" default:"2"`
	BatchWorkers       int `json:"batch_workers" env:"QUEUE_BATCH_WORKERS" default:"1"`
	AggregationWorkers int `json:"aggregation_workers" env:"QUEUE_AGGREGATION_WORKERS" default:"2"`

	// Buffered capacity per lane
	BufferSize int `json:"buffer_size" env:"QUEUE_BUFFER_SIZE" default:"256"`

	// Delay before the first batch-transcription attempt so the recording
	// file finishes flushing to disk
	RecordingSettleDelay time.Duration `json:"recording_settle_delay" env:"QUEUE_RECORDING_SETTLE_DELAY" default:"5s"`
}

// STTConfig holds batch transcription provider configuration
type STTConfig struct {
	// Provider name: openai, google or mock
	Provider string `json:"provider" env:"STT_PROVIDER" default:"openai"`

	// Default language hint passed to the provider
	DefaultLanguage string `json:"default_language" env:"STT_DEFAULT_LANGUAGE" default:"bn-BD"`

	// Model hint for providers that support one
	Model string `json:"model" env:"STT_MODEL" default:"whisper-1"`
}

// MessagingConfig holds AMQP publishing configuration. Publishing is
// disabled when URL is empty.
type MessagingConfig struct {
	URL          string `json:"-" env:"AMQP_URL"`
	Exchange     string `json:"exchange" env:"AMQP_EXCHANGE"`
	QueueName    string `json:"queue_name" env:"AMQP_QUEUE_NAME" default:"voiceerp-transcripts"`
	RealtimeName string `json:"realtime_name" env:"AMQP_REALTIME_QUEUE_NAME" default:"voiceerp-segments"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	Timeout time.Duration `json:"timeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads configuration from the environment, optionally seeded from a
// .env file found in the working directory or its parent.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom, _ = filepath.Abs(envFile)
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadSwitchConfig(&config.Switch); err != nil {
		return nil, errors.Wrap(err, "failed to load switch configuration")
	}

	if err := loadHTTPConfig(&config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	if err := loadDatabaseConfig(&config.Database); err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}

	if err := loadQueueConfig(&config.Queue); err != nil {
		return nil, errors.Wrap(err, "failed to load queue configuration")
	}

	loadSTTConfig(&config.STT)
	loadMessagingConfig(&config.Messaging)
	loadLoggingConfig(&config.Logging)

	if err := loadShutdownConfig(&config.Shutdown); err != nil {
		return nil, errors.Wrap(err, "failed to load shutdown configuration")
	}

	return config, nil
}

func loadSwitchConfig(cfg *SwitchConfig) error {
	cfg.Host = getEnv("SWITCH_HOST", "127.0.0.1")
	cfg.Password = getEnv("SWITCH_PASSWORD", "ClueCon")

	var err error
	if cfg.Port, err = getEnvInt("SWITCH_PORT", 8021); err != nil {
		return err
	}
	if cfg.ConnectTimeout, err = getEnvDuration("SWITCH_CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return err
	}
	if cfg.ReconnectDelay, err = getEnvDuration("SWITCH_RECONNECT_DELAY", 5*time.Second); err != nil {
		return err
	}
	if cfg.MaxReconnects, err = getEnvInt("SWITCH_MAX_RECONNECTS", 10); err != nil {
		return err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.NewInvalidInput("SWITCH_PORT out of range", map[string]interface{}{"port": cfg.Port})
	}
	if cfg.MaxReconnects < 0 {
		return errors.NewInvalidInput("SWITCH_MAX_RECONNECTS must not be negative")
	}
	return nil
}

func loadHTTPConfig(cfg *HTTPConfig) error {
	cfg.Enabled = getEnvBool("HTTP_ENABLED", true)

	var err error
	if cfg.Port, err = getEnvInt("HTTP_PORT", 8085); err != nil {
		return err
	}
	if cfg.ReadTimeout, err = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second); err != nil {
		return err
	}
	if cfg.WriteTimeout, err = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.NewInvalidInput("HTTP_PORT out of range", map[string]interface{}{"port": cfg.Port})
	}
	return nil
}

func loadDatabaseConfig(cfg *DatabaseConfig) error {
	cfg.Enabled = getEnvBool("DATABASE_ENABLED", false)
	cfg.Host = getEnv("DATABASE_HOST", "127.0.0.1")
	cfg.Name = getEnv("DATABASE_NAME", "voiceerp")
	cfg.Username = getEnv("DATABASE_USER", "voiceerp")
	cfg.Password = getEnv("DATABASE_PASSWORD", "")

	var err error
	if cfg.Port, err = getEnvInt("DATABASE_PORT", 3306); err != nil {
		return err
	}
	if cfg.MaxOpenConns, err = getEnvInt("DATABASE_MAX_OPEN_CONNS", 10); err != nil {
		return err
	}
	if cfg.MaxIdleConns, err = getEnvInt("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return err
	}
	if cfg.ConnMaxLifetime, err = getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return err
	}

	if cfg.Enabled && cfg.Name == "" {
		return errors.NewInvalidInput("DATABASE_NAME required when DATABASE_ENABLED is true")
	}
	return nil
}

func loadQueueConfig(cfg *QueueConfig) error {
	var err error
	if cfg.SegmentWorkers, err = getEnvInt("QUEUE_SEGMENT_WORKERS", 2); err != nil {
		return err
	}
	if cfg.AudioWorkers, err = getEnvInt("QUEUE_AUDIO_WORKERS", 2); err != nil {
		return err
	}
	if cfg.BatchWorkers, err = getEnvInt("QUEUE_BATCH_WORKERS", 1); err != nil {
		return err
	}
	if cfg.AggregationWorkers, err = getEnvInt("QUEUE_AGGREGATION_WORKERS", 2); err != nil {
		return err
	}
	if cfg.BufferSize, err = getEnvInt("QUEUE_BUFFER_SIZE", 256); err != nil {
		return err
	}
	if cfg.RecordingSettleDelay, err = getEnvDuration("QUEUE_RECORDING_SETTLE_DELAY", 5*time.Second); err != nil {
		return err
	}

	if cfg.BufferSize <= 0 {
		return errors.NewInvalidInput("QUEUE_BUFFER_SIZE must be positive", map[string]interface{}{"buffer_size": cfg.BufferSize})
	}
	return nil
}

func loadSTTConfig(cfg *STTConfig) {
	cfg.Provider = strings.ToLower(getEnv("STT_PROVIDER", "openai"))
	cfg.DefaultLanguage = getEnv("STT_DEFAULT_LANGUAGE", "bn-BD")
	cfg.Model = getEnv("STT_MODEL", "whisper-1")
}

func loadMessagingConfig(cfg *MessagingConfig) {
	cfg.URL = getEnv("AMQP_URL", "")
	cfg.Exchange = getEnv("AMQP_EXCHANGE", "")
	cfg.QueueName = getEnv("AMQP_QUEUE_NAME", "voiceerp-transcripts")
	cfg.RealtimeName = getEnv("AMQP_REALTIME_QUEUE_NAME", "voiceerp-segments")
}

func loadLoggingConfig(cfg *LoggingConfig) {
	cfg.Level = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Format = strings.ToLower(getEnv("LOG_FORMAT", "json"))
}

func loadShutdownConfig(cfg *ShutdownConfig) error {
	var err error
	if cfg.Timeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return err
	}
	return nil
}

// ConfigureLogger applies the logging configuration to a logrus logger
func ConfigureLogger(logger *logrus.Logger, cfg LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// getEnv retrieves an environment variable or returns the default
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default
func getEnvBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvInt retrieves an integer environment variable or returns the default
func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewInvalidInput(fmt.Sprintf("%s is not a valid integer", key), map[string]interface{}{"value": value})
	}
	return parsed, nil
}

// getEnvDuration retrieves a duration environment variable or returns the default
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NewInvalidInput(fmt.Sprintf("%s is not a valid duration", key), map[string]interface{}{"value": value})
	}
	return parsed, nil
}
