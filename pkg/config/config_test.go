package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SWITCH_HOST", "SWITCH_PORT", "SWITCH_PASSWORD", "SWITCH_CONNECT_TIMEOUT",
		"SWITCH_RECONNECT_DELAY", "SWITCH_MAX_RECONNECTS",
		"HTTP_ENABLED", "HTTP_PORT", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT",
		"DATABASE_ENABLED", "DATABASE_HOST", "DATABASE_PORT", "DATABASE_NAME",
		"DATABASE_USER", "DATABASE_PASSWORD",
		"QUEUE_SEGMENT_WORKERS", "QUEUE_AUDIO_WORKERS", "QUEUE_BATCH_WORKERS",
		"QUEUE_AGGREGATION_WORKERS", "QUEUE_BUFFER_SIZE", "QUEUE_RECORDING_SETTLE_DELAY",
		"STT_PROVIDER", "STT_DEFAULT_LANGUAGE", "STT_MODEL",
		"AMQP_URL", "AMQP_QUEUE_NAME", "AMQP_REALTIME_QUEUE_NAME",
		"LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Switch.Host)
	assert.Equal(t, 8021, cfg.Switch.Port)
	assert.Equal(t, "ClueCon", cfg.Switch.Password)
	assert.Equal(t, 10*time.Second, cfg.Switch.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Switch.ReconnectDelay)
	assert.Equal(t, 10, cfg.Switch.MaxReconnects)

	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, 8085, cfg.HTTP.Port)

	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "voiceerp", cfg.Database.Name)

	assert.Equal(t, 2, cfg.Queue.SegmentWorkers)
	assert.Equal(t, 1, cfg.Queue.BatchWorkers)
	assert.Equal(t, 256, cfg.Queue.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.Queue.RecordingSettleDelay)

	assert.Equal(t, "openai", cfg.STT.Provider)
	assert.Equal(t, "bn-BD", cfg.STT.DefaultLanguage)
	assert.Equal(t, "whisper-1", cfg.STT.Model)

	assert.Empty(t, cfg.Messaging.URL)
	assert.Equal(t, "voiceerp-transcripts", cfg.Messaging.QueueName)
	assert.Equal(t, "voiceerp-segments", cfg.Messaging.RealtimeName)

	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SWITCH_HOST", "10.0.0.5")
	t.Setenv("SWITCH_PORT", "9021")
	t.Setenv("SWITCH_RECONNECT_DELAY", "250ms")
	t.Setenv("SWITCH_MAX_RECONNECTS", "3")
	t.Setenv("DATABASE_ENABLED", "true")
	t.Setenv("DATABASE_NAME", "callcenter")
	t.Setenv("STT_PROVIDER", "GOOGLE")
	t.Setenv("QUEUE_RECORDING_SETTLE_DELAY", "2s")

	cfg, err := Load(quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Switch.Host)
	assert.Equal(t, 9021, cfg.Switch.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Switch.ReconnectDelay)
	assert.Equal(t, 3, cfg.Switch.MaxReconnects)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "callcenter", cfg.Database.Name)
	assert.Equal(t, "google", cfg.STT.Provider)
	assert.Equal(t, 2*time.Second, cfg.Queue.RecordingSettleDelay)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SWITCH_PORT", "not-a-port")

	_, err := Load(quietLogger())
	assert.Error(t, err)
}

func TestLoadRejectsPortOutOfRange(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SWITCH_PORT", "70000")

	_, err := Load(quietLogger())
	assert.Error(t, err)
}

func TestLoadRejectsNegativeReconnectCeiling(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SWITCH_MAX_RECONNECTS", "-1")

	_, err := Load(quietLogger())
	assert.Error(t, err)
}

func TestConfigureLogger(t *testing.T) {
	logger := logrus.New()

	ConfigureLogger(logger, LoggingConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	ConfigureLogger(logger, LoggingConfig{Level: "bogus", Format: "text"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DURATION", "1m30s")

	assert.Equal(t, "value", getEnv("TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_KEY", "fallback"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.False(t, getEnvBool("TEST_UNSET_KEY", false))

	value, err := getEnvInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	duration, err := getEnvDuration("TEST_DURATION", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, duration)
}
