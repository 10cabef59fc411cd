package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"gym_subscription_notifier/internal/infra/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_ProductionWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	Configure(l, "debug", "production", &buf)

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("component", "notifier").Info("tick finished")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "gymnotifier", line["service"])
	assert.Equal(t, "notifier", line["component"])
	assert.Equal(t, "tick finished", line["msg"])
}

func TestConfigure_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	Configure(l, "shouting", "development", &buf)

	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	assert.Contains(t, buf.String(), "Unknown log level")
}

func TestConfigure_DropsHooksOnReconfigure(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	Configure(l, "info", "staging", &buf)
	Configure(l, "info", "development", &buf)

	buf.Reset()
	l.Info("plain")
	assert.NotContains(t, buf.String(), "service=")
}

func TestInit(t *testing.T) {
	Init(&config.AppConfig{LogLevel: "warn", Environment: "staging"})
	assert.Equal(t, logrus.WarnLevel, Log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Log.Formatter)
}

func TestComponent(t *testing.T) {
	entry := Component("scheduler")
	assert.Equal(t, "scheduler", entry.Data["component"])
}
