package logger

import (
	"io"
	"os"
	"strings"

	"gym_subscription_notifier/internal/infra/config"

	"github.com/sirupsen/logrus"
)

const serviceName = "gymnotifier"

// Log is the process-wide logger. Packages take entries from Component.
var Log = logrus.New()

// Init applies the configured level and format and writes to stdout.
func Init(cfg *config.AppConfig) {
	Configure(Log, cfg.LogLevel, cfg.Environment, os.Stdout)
}

// Configure sets up l for the given environment. Deployed environments get
// JSON lines stamped with the service name; anything else gets readable text.
func Configure(l *logrus.Logger, level, env string, out io.Writer) {
	l.SetOutput(out)
	l.ReplaceHooks(make(logrus.LevelHooks))

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	switch strings.ToLower(env) {
	case "production", "staging":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
		l.AddHook(serviceHook{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	}

	if err != nil {
		l.Warnf("Unknown log level %q, using info", level)
	}
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = serviceName
	}
	return nil
}
