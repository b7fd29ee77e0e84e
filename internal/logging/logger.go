package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	baseLogger *logrus.Logger
	initOnce   sync.Once
)

// Init builds the process-wide logger. Level and format come from the
// arguments with LOG_LEVEL/LOG_FORMAT env overrides winning.
func Init(level, format string) *logrus.Logger {
	initOnce.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stdout)

		if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
			format = v
		}
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "text":
			l.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02T15:04:05-07:00",
				PadLevelText:    true,
			})
		default:
			l.SetFormatter(&logrus.JSONFormatter{})
		}

		if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
			level = v
		}
		parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			parsed = logrus.InfoLevel
		}
		l.SetLevel(parsed)

		baseLogger = l
	})
	return baseLogger
}

// L returns the process logger, initializing defaults if Init was never called.
func L() *logrus.Logger {
	if baseLogger == nil {
		return Init("info", "json")
	}
	return baseLogger
}

// C returns a component-scoped entry.
func C(component string) *logrus.Entry {
	return L().WithField("component", component)
}
