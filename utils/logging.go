package utils

import (
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Logger returns the shared application logger.
func Logger() *logrus.Logger {
	return log
}

func init() {
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(logrus.InfoLevel)
}

// LogError reports an error to the log and to Sentry with structured tags.
func LogError(err error, message string, fields map[string]interface{}) {
	if err == nil {
		return
	}

	entry := log.WithError(err)
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Error(message)

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		scope.SetTag("message", message)
		sentry.CaptureException(err)
	})
}

// LogEvent records a notable non-error event.
func LogEvent(message string, fields map[string]interface{}) {
	entry := log.WithFields(logrus.Fields(fields))
	entry.Info(message)
}

// LogWarn records a recoverable anomaly worth surfacing.
func LogWarn(message string, fields map[string]interface{}) {
	log.WithFields(logrus.Fields(fields)).Warn(message)
}
