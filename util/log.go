package util

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const ConsoleLog = "console"

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != ConsoleLog {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
			log.Warnf("failed to create log directory for %s: %v", logPath, err)
		}
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&CustomFormatter{TextFormatter: log.TextFormatter{FullTimestamp: true}})
	log.SetLevel(level)
	return nil
}

// CustomFormatter adds the log source carried by the entry context
type CustomFormatter struct {
	log.TextFormatter
}

type LogSource string

const (
	ManagerSource LogSource = "MANAGER"
	APISource     LogSource = "API"
)

type logSourceKey struct{}

// SourceKey is the context key read by CustomFormatter
var SourceKey = logSourceKey{}

func (f *CustomFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}

	if source, ok := entry.Context.Value(SourceKey).(LogSource); ok {
		entry.Data["source"] = string(source)
	}
	return f.TextFormatter.Format(entry)
}
