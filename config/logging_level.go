package config

import (
	"sync"

	"go.sensorhub.dev/sensorhub/logging"
)

var globalLogger struct {
	// These variables are initialized once at startup. No need for special synchronization.
	logger           logging.Logger
	cmdLineDebugFlag bool

	// The file configuration can be reloaded while sensorhub is running. Every time it changes we
	// re-evaluate the levels.
	mu      sync.Mutex
	fileLog LogConfig
}

// InitLoggingSettings initializes the global logging settings.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	globalLogger.logger = logger
	globalLogger.cmdLineDebugFlag = cmdLineDebugFlag
	if cmdLineDebugFlag {
		logger.SetLevel(logging.DEBUG)
	}
	logger.Infof("Log level initialized: %s", logger.GetLevel())
}

// UpdateFileLogConfig applies the log section of a (re)loaded configuration file to every
// logger. The --debug flag wins over the configured level.
func UpdateFileLogConfig(logConf LogConfig) error {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	globalLogger.fileLog = logConf
	return refreshLogLevelInLock()
}

func refreshLogLevelInLock() error {
	level := logging.INFO
	if globalLogger.fileLog.Level != "" {
		parsed, err := logging.LevelFromString(globalLogger.fileLog.Level)
		if err != nil {
			return err
		}
		level = parsed
	}
	if globalLogger.cmdLineDebugFlag {
		level = logging.DEBUG
	}

	logger := globalLogger.logger
	if logger == nil {
		logger = logging.Global()
	}
	previous := logger.GetLevel()
	if err := logging.UpdateLoggerConfig(globalLogger.fileLog.Patterns, level, logger); err != nil {
		return err
	}
	if previous != level {
		logger.Infof("New log level: %s", level)
	}
	return nil
}
