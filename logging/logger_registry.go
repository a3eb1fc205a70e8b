package logging

import (
	"fmt"
	"regexp"
	"sync"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so that pattern based level configuration can be applied to
// loggers created before and after the configuration is loaded.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// must be called with lr.mu held.
func (lr *Registry) applyConfigLocked(name string, logger Logger) error {
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		if !r.MatchString(name) {
			continue
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	return nil
}

func (lr *Registry) updateLoggerLevel(name string, level Level) error {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	if !ok {
		return fmt.Errorf("logger named %s not recognized", name)
	}
	logger.SetLevel(level)
	return nil
}

// UpdateConfig applies `logConfig` to every registered logger. Loggers that match no pattern are
// set to `defaultLevel`. Invalid patterns are reported to `errorLogger` and skipped.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, defaultLevel Level, errorLogger Logger) error {
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	appliedConfigs := make(map[string]Level)
	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		valid = append(valid, lpc)

		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}

		for _, name := range lr.getRegisteredLoggerNames() {
			if r.MatchString(name) {
				level, err := LevelFromString(lpc.Level)
				if err != nil {
					return err
				}
				appliedConfigs[name] = level
			}
		}
	}

	lr.mu.Lock()
	lr.logConfig = valid
	lr.mu.Unlock()

	for _, name := range lr.getRegisteredLoggerNames() {
		level, ok := appliedConfigs[name]
		if !ok {
			level = defaultLevel
		}
		if err := lr.updateLoggerLevel(name, level); err != nil {
			return err
		}
	}

	return nil
}

func (lr *Registry) getRegisteredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	return registeredNames
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	//nolint:errcheck
	lr.applyConfigLocked(name, logger)
	return logger
}

// UpdateLoggerConfig applies pattern based levels to every logger created through this package.
func UpdateLoggerConfig(logConfig []LoggerPatternConfig, defaultLevel Level, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, defaultLevel, errorLogger)
}
