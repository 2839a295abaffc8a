package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/randpool/internal/logger"
)

// Watch reloads the config file whenever it changes and passes the new
// configuration to onChange. Invalid edits are logged and ignored. Only
// settings that can change at runtime, such as the log level, should be
// read from the reloaded value.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)
	if _, err := readConfigFile(v); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", "file", e.Name, logger.KeyError, err)
			return
		}
		logger.Info("Configuration reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogLevel is an onChange callback for Watch that follows
// logging.level.
func ApplyLogLevel(cfg *Config) {
	if strings.EqualFold(cfg.Logging.Level, logger.GetLevel().String()) {
		return
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.Info("Log level changed", "level", cfg.Logging.Level)
}
