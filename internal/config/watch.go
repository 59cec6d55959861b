package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"nautgate/internal/logger"
)

// WatchLogLevel hot-reloads app.log_level when the config file changes, so a
// running gateway can be switched to debug without a restart.
func WatchLogLevel(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := v.ReadInConfig(); err != nil {
			logger.Warnf("config: reload after %s failed: %v", evt.Name, err)
			return
		}
		level := strings.TrimSpace(v.GetString("app.log_level"))
		if level == "" {
			return
		}
		logger.SetLevel(level)
		logger.Infof("config: log level set to %s", level)
	})
	v.WatchConfig()
	return nil
}
