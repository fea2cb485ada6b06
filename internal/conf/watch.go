package conf

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/tphakala/pitchnet-go/internal/logger"
)

// ChangeHandler receives the previous and the newly loaded settings.
type ChangeHandler func(old, updated *Settings)

// Watch reloads the config file whenever it changes on disk and calls
// onChange with settings that passed validation. Invalid edits are logged
// and ignored. Viper offers no way to stop the watcher; it lives for the
// rest of the process.
func Watch(onChange ChangeHandler) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		reload(e.Name, onChange)
	})
	viper.WatchConfig()
	GetLogger().Info("watching config file for changes", logger.String("path", viper.ConfigFileUsed()))
}

func reload(path string, onChange ChangeHandler) {
	log := GetLogger()

	updated := &Settings{}
	if err := viper.Unmarshal(updated); err != nil {
		log.Warn("ignoring config change, unmarshal failed",
			logger.String("path", path),
			logger.Error(err))
		return
	}
	if err := ValidateSettings(updated); err != nil {
		log.Warn("ignoring invalid config change",
			logger.String("path", path),
			logger.Error(err))
		return
	}

	// Runtime-only values survive reloads.
	settingsMutex.Lock()
	old := settingsInstance
	if old != nil {
		updated.InputFile = old.InputFile
		updated.Pacing = old.Pacing
	}
	settingsInstance = updated
	settingsMutex.Unlock()

	log.Info("config reloaded", logger.String("path", path))
	if onChange != nil {
		onChange(old, updated)
	}
}
