package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-decodes the file backing v whenever it is written and passes the
// result to onChange. A file that fails validation is reported through err
// and the previous configuration stays in effect.
func Watch(v *viper.Viper, onChange func(cfg *Config, err error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Decode(v))
	})
	v.WatchConfig()
}
