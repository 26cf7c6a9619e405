package config

import (
	"errors"
	"io/fs"

	"github.com/spf13/viper"
)

// UnknownKeys returns keys present in the config file that have no default,
// which usually indicates a typo or a removed setting.
func UnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	defaults := viper.New()
	SetDefaults(defaults)

	valid := make(map[string]bool)
	for _, key := range defaults.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
