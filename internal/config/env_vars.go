package config

import (
	"os"
	"path/filepath"
)

const (
	envPrefix  = "AUTHCLIENT"
	configName = "authclient"
)

// GetEnv returns the value of envVar, or defaultValue when it is unset.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// configDir is the per-user directory for the config file and the
// credential store.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, configName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(GetEnv("XDG_CONFIG_HOME", filepath.Join(home, ".config")), configName)
}
