package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load returns a viper instance reading YAML configuration plus environment
// variables, with dots in keys mapped to underscores (server.port becomes
// SERVER_PORT). location is either a directory searched for name.yaml or a
// path to a YAML file. A missing file is not an error: defaults and the
// environment still apply.
func Load(location, name string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch ext := filepath.Ext(location); ext {
	case ".yaml", ".yml":
		v.SetConfigFile(location)
	default:
		v.SetConfigName(name)
		for _, dir := range []string{location, ".", "./config"} {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
	case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// GetEnv returns the environment variable key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
