// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads keyward.yaml from the user, system and working
// directories, overlays KEYWARD_* environment variables and command line
// flags, and writes default files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	PKIDir              string `mapstructure:"pki_dir" yaml:"pki_dir"`
	HashType            string `mapstructure:"hash_type" yaml:"hash_type"`
	ValidateKeys        bool   `mapstructure:"validate_keys" yaml:"validate_keys"`
	AutoAccept          bool   `mapstructure:"auto_accept" yaml:"auto_accept"`
	OpenMode            bool   `mapstructure:"open_mode" yaml:"open_mode"`
	AutosignFile        string `mapstructure:"autosign_file" yaml:"autosign_file"`
	AutorejectFile      string `mapstructure:"autoreject_file" yaml:"autoreject_file"`
	AutosignTimeout     int    `mapstructure:"autosign_timeout" yaml:"autosign_timeout"`
	AutosignGrainsDir   string `mapstructure:"autosign_grains_dir" yaml:"autosign_grains_dir"`
	PermissivePKIAccess bool   `mapstructure:"permissive_pki_access" yaml:"permissive_pki_access"`
	LocalKeyName        string `mapstructure:"local_key_name" yaml:"local_key_name"`

	Event struct {
		Socket  string        `mapstructure:"socket" yaml:"socket"`
		Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"event" yaml:"event"`

	Audit struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Type    string `mapstructure:"type" yaml:"type"`
		Dsn     string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"audit" yaml:"audit"`

	Language string `mapstructure:"language" yaml:"language"`
	Output   string `mapstructure:"output" yaml:"output"`
}

// Defaults are the values used for keys absent from every source.
func Defaults() map[string]any {
	return map[string]any{
		"pki_dir":          defaultPKIDir(),
		"hash_type":        "sha256",
		"validate_keys":    true,
		"autosign_timeout": 120,
		"local_key_name":   "master",
		"event.timeout":    "2s",
		"audit.enabled":    false,
		"audit.type":       "sqlite",
		"audit.dsn":        "./keyward.db",
		"language":         "en",
		"output":           "text",
	}
}

func defaultPKIDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "Keyward", "pki")
	}
	return "/etc/keyward/pki"
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Keyward")
		default: // Linux, macOS, etc.
			configDir = "/etc/keyward"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "keyward")
	}

	return filepath.Join(configDir, "keyward.yaml"), nil
}

// LoadConfig builds a T from defaults, config files, the environment and
// the flags of cmd, in increasing order of precedence. Flag names use
// dashes where config keys use underscores ("--pki-dir" sets pki_dir).
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("keyward")
	v.SetConfigType("yaml")

	// An explicit --config file has the highest precedence among files.
	if additionalConfigFilePath != nil && *additionalConfigFilePath != "" {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		// It's okay if the file is not found, but other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
		notFound = err
	}

	v.SetEnvPrefix("keyward")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

// WriteConfigFile writes c to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigTo(c, path)
}

// WriteConfigTo writes c as YAML to path, creating parent directories.
func WriteConfigTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o600)
}
