package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "FLOWD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. FLOWD_* environment variables (FLOWD_SERVER_PORT, FLOWD_MODEL_API_KEY, ...)
//  2. YAML config file (~/.config/flowd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/flowd/config.yaml is used. A missing file is not
// an error; defaults and environment variables still apply.
//
// Only files under ~/.config/flowd/ or /etc/flowd/ are accepted, they must
// be mode 0600 or 0400, and they may not exceed 1MB. The file is opened
// once and validated through its descriptor to avoid a stat/open race.
//
// Environment variables map to config keys by stripping the FLOWD_ prefix
// and splitting on the first underscore:
//
//	FLOWD_SERVER_PORT          -> server.port
//	FLOWD_MODEL_API_KEY        -> model.api_key
//	FLOWD_ENGINE_MAX_RETRIES   -> engine.max_retries
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "flowd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// FLOWD_SECTION_FIELD_NAME splits into section.field_name: the first
	// underscore separates the section, the rest stay in the field key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the flowd config directory if it doesn't exist.
// The directory is created with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "flowd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks that path is in an allowed directory. The check
// runs even if the file doesn't exist.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed directories. If
	// evaluation fails the path may simply not exist yet; validate the
	// absolute path instead.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "flowd"),
		"/etc/flowd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/flowd/ or /etc/flowd/")
}

// validateConfigFileProperties checks file permissions and size using
// FileInfo from an already-opened descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
