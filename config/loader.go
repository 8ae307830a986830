package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/c360studio/semtest/llm"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "semtest.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semtest"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	homeDir string
	workDir string
	getenv  func(string) string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHomeDir overrides the directory the user config is resolved against.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = dir }
}

// WithWorkDir overrides the directory the project config search starts from.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) { l.workDir = dir }
}

// WithEnv overrides the environment lookup.
func WithEnv(getenv func(string) string) LoaderOption {
	return func(l *Loader) { l.getenv = getenv }
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	for _, opt := range opts {
		opt(l)
	}
	if l.homeDir == "" {
		l.homeDir, _ = os.UserHomeDir()
	}
	if l.workDir == "" {
		l.workDir, _ = os.Getwd()
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/semtest/config.yaml)
// 3. Project config (semtest.yaml in current or parent directories)
// 4. Explicit config file, if path is non-empty
// 5. Environment variables
func (l *Loader) Load(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.UserConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// An explicit file must exist
	if path != "" {
		explicit, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", path))
		config.Merge(explicit)
	}

	if err := ApplyEnv(config, l.getenv); err != nil {
		return nil, err
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv applies environment overrides. Empty variables are ignored.
func ApplyEnv(c *Config, getenv func(string) string) error {
	if v := getenv("SEMTEST_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv("SEMTEST_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := getenv("MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TEMPERATURE: %w", err)
		}
		c.LLM.Temperature = t
	}
	if v := getenv("MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_TOKENS: %w", err)
		}
		c.LLM.MaxTokens = n
	}
	if env := llm.KeyEnv(c.LLM.Provider); env != "" {
		if v := getenv(env); v != "" {
			c.LLM.APIKey = v
		}
	}
	if v := getenv("SEMTEST_STORE"); v != "" {
		c.Store.Path = v
	}
	return nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist.
// It returns the path of the file.
func (l *Loader) EnsureUserConfig() (string, error) {
	userConfigPath := l.UserConfigPath()

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return userConfigPath, nil
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return "", err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return userConfigPath, nil
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for semtest.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
