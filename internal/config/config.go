// Package config provides configuration management for the document translator.
// Configuration is read from a YAML or JSON file, optionally preceded by a .env
// file, and environment variables override selected values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "doc-translator.yaml"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvDatabaseURL   = "DOCTRANS_DATABASE_URL"
	EnvStorageDriver = "DOCTRANS_STORAGE_DRIVER"
	EnvRedisURL      = "DOCTRANS_REDIS_URL"
	EnvDataDir       = "DOCTRANS_DATA_DIR"
	EnvProvider      = "DOCTRANS_PROVIDER"
	EnvLogLevel      = "DOCTRANS_LOG_LEVEL"

	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default OpenAI model to use
	DefaultModel = "gpt-4o-mini"
	// DefaultProvider is the MT provider used when none is configured
	DefaultProvider = "mock"

	DefaultWorkers            = 2
	DefaultQueueSize          = 64
	DefaultSegmentConcurrency = 8
	MaxSegmentConcurrency     = 8
	DefaultMaxFileSize        = 100 * 1024 * 1024 // 100 MB
	DefaultTMThreshold        = 0.75
	DefaultRetryBackoffMS     = 500
	DefaultTimeoutSeconds     = 60
	DefaultLengthRatio        = 3.0
	DefaultConfidenceFloor    = 0.4
	DefaultMinFontRatio       = 0.6
	DefaultLineSpacing        = 1.15
	DefaultStorageDriver      = "sqlite"
	DefaultDataDir            = "data"
	DefaultLogLevel           = "info"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "doc-translator", DefaultConfigFileName)
	}

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *types.Config {
	return &types.Config{
		Pipeline: types.PipelineConfig{
			Workers:            DefaultWorkers,
			QueueSize:          DefaultQueueSize,
			SegmentConcurrency: DefaultSegmentConcurrency,
			MaxFileSize:        DefaultMaxFileSize,
		},
		Translation: types.TranslationConfig{
			Provider:       DefaultProvider,
			OpenAIBaseURL:  DefaultBaseURL,
			OpenAIModel:    DefaultModel,
			TMThreshold:    DefaultTMThreshold,
			RetryBackoffMS: DefaultRetryBackoffMS,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		QA: types.QAConfig{
			LengthRatio:     DefaultLengthRatio,
			ConfidenceFloor: DefaultConfidenceFloor,
		},
		Assembly: types.AssemblyConfig{
			MinFontRatio: DefaultMinFontRatio,
			LineSpacing:  DefaultLineSpacing,
		},
		Storage: types.StorageConfig{
			Driver:  DefaultStorageDriver,
			DataDir: DefaultDataDir,
		},
		Log: types.LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load loads configuration from the config file.
// A .env file next to the config file (or in the working directory) is loaded
// first. If the config file doesn't exist or can't be parsed, defaults are used.
// Environment variables are applied last.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	m.loadDotEnv()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = DefaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		config := DefaultConfig()
		if err := m.unmarshal(data, config); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = DefaultConfig()
		} else {
			logger.Info("configuration loaded successfully",
				logger.String("path", m.configPath),
				logger.String("provider", config.Translation.Provider),
				logger.String("storage", config.Storage.Driver))
			m.config = config
		}
	}

	m.applyEnv()
	m.applyDefaults()
	return nil
}

func (m *ConfigManager) loadDotEnv() {
	candidates := []string{filepath.Join(filepath.Dir(m.configPath), ".env"), ".env"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Warn("failed to load .env file", logger.String("path", p), logger.Err(err))
			continue
		}
		logger.Debug("loaded .env file", logger.String("path", p))
	}
}

func (m *ConfigManager) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(m.configPath))
	return ext == ".yaml" || ext == ".yml"
}

func (m *ConfigManager) unmarshal(data []byte, cfg *types.Config) error {
	if m.isYAML() {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func (m *ConfigManager) applyEnv() {
	c := m.config
	if c.Translation.OpenAIAPIKey == "" {
		c.Translation.OpenAIAPIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" && (c.Translation.OpenAIBaseURL == "" || c.Translation.OpenAIBaseURL == DefaultBaseURL) {
		c.Translation.OpenAIBaseURL = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Translation.Provider = v
	}
	if v := os.Getenv(EnvStorageDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// applyDefaults fills zero values left by a partial config file
func (m *ConfigManager) applyDefaults() {
	c := m.config
	d := DefaultConfig()

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = d.Pipeline.Workers
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = d.Pipeline.QueueSize
	}
	if c.Pipeline.SegmentConcurrency <= 0 {
		c.Pipeline.SegmentConcurrency = d.Pipeline.SegmentConcurrency
	}
	if c.Pipeline.SegmentConcurrency > MaxSegmentConcurrency {
		c.Pipeline.SegmentConcurrency = MaxSegmentConcurrency
	}
	if c.Pipeline.MaxFileSize <= 0 {
		c.Pipeline.MaxFileSize = d.Pipeline.MaxFileSize
	}
	if c.Translation.Provider == "" {
		c.Translation.Provider = d.Translation.Provider
	}
	if c.Translation.OpenAIModel == "" {
		c.Translation.OpenAIModel = d.Translation.OpenAIModel
	}
	if c.Translation.OpenAIBaseURL == "" {
		c.Translation.OpenAIBaseURL = d.Translation.OpenAIBaseURL
	}
	if c.Translation.TMThreshold <= 0 {
		c.Translation.TMThreshold = d.Translation.TMThreshold
	}
	if c.Translation.RetryBackoffMS <= 0 {
		c.Translation.RetryBackoffMS = d.Translation.RetryBackoffMS
	}
	if c.Translation.TimeoutSeconds <= 0 {
		c.Translation.TimeoutSeconds = d.Translation.TimeoutSeconds
	}
	if c.QA.LengthRatio <= 0 {
		c.QA.LengthRatio = d.QA.LengthRatio
	}
	if c.QA.ConfidenceFloor <= 0 {
		c.QA.ConfidenceFloor = d.QA.ConfidenceFloor
	}
	if c.Assembly.MinFontRatio <= 0 {
		c.Assembly.MinFontRatio = d.Assembly.MinFontRatio
	}
	if c.Assembly.LineSpacing <= 0 {
		c.Assembly.LineSpacing = d.Assembly.LineSpacing
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks that the configuration is usable.
func (m *ConfigManager) Validate() error {
	c := m.GetConfig()

	switch c.Translation.Provider {
	case "mock":
	case "openai", "eino":
		if c.Translation.OpenAIAPIKey == "" {
			return types.NewAppErrorWithDetails(types.ErrConfig, "missing API key",
				fmt.Sprintf("provider %q requires %s", c.Translation.Provider, EnvOpenAIAPIKey), nil)
		}
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown translation provider", c.Translation.Provider, nil)
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return types.NewAppErrorWithDetails(types.ErrConfig, "missing database url", "postgres storage requires a DSN", nil)
		}
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig, "unknown storage driver", c.Storage.Driver, nil)
	}

	if c.Translation.TMThreshold > 1 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid tm threshold", "must be in (0,1]", nil)
	}
	if c.Assembly.MinFontRatio > 1 {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid min font ratio", "must be in (0,1]", nil)
	}
	return nil
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	var data []byte
	var err error
	if m.isYAML() {
		data, err = yaml.Marshal(m.config)
	} else {
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return DefaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetAPIKey returns the OpenAI API key.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.Translation.OpenAIAPIKey != "" {
		return m.config.Translation.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// GetBaseURL returns the OpenAI API base URL.
func (m *ConfigManager) GetBaseURL() string {
	if m.config != nil && m.config.Translation.OpenAIBaseURL != "" {
		return m.config.Translation.OpenAIBaseURL
	}
	if envURL := os.Getenv(EnvOpenAIBaseURL); envURL != "" {
		return envURL
	}
	return DefaultBaseURL
}

// GetModel returns the OpenAI model to use.
func (m *ConfigManager) GetModel() string {
	if m.config != nil && m.config.Translation.OpenAIModel != "" {
		return m.config.Translation.OpenAIModel
	}
	return DefaultModel
}

// GetSegmentConcurrency returns the per-page translation concurrency, capped at 8.
func (m *ConfigManager) GetSegmentConcurrency() int {
	if m.config != nil && m.config.Pipeline.SegmentConcurrency > 0 {
		if m.config.Pipeline.SegmentConcurrency > MaxSegmentConcurrency {
			return MaxSegmentConcurrency
		}
		return m.config.Pipeline.SegmentConcurrency
	}
	return DefaultSegmentConcurrency
}

// GetDataDir returns the root directory for blobs, the sqlite file and the failure ledger.
func (m *ConfigManager) GetDataDir() string {
	if m.config != nil && m.config.Storage.DataDir != "" {
		return m.config.Storage.DataDir
	}
	return DefaultDataDir
}
