package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"bank-intel/internal/common"
	"bank-intel/internal/policy"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelDir          string
	DataPath          string
	ListenPort        int
	LogLevel          string
	CacheSize         int
	BatchWorkers      int
	ContinueOnError   bool
	RequestTimeout    time.Duration
	MaxUploadBytes    int64
	Policy            policy.Policy
	SuspiciousCluster int
	// DriftWindow of 0 disables input drift detection.
	DriftWindow    int
	DriftMeanShift float64
	DriftRangeExit float64
}

type ConfigFile struct {
	Model struct {
		Dir               string `yaml:"dir"`
		CacheSize         int    `yaml:"cacheSize"`
		SuspiciousCluster int    `yaml:"suspiciousCluster"`
	} `yaml:"model"`

	// Pointers so an explicit 0 is kept rather than replaced by the default.
	Policy struct {
		MinCreditScore   *float64 `yaml:"minCreditScore"`
		MaxApprovalDTI   *float64 `yaml:"maxApprovalDTI"`
		IncomeCeiling    *float64 `yaml:"incomeCeiling"`
		AmountDTICeiling *float64 `yaml:"amountDTICeiling"`
	} `yaml:"policy"`

	Batch struct {
		Workers         int  `yaml:"workers"`
		ContinueOnError bool `yaml:"continueOnError"`
	} `yaml:"batch"`

	Server struct {
		ListenPort     int    `yaml:"listenPort"`
		RequestTimeout string `yaml:"requestTimeout"`
		MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	} `yaml:"server"`

	Drift struct {
		Disabled           bool     `yaml:"disabled"`
		WindowSize         int      `yaml:"windowSize"`
		MeanShiftThreshold *float64 `yaml:"meanShiftThreshold"`
		RangeExitThreshold *float64 `yaml:"rangeExitThreshold"`
	} `yaml:"drift"`

	System struct {
		DataPath string `yaml:"dataPath"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load reads a .env file when present, then the YAML file named by
// CONFIG_FILE or, without one, the environment alone. Environment variables
// always win over the file.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = common.DefaultRequestTimeout
	}

	defaults := policy.Default()
	settings := Settings{
		ModelDir:        getEnvOrDefault(common.EnvModelDir, orDefault(config.Model.Dir, common.DefaultModelDir)),
		DataPath:        getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		ListenPort:      getIntFromEnvOrConfig(common.EnvListenPort, config.Server.ListenPort, common.DefaultListenPort),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		CacheSize:       getIntFromEnvOrConfig(common.EnvCacheSize, config.Model.CacheSize, common.DefaultCacheSize),
		BatchWorkers:    getIntFromEnvOrConfig(common.EnvBatchWorkers, config.Batch.Workers, common.DefaultBatchWorkers),
		ContinueOnError: getBoolFromEnvOrConfig(common.EnvContinueOnError, config.Batch.ContinueOnError),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		MaxUploadBytes:  int64(getIntFromEnvOrConfig(common.EnvMaxUploadBytes, int(config.Server.MaxUploadBytes), common.DefaultMaxUploadBytes)),
		Policy: policy.Policy{
			MinCreditScore:   getFloatFromEnvOrConfig(common.EnvMinCreditScore, config.Policy.MinCreditScore, defaults.MinCreditScore),
			MaxApprovalDTI:   getFloatFromEnvOrConfig(common.EnvMaxApprovalDTI, config.Policy.MaxApprovalDTI, defaults.MaxApprovalDTI),
			IncomeCeiling:    getFloatFromEnvOrConfig(common.EnvIncomeCeiling, config.Policy.IncomeCeiling, defaults.IncomeCeiling),
			AmountDTICeiling: getFloatFromEnvOrConfig(common.EnvAmountDTICeiling, config.Policy.AmountDTICeiling, defaults.AmountDTICeiling),
		},
		SuspiciousCluster: getIntFromEnvOrConfig(common.EnvSuspiciousCluster, config.Model.SuspiciousCluster, common.DefaultSuspiciousCluster),
		DriftWindow:       getIntFromEnvOrConfig(common.EnvDriftWindow, config.Drift.WindowSize, common.DefaultDriftWindow),
		DriftMeanShift:    getFloatFromEnvOrConfig(common.EnvDriftMeanShift, config.Drift.MeanShiftThreshold, common.DefaultDriftMeanShift),
		DriftRangeExit:    getFloatFromEnvOrConfig(common.EnvDriftRangeExit, config.Drift.RangeExitThreshold, common.DefaultDriftRangeExit),
	}
	if config.Drift.Disabled && os.Getenv(common.EnvDriftWindow) == "" {
		settings.DriftWindow = 0
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelDir:        getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		DataPath:        os.Getenv(common.EnvDataPath), // optional, audit log disabled when empty
		ListenPort:      getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		CacheSize:       getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		BatchWorkers:    getIntOrDefault(common.EnvBatchWorkers, common.DefaultBatchWorkers),
		ContinueOnError: getBoolOrDefault(common.EnvContinueOnError, false),
		RequestTimeout:  getDurationOrDefault(common.EnvRequestTimeout, common.DefaultRequestTimeout),
		MaxUploadBytes:  int64(getIntOrDefault(common.EnvMaxUploadBytes, common.DefaultMaxUploadBytes)),
		Policy: policy.Policy{
			MinCreditScore:   getFloatOrDefault(common.EnvMinCreditScore, common.DefaultMinCreditScore),
			MaxApprovalDTI:   getFloatOrDefault(common.EnvMaxApprovalDTI, common.DefaultMaxApprovalDTI),
			IncomeCeiling:    getFloatOrDefault(common.EnvIncomeCeiling, common.DefaultIncomeCeiling),
			AmountDTICeiling: getFloatOrDefault(common.EnvAmountDTICeiling, common.DefaultAmountDTICeiling),
		},
		SuspiciousCluster: getIntOrDefault(common.EnvSuspiciousCluster, common.DefaultSuspiciousCluster),
		DriftWindow:       getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftMeanShift:    getFloatOrDefault(common.EnvDriftMeanShift, common.DefaultDriftMeanShift),
		DriftRangeExit:    getFloatOrDefault(common.EnvDriftRangeExit, common.DefaultDriftRangeExit),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue *float64, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != nil {
		return *configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	// Validate integer values
	if settings.ListenPort < common.MinListenPort || settings.ListenPort > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.ListenPort)
	}
	if settings.CacheSize < 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 0 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}
	if settings.BatchWorkers < 1 || settings.BatchWorkers > common.MaxBatchWorkers {
		return fmt.Errorf("batch workers must be between 1 and %d, got %d", common.MaxBatchWorkers, settings.BatchWorkers)
	}
	if settings.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", settings.MaxUploadBytes)
	}
	if settings.SuspiciousCluster < 0 {
		return fmt.Errorf("suspicious cluster must not be negative, got %d", settings.SuspiciousCluster)
	}

	if settings.DriftWindow < 0 || settings.DriftWindow > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between 0 and %d, got %d", common.MaxDriftWindow, settings.DriftWindow)
	}
	if settings.DriftWindow > 0 && (settings.DriftMeanShift <= 0 || settings.DriftRangeExit <= 0 || settings.DriftRangeExit > 1) {
		return fmt.Errorf("drift thresholds must be positive and the range exit share at most 1, got %.2f and %.2f",
			settings.DriftMeanShift, settings.DriftRangeExit)
	}

	// Validate time durations
	if settings.RequestTimeout < common.MinTimeout || settings.RequestTimeout > common.MaxTimeout {
		return fmt.Errorf("request timeout must be between %v and %v, got %v", common.MinTimeout, common.MaxTimeout, settings.RequestTimeout)
	}

	// Validate policy thresholds
	if err := settings.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	return nil
}
