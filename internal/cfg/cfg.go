package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"lottery-engine/internal/common"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"
)

type Settings struct {
	DataPath           string
	ModelsDir          string
	Variants           []lottery.Variant
	DefaultAlgorithms  []string
	EnsembleAlgorithms []string
	WindowSize         int
	HistoricalDays     int
	ValidationSplit    float64
	RandomSeed         int64
	SeedDraws          int
	APIPort            int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	LogLevel           string
	AutoTrain          bool
	DriftThreshold     float64
	AlgorithmParams    map[string]map[string]any
}

type ConfigFile struct {
	Engine struct {
		Variants           []string `yaml:"lotteryTypes"`
		DefaultAlgorithms  []string `yaml:"defaultAlgorithms"`
		EnsembleAlgorithms []string `yaml:"ensembleAlgorithms"`
		WindowSize         int      `yaml:"windowSize"`
		ValidationSplit    float64  `yaml:"validationSplit"`
		RandomSeed         int64    `yaml:"randomSeed"`
		AutoTrain          bool     `yaml:"autoTrain"`
		DriftThreshold     float64  `yaml:"driftThreshold"`
	} `yaml:"engine"`

	Data struct {
		DataPath       string `yaml:"dataPath"`
		ModelsDir      string `yaml:"modelsDir"`
		HistoricalDays int    `yaml:"historicalDays"`
		SeedDraws      int    `yaml:"seedDraws"`
	} `yaml:"data"`

	Server struct {
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
		LogLevel     string `yaml:"logLevel"`
	} `yaml:"server"`

	// Algorithms holds per-algorithm parameter overrides keyed by name.
	Algorithms map[string]map[string]any `yaml:"algorithms"`
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE or the
// environment alone, and validates the result.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

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

	readTimeout, err := time.ParseDuration(config.Server.ReadTimeout)
	if err != nil {
		readTimeout = 15 * time.Second
	}
	writeTimeout, err := time.ParseDuration(config.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 60 * time.Second
	}

	variants, err := lottery.ParseVariants(getListFromEnvOrConfig(common.EnvVariants, config.Engine.Variants, common.DefaultVariants))
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	settings := Settings{
		DataPath:           getEnvOrDefault(common.EnvDataPath, orString(config.Data.DataPath, common.DefaultDataPath)),
		ModelsDir:          getEnvOrDefault(common.EnvModelsDir, orString(config.Data.ModelsDir, common.DefaultModelsDir)),
		Variants:           variants,
		DefaultAlgorithms:  getListFromEnvOrConfig(common.EnvDefaultAlgorithms, config.Engine.DefaultAlgorithms, common.DefaultAlgorithms),
		EnsembleAlgorithms: getListFromEnvOrConfig(common.EnvEnsembleAlgorithms, config.Engine.EnsembleAlgorithms, common.DefaultEnsembleAlgorithms),
		WindowSize:         getIntFromEnvOrConfig(common.EnvWindowSize, config.Engine.WindowSize, common.DefaultWindowSize),
		HistoricalDays:     getIntFromEnvOrConfig(common.EnvHistoricalDays, config.Data.HistoricalDays, common.DefaultHistoricalDays),
		ValidationSplit:    getFloatFromEnvOrConfig(common.EnvValidationSplit, config.Engine.ValidationSplit, common.DefaultValidationSplit),
		RandomSeed:         int64(getIntFromEnvOrConfig(common.EnvRandomSeed, int(config.Engine.RandomSeed), common.DefaultRandomSeed)),
		SeedDraws:          getIntFromEnvOrConfig(common.EnvSeedDraws, config.Data.SeedDraws, common.DefaultSeedDraws),
		APIPort:            getIntFromEnvOrConfig(common.EnvAPIPort, config.Server.Port, common.DefaultAPIPort),
		ReadTimeout:        getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:       getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, orString(config.Server.LogLevel, common.DefaultLogLevel)),
		AutoTrain:          getBoolFromEnvOrConfig(common.EnvAutoTrain, config.Engine.AutoTrain),
		DriftThreshold:     getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Engine.DriftThreshold, common.DefaultDriftThreshold),
		AlgorithmParams:    config.Algorithms,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	variants, err := lottery.ParseVariants(splitOrDefault(os.Getenv(common.EnvVariants), common.DefaultVariants))
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	settings := Settings{
		DataPath:           getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ModelsDir:          getEnvOrDefault(common.EnvModelsDir, common.DefaultModelsDir),
		Variants:           variants,
		DefaultAlgorithms:  splitOrDefault(os.Getenv(common.EnvDefaultAlgorithms), common.DefaultAlgorithms),
		EnsembleAlgorithms: splitOrDefault(os.Getenv(common.EnvEnsembleAlgorithms), common.DefaultEnsembleAlgorithms),
		WindowSize:         getIntOrDefault(common.EnvWindowSize, common.DefaultWindowSize),
		HistoricalDays:     getIntOrDefault(common.EnvHistoricalDays, common.DefaultHistoricalDays),
		ValidationSplit:    getFloatOrDefault(common.EnvValidationSplit, common.DefaultValidationSplit),
		RandomSeed:         int64(getIntOrDefault(common.EnvRandomSeed, common.DefaultRandomSeed)),
		SeedDraws:          getIntOrDefault(common.EnvSeedDraws, common.DefaultSeedDraws),
		APIPort:            getIntOrDefault(common.EnvAPIPort, common.DefaultAPIPort),
		ReadTimeout:        getDurationOrDefault(common.EnvReadTimeout, 15*time.Second),
		WriteTimeout:       getDurationOrDefault(common.EnvWriteTimeout, 60*time.Second),
		LogLevel:           getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		AutoTrain:          getBoolOrDefault(common.EnvAutoTrain, false),
		DriftThreshold:     getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// AlgorithmConfig builds the model configuration for name and variant,
// applying any parameter overrides from the config file.
func (s *Settings) AlgorithmConfig(name string, v lottery.Variant) ml.AlgorithmConfig {
	c := ml.NewAlgorithmConfig(v)
	for k, val := range s.AlgorithmParams[name] {
		c.Parameters[k] = val
	}
	if _, ok := c.Parameters["random_state"]; !ok && s.RandomSeed != 0 {
		c.Parameters["random_state"] = s.RandomSeed
	}
	return c
}

// Addr is the listen address of the HTTP server.
func (s *Settings) Addr() string {
	return ":" + strconv.Itoa(s.APIPort)
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
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

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return append([]string(nil), def...)
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return append([]string(nil), def...)
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
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
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ModelsDir == "" {
		return fmt.Errorf("models directory cannot be empty")
	}

	if len(settings.Variants) == 0 {
		return fmt.Errorf("at least one lottery type must be specified")
	}
	for _, v := range settings.Variants {
		if !v.Valid() {
			return fmt.Errorf("unknown lottery type %q", v)
		}
	}

	if len(settings.DefaultAlgorithms) == 0 {
		return fmt.Errorf("at least one default algorithm must be specified")
	}
	for _, names := range [][]string{settings.DefaultAlgorithms, settings.EnsembleAlgorithms} {
		for _, name := range names {
			if _, err := ml.ParseAlgorithm(name); err != nil {
				return err
			}
		}
	}

	if settings.WindowSize < common.MinWindowSize || settings.WindowSize > common.MaxWindowSize {
		return fmt.Errorf("window size must be between %d and %d, got %d", common.MinWindowSize, common.MaxWindowSize, settings.WindowSize)
	}
	if settings.HistoricalDays < settings.WindowSize+1 {
		return fmt.Errorf("historical days must be at least window size + 1 (%d), got %d", settings.WindowSize+1, settings.HistoricalDays)
	}
	if settings.ValidationSplit <= 0 || settings.ValidationSplit > common.MaxValidationSplit {
		return fmt.Errorf("validation split must be in (0, %.1f], got %f", common.MaxValidationSplit, settings.ValidationSplit)
	}
	if settings.SeedDraws < 0 || settings.SeedDraws > common.MaxSeedDraws {
		return fmt.Errorf("seed draws must be between 0 and %d, got %d", common.MaxSeedDraws, settings.SeedDraws)
	}
	if settings.APIPort < common.MinPort || settings.APIPort > common.MaxPort {
		return fmt.Errorf("API port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.APIPort)
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 30*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 30m, got %v", settings.WriteTimeout)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold > 1 {
		return fmt.Errorf("drift threshold must be in (0, 1], got %f", settings.DriftThreshold)
	}

	return nil
}
