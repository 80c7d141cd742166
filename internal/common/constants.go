package common

// Algorithm names accepted by the registries and the API
const (
	AlgoRandomForest  = "random_forest"
	AlgoNeuralNetwork = "neural_network"
	AlgoLSTM          = "lstm"
	AlgoARIMA         = "arima"
	AlgoStatistical   = "statistical"
	AlgoHybrid        = "hybrid"
)

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvDataPath           = "DATA_PATH"
	EnvModelsDir          = "MODELS_DIR"
	EnvVariants           = "LOTTERY_TYPES"
	EnvDefaultAlgorithms  = "DEFAULT_ALGORITHMS"
	EnvEnsembleAlgorithms = "ENSEMBLE_ALGORITHMS"
	EnvWindowSize         = "WINDOW_SIZE"
	EnvHistoricalDays     = "HISTORICAL_DAYS"
	EnvValidationSplit    = "VALIDATION_SPLIT"
	EnvRandomSeed         = "RANDOM_SEED"
	EnvSeedDraws          = "SEED_DRAWS"
	EnvAPIPort            = "API_PORT"
	EnvReadTimeout        = "READ_TIMEOUT"
	EnvWriteTimeout       = "WRITE_TIMEOUT"
	EnvLogLevel           = "LOG_LEVEL"
	EnvAutoTrain          = "AUTO_TRAIN"
	EnvDriftThreshold     = "DRIFT_THRESHOLD"
)

// Configuration defaults
const (
	DefaultDataPath        = "data"
	DefaultModelsDir       = "models"
	DefaultWindowSize      = 50
	DefaultHistoricalDays  = 365
	DefaultValidationSplit = 0.2
	DefaultRandomSeed      = 42
	DefaultSeedDraws       = 500
	DefaultAPIPort         = 8080
	DefaultLogLevel        = "info"
	DefaultDriftThreshold  = 0.1
)

// DefaultVariants are served when no variant list is configured.
var DefaultVariants = []string{"ssq", "dlt"}

// DefaultAlgorithms are trained by the auto-train bootstrap.
var DefaultAlgorithms = []string{AlgoRandomForest, AlgoNeuralNetwork, AlgoStatistical}

// DefaultEnsembleAlgorithms vote in an ensemble request that names none.
var DefaultEnsembleAlgorithms = []string{AlgoRandomForest, AlgoNeuralNetwork, AlgoStatistical}

// Validation bounds
const (
	MinWindowSize      = 5
	MaxWindowSize      = 500
	MaxValidationSplit = 0.5
	MinPort            = 1024
	MaxPort            = 65535
	MaxSeedDraws       = 100000
)
