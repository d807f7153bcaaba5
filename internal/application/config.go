package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration shared by the scoring
// server and the batch optimizer. Values load from YAML, then
// PERPLEX_* environment variables override the hot-path fields, then
// the whole struct is validated.
type Config struct {
	// Server configures the HTTP scoring endpoint.
	Server ServerConfig `yaml:"server" validate:"required"`

	// Model locates the language model artifacts.
	Model ModelConfig `yaml:"model" validate:"required"`

	// Ensemble configures the batch optimizer.
	Ensemble EnsembleConfig `yaml:"ensemble"`

	// Logging controls log level and output format.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address; empty binds all interfaces.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// ReadTimeout and WriteTimeout bound request I/O.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown on termination signals.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig locates the exported model and tunes the runtime.
type ModelConfig struct {
	// Path is the ONNX model file.
	Path string `yaml:"path" validate:"required"`

	// TokenizerPath is the tokenizer.json exported with the model.
	TokenizerPath string `yaml:"tokenizer_path" validate:"required"`

	// SharedLibraryPath points at the ONNX Runtime shared library.
	SharedLibraryPath string `yaml:"shared_library_path"`

	// BOSToken and EOSToken override boundary marker resolution.
	BOSToken string `yaml:"bos_token"`
	EOSToken string `yaml:"eos_token"`

	// Device selects the execution provider, "cpu" or "cuda".
	Device string `yaml:"device" validate:"omitempty,oneof=cpu cuda"`

	// IntraOpThreads and InterOpThreads bound runtime parallelism.
	IntraOpThreads int `yaml:"intra_op_threads" validate:"gte=0"`
	InterOpThreads int `yaml:"inter_op_threads" validate:"gte=0"`
}

// EnsembleConfig configures submission discovery, scoring transport,
// and output artifact locations for a batch run.
type EnsembleConfig struct {
	// InputDir is the root searched recursively for submission files.
	InputDir string `yaml:"input_dir"`

	// OutputPath receives the merged ensemble submission.
	OutputPath string `yaml:"output_path"`

	// AnalysisPath receives the per-row selection detail.
	AnalysisPath string `yaml:"analysis_path"`

	// MatrixPath receives the raw score matrix. Empty skips the dump.
	MatrixPath string `yaml:"matrix_path"`

	// Workers bounds concurrent scoring calls.
	Workers int `yaml:"workers" validate:"gte=0"`

	// RemoteURL switches scoring to a running endpoint instead of an
	// in-process model.
	RemoteURL string `yaml:"remote_url" validate:"omitempty,url"`

	// RequestTimeout bounds each remote scoring call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of extra attempts after a retryable
	// remote failure.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=10"`

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is "console" or "json".
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Path:          "models/model.onnx",
			TokenizerPath: "models/tokenizer.json",
		},
		Ensemble: EnsembleConfig{
			InputDir:     ".",
			OutputPath:   "submission.csv",
			AnalysisPath: "ensemble_optimization_analysis.csv",
			MatrixPath:   "submission_perplexity_analysis.csv",
			Workers:      1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads the YAML file at path when it is non-empty, applies
// environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides maps the deployment-facing environment variables
// onto the config, matching the knobs operators already set for the
// scoring service.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PERPLEX_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("PERPLEX_TOKENIZER_PATH"); v != "" {
		cfg.Model.TokenizerPath = v
	}
	if v := os.Getenv("PERPLEX_ORT_LIBRARY"); v != "" {
		cfg.Model.SharedLibraryPath = v
	}
	if v := os.Getenv("PERPLEX_DEVICE"); v != "" {
		cfg.Model.Device = v
	}
	if v := os.Getenv("PERPLEX_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PERPLEX_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("PERPLEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
