package experiment

import (
	"runtime"

	"github.com/kelseyhightower/envconfig"

	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// EnvPrefix is the prefix of the environment variables read by LoadConfig,
// e.g. FGEL_N_TRAIN.
const EnvPrefix = "FGEL"

// Config controls repeated runs.
type Config struct {
	NTrain      int    `envconfig:"N_TRAIN" default:"100"`
	NVal        int    `envconfig:"N_VAL"` // 0 means NTrain
	NTest       int    `envconfig:"N_TEST" default:"20000"`
	Repetitions int    `envconfig:"REPETITIONS" default:"1"`
	Seed        uint64 `envconfig:"SEED" default:"12345"`
	Workers     int    `envconfig:"WORKERS"` // 0 means runtime.NumCPU()
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// DefaultConfig returns the configuration LoadConfig yields with an empty
// environment.
func DefaultConfig() *Config {
	return &Config{
		NTrain:      100,
		NTest:       20000,
		Repetitions: 1,
		Seed:        12345,
		LogLevel:    "info",
	}
}

// LoadConfig reads the configuration from FGEL_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load config from env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the split sizes and the repetition count.
func (c *Config) Validate() error {
	switch {
	case c.NTrain <= 0:
		return errors.NewValueError("experiment.Config", "N_TRAIN must be positive")
	case c.NVal < 0:
		return errors.NewValueError("experiment.Config", "N_VAL must not be negative")
	case c.NTest <= 0:
		return errors.NewValueError("experiment.Config", "N_TEST must be positive")
	case c.Repetitions <= 0:
		return errors.NewValueError("experiment.Config", "REPETITIONS must be positive")
	case c.Workers < 0:
		return errors.NewValueError("experiment.Config", "WORKERS must not be negative")
	}
	return nil
}

func (c *Config) nVal() int {
	if c.NVal == 0 {
		return c.NTrain
	}
	return c.NVal
}

func (c *Config) workers() int {
	if c.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}
