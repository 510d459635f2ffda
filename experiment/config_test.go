package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, cfg.NTrain, cfg.nVal())
	assert.Positive(t, cfg.workers())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FGEL_N_TRAIN", "50")
	t.Setenv("FGEL_N_VAL", "30")
	t.Setenv("FGEL_REPETITIONS", "4")
	t.Setenv("FGEL_SEED", "7")
	t.Setenv("FGEL_WORKERS", "2")
	t.Setenv("FGEL_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.NTrain)
	assert.Equal(t, 30, cfg.nVal())
	assert.Equal(t, 20000, cfg.NTest)
	assert.Equal(t, 4, cfg.Repetitions)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 2, cfg.workers())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"FGEL_N_TRAIN":     "abc",
		"FGEL_REPETITIONS": "0",
		"FGEL_WORKERS":     "-1",
		"FGEL_N_TEST":      "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
