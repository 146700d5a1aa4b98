package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "REDIS_HOST", "TOTAL_PARTITIONS", "INSTANCE_ID", "INSTANCE_COUNT", "QTASK_CONFIG_FILE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 8, cfg.TotalPartitions)
	assert.Equal(t, 0, cfg.Fleet.InstanceID)
	assert.Equal(t, 1, cfg.Fleet.InstanceCount)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearEnv(t, "TOTAL_PARTITIONS", "INSTANCE_ID", "INSTANCE_COUNT")
	os.Setenv("TOTAL_PARTITIONS", "16")
	os.Setenv("INSTANCE_ID", "2")
	os.Setenv("INSTANCE_COUNT", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.TotalPartitions)
	assert.Equal(t, 2, cfg.Fleet.InstanceID)
	assert.Equal(t, 4, cfg.Fleet.InstanceCount)
}

func TestValidateRejectsOutOfRangeInstanceID(t *testing.T) {
	cfg := &Config{
		Redis:           RedisConfig{Host: "localhost"},
		TotalPartitions: 4,
		Fleet:           FleetConfig{InstanceID: 5, InstanceCount: 3},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveTotalPartitions(t *testing.T) {
	cfg := &Config{
		Redis:           RedisConfig{Host: "localhost"},
		TotalPartitions: 0,
		Fleet:           FleetConfig{InstanceID: 0, InstanceCount: 1},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestYAMLFileSeedsDefaultsButEnvWins(t *testing.T) {
	clearEnv(t, "QTASK_CONFIG_FILE", "TOTAL_PARTITIONS", "REDIS_HOST")

	f, err := os.CreateTemp(t.TempDir(), "qtask-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("totalPartitions: 12\nredisHost: yaml-host\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	os.Setenv("QTASK_CONFIG_FILE", f.Name())
	os.Setenv("REDIS_HOST", "env-host") // env still wins over yaml

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.TotalPartitions) // not set by env, falls through to yaml
	assert.Equal(t, "env-host", cfg.Redis.Host)
}
