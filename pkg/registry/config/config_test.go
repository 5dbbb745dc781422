package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.StorageType)
	assert.Equal(t, int64(4), cfg.ReportThreshold)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name   string
		option config.Option
	}{
		{
			name: "unknown database type",
			option: func(c *config.ServerConfig) error {
				c.DatabaseType = "oracle"
				return nil
			},
		},
		{
			name: "postgres without url",
			option: func(c *config.ServerConfig) error {
				c.DatabaseType = "postgres"
				return nil
			},
		},
		{
			name: "s3 without bucket",
			option: func(c *config.ServerConfig) error {
				c.StorageType = "s3"
				return nil
			},
		},
		{
			name: "zero report threshold",
			option: func(c *config.ServerConfig) error {
				c.ReportThreshold = 0
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.option)
			assert.Error(t, err)
		})
	}
}

func TestBuildServiceMemory(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	svc, err := cfg.BuildService()
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestBuildEmbedderDisabledWithoutKey(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	embedder, err := cfg.BuildEmbedder()
	require.NoError(t, err)
	assert.Nil(t, embedder)
}
