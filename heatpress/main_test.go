package main

import (
	"path/filepath"
	"testing"

	"github.com/itohio/heatpress/pkg/config"
	"github.com/itohio/heatpress/pkg/press"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"file", config.StorageConfig{Driver: config.StorageFile, Path: filepath.Join(dir, "data")}},
		{"bolt", config.StorageConfig{Driver: config.StorageBolt, Path: filepath.Join(dir, "press.db")}},
		{"memory", config.StorageConfig{Driver: config.StorageMemory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStore(tt.cfg)
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.SaveSettings(press.DefaultSettings()))
			got, err := store.LoadSettings()
			require.NoError(t, err)
			assert.Equal(t, press.DefaultSettings(), got)
		})
	}

	_, err := openStore(config.StorageConfig{Driver: "eeprom"})
	assert.ErrorContains(t, err, "unknown storage driver")
}
