package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"DB_USER": "dispatch"})
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, []float64{5, 10, 15, 20}, cfg.Dispatch.RadiiKm)
	assert.Equal(t, 10, cfg.Dispatch.TopN)
	assert.Equal(t, "gateway:events", cfg.Redis.Channel)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "@every 5m", cfg.Dispatch.MetricsLogSchedule)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"STORE_DRIVER":       "sqlite",
		"STORE_SQLITE_PATH":  "/tmp/d.db",
		"DISPATCH_RADII_KM":  "3,6,12",
		"DISPATCH_TOP_N":     "4",
		"WS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
	})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []float64{3, 6, 12}, cfg.Dispatch.RadiiKm)
	assert.Equal(t, 4, cfg.Dispatch.TopN)
	assert.Len(t, cfg.Gateway.AllowedOrigins, 2)
}

func TestLoadFrom_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing db user":    {},
		"unknown driver":     {"STORE_DRIVER": "mysql"},
		"descending radii":   {"DB_USER": "u", "DISPATCH_RADII_KM": "10,5"},
		"duplicate radii":    {"DB_USER": "u", "DISPATCH_RADII_KM": "5,5"},
		"zero top n":         {"DB_USER": "u", "DISPATCH_TOP_N": "0"},
		"non numeric radius": {"DB_USER": "u", "DISPATCH_RADII_KM": "five"},
	}

	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(environ)
			assert.Error(t, err)
		})
	}
}
