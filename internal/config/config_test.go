package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.WhiteBalance.Enabled)
	assert.Equal(t, 4000, cfg.WhiteBalance.Range.Min)
	assert.Equal(t, 8000, cfg.WhiteBalance.Range.Max)
	assert.Equal(t, 6500, cfg.WhiteBalance.Range.Default)
	assert.Equal(t, colorspace.CAT16, cfg.WhiteBalance.Adaptation)
	assert.Equal(t, config.DefaultNominalWhite, cfg.Display.NominalWhite)
	assert.Equal(t, config.DefaultPrimaries, cfg.Display.Primaries)
	assert.False(t, cfg.Schedule.Enabled)
	assert.False(t, cfg.Output.X11)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestParse_Full(t *testing.T) {
	data := []byte(`{
		"whiteBalance": {
			"enabled": false,
			"temperatureMin": 3000,
			"temperatureMax": "7500",
			"temperatureDefault": 6000,
			"adaptation": "bradford"
		},
		"display": {
			"edid": "/sys/class/drm/card0-eDP-1/edid",
			"nominalWhite": ["0.9642", "1.0", "0.8251"],
			"primaries": [
				0.4360, 0.2225, 0.0139,
				0.3851, 0.7169, 0.0971,
				0.1431, 0.0606, 0.7141,
				0.9642, 1.0000, 0.8251
			]
		},
		"schedule": {
			"enabled": true,
			"latitude": 52.52,
			"longitude": 13.40,
			"elevationNight": -6,
			"elevationDay": 3,
			"temperatureNight": 4000,
			"temperatureDay": 6500,
			"interval": "30s"
		},
		"output": {
			"x11": true,
			"display": ":1"
		}
	}`)

	cfg, err := config.Parse(data)
	require.NoError(t, err)

	assert.False(t, cfg.WhiteBalance.Enabled)
	assert.Equal(t, 3000, cfg.WhiteBalance.Range.Min)
	assert.Equal(t, 7500, cfg.WhiteBalance.Range.Max)
	assert.Equal(t, 6000, cfg.WhiteBalance.Range.Default)
	assert.Equal(t, colorspace.Bradford, cfg.WhiteBalance.Adaptation)

	assert.Equal(t, "/sys/class/drm/card0-eDP-1/edid", cfg.Display.EDID)
	assert.Equal(t, colorspace.XYZ{0.9642, 1.0, 0.8251}, cfg.Display.NominalWhite)
	require.Len(t, cfg.Display.Primaries, 12)
	assert.Equal(t, 0.4360, cfg.Display.Primaries[0])

	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, 52.52, cfg.Schedule.Solar.Latitude)
	assert.Equal(t, 13.40, cfg.Schedule.Solar.Longitude)
	assert.Equal(t, 4000, cfg.Schedule.Solar.TemperatureNight)
	assert.Equal(t, 30*time.Second, cfg.Schedule.Interval)

	assert.True(t, cfg.Output.X11)
	assert.Equal(t, ":1", cfg.Output.Display)
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"whiteBalance": {"temperatureDefault": 5000}}`))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.WhiteBalance.Range.Default)
	assert.Equal(t, 4000, cfg.WhiteBalance.Range.Min)
	assert.Equal(t, config.DefaultPrimaries, cfg.Display.Primaries)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{
			name:   "malformed json",
			data:   `{"whiteBalance": `,
			errMsg: "malformed JSON",
		},
		{
			name:   "zero minimum temperature",
			data:   `{"whiteBalance": {"temperatureMin": 0}}`,
			errMsg: "minimum temperature",
		},
		{
			name:   "max below min",
			data:   `{"whiteBalance": {"temperatureMin": 7000, "temperatureMax": 5000}}`,
			errMsg: "max temperature",
		},
		{
			name:   "unknown adaptation",
			data:   `{"whiteBalance": {"adaptation": "xyz"}}`,
			errMsg: "unknown chromatic adaptation",
		},
		{
			name:   "short primaries",
			data:   `{"display": {"primaries": [0.1, 0.2, 0.3]}}`,
			errMsg: "expected 12 values, got 3",
		},
		{
			name:   "non-numeric primaries",
			data:   `{"display": {"primaries": ["a","b","c","d","e","f","g","h","i","j","k","l"]}}`,
			errMsg: "is not a number",
		},
		{
			name:   "nominal white not an array",
			data:   `{"display": {"nominalWhite": 1}}`,
			errMsg: "expected an array",
		},
		{
			name:   "nominal white with zero luminance",
			data:   `{"display": {"nominalWhite": [0.9, 0, 1.0]}}`,
			errMsg: "positive Y",
		},
		{
			name:   "nominal white with zero cone response",
			data:   `{"display": {"nominalWhite": [0, 0.051461, 0.650173]}}`,
			errMsg: "cone responses",
		},
		{
			name:   "default temperature above maximum",
			data:   `{"whiteBalance": {"temperatureDefault": 9000}}`,
			errMsg: "default temperature 9000",
		},
		{
			name:   "default temperature below minimum",
			data:   `{"whiteBalance": {"temperatureMin": 5000, "temperatureDefault": 4500}}`,
			errMsg: "default temperature 4500",
		},
		{
			name:   "schedule with inverted elevations",
			data:   `{"schedule": {"enabled": true, "elevationNight": 5, "elevationDay": 3}}`,
			errMsg: "night elevation",
		},
		{
			name:   "schedule with bad interval",
			data:   `{"schedule": {"interval": "soon"}}`,
			errMsg: "schedule.interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	changes := make(chan *config.Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, func(cfg *config.Config) {
			changes <- cfg
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(`{"whiteBalance": {"temperatureDefault": 5200}}`), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, 5200, cfg.WhiteBalance.Range.Default)
	case <-ctx.Done():
		t.Fatal("configuration was not reloaded")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
