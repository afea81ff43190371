// SPDX-License-Identifier: GPL-3.0-only

// Package config loads the device configuration of the white balance daemon.
//
// The configuration is a JSON document. Numeric values may also be given as
// strings, so resource-style string arrays can be copied verbatim.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/schedule"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
)

// ErrInvalidConfig is returned when the configuration is malformed.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPrimaries are the fallback display primaries: sRGB emitters with a
// D65 white point, ordered red, green, blue, white as XYZ.
var DefaultPrimaries = []float64{
	0.412315, 0.212600, 0.019327,
	0.357600, 0.715200, 0.119200,
	0.180500, 0.072200, 0.950633,
	0.950456, 1.000000, 1.089058,
}

// DefaultNominalWhite is the D65 white point.
var DefaultNominalWhite = colorspace.XYZ{0.950456, 1.000000, 1.089058}

// Config is the daemon configuration.
type Config struct {
	WhiteBalance WhiteBalance
	Display      Display
	Schedule     Schedule
	Output       Output
}

// WhiteBalance configures the white balance tint.
type WhiteBalance struct {
	Enabled    bool
	Range      tint.TemperatureRange
	Adaptation colorspace.Adaptation
}

// Display describes the panel.
type Display struct {
	// EDID is the path of the EDID file; empty means auto-discovery.
	EDID string
	// DisableEDID skips the hardware source entirely.
	DisableEDID  bool
	NominalWhite colorspace.XYZ
	// Primaries is the fallback used when the EDID is unusable.
	Primaries []float64
}

// Schedule configures automatic temperature changes.
type Schedule struct {
	Enabled  bool
	Solar    schedule.Solar
	Interval time.Duration
}

// Output selects where the composed matrix is applied.
type Output struct {
	X11     bool
	Display string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WhiteBalance: WhiteBalance{
			Enabled:    true,
			Range:      tint.TemperatureRange{Min: 4000, Max: 8000, Default: 6500},
			Adaptation: colorspace.CAT16,
		},
		Display: Display{
			NominalWhite: DefaultNominalWhite,
			Primaries:    append([]float64(nil), DefaultPrimaries...),
		},
		Schedule: Schedule{
			Solar: schedule.Solar{
				ElevationNight:   -6,
				ElevationDay:     3,
				TemperatureNight: 4500,
				TemperatureDay:   6500,
			},
			Interval: time.Minute,
		},
	}
}

// Load reads the configuration file at path. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidConfig)
	}
	root := gjson.ParseBytes(data)
	cfg := Default()

	setBool(root, "whiteBalance.enabled", &cfg.WhiteBalance.Enabled)
	setInt(root, "whiteBalance.temperatureMin", &cfg.WhiteBalance.Range.Min)
	setInt(root, "whiteBalance.temperatureMax", &cfg.WhiteBalance.Range.Max)
	setInt(root, "whiteBalance.temperatureDefault", &cfg.WhiteBalance.Range.Default)
	if v := root.Get("whiteBalance.adaptation"); v.Exists() {
		a, err := colorspace.ParseAdaptation(v.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg.WhiteBalance.Adaptation = a
	}

	if v := root.Get("display.edid"); v.Exists() {
		cfg.Display.EDID = v.String()
	}
	setBool(root, "display.disableEdid", &cfg.Display.DisableEDID)
	if v := root.Get("display.nominalWhite"); v.Exists() {
		values, err := floats(v, 3)
		if err != nil {
			return nil, fmt.Errorf("%w: display.nominalWhite: %w", ErrInvalidConfig, err)
		}
		cfg.Display.NominalWhite = colorspace.XYZ{values[0], values[1], values[2]}
	}
	if v := root.Get("display.primaries"); v.Exists() {
		values, err := floats(v, colorspace.PrimariesLength)
		if err != nil {
			return nil, fmt.Errorf("%w: display.primaries: %w", ErrInvalidConfig, err)
		}
		cfg.Display.Primaries = values
	}

	setBool(root, "schedule.enabled", &cfg.Schedule.Enabled)
	setFloat(root, "schedule.latitude", &cfg.Schedule.Solar.Latitude)
	setFloat(root, "schedule.longitude", &cfg.Schedule.Solar.Longitude)
	setFloat(root, "schedule.elevationNight", &cfg.Schedule.Solar.ElevationNight)
	setFloat(root, "schedule.elevationDay", &cfg.Schedule.Solar.ElevationDay)
	setInt(root, "schedule.temperatureNight", &cfg.Schedule.Solar.TemperatureNight)
	setInt(root, "schedule.temperatureDay", &cfg.Schedule.Solar.TemperatureDay)
	if v := root.Get("schedule.interval"); v.Exists() {
		d, err := time.ParseDuration(v.String())
		if err != nil {
			return nil, fmt.Errorf("%w: schedule.interval: %w", ErrInvalidConfig, err)
		}
		cfg.Schedule.Interval = d
	}

	setBool(root, "output.x11", &cfg.Output.X11)
	if v := root.Get("output.display"); v.Exists() {
		cfg.Output.Display = v.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot use.
func (c *Config) Validate() error {
	if err := c.WhiteBalance.Range.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !c.WhiteBalance.Adaptation.ValidWhite(c.Display.NominalWhite) {
		return fmt.Errorf("%w: display.nominalWhite must be finite with positive Y and cone responses", ErrInvalidConfig)
	}
	if len(c.Display.Primaries) != 0 {
		if _, err := colorspace.PrimariesFromFloats(c.Display.Primaries); err != nil {
			return fmt.Errorf("%w: display.primaries: %w", ErrInvalidConfig, err)
		}
	}
	if c.Schedule.Enabled {
		if err := c.Schedule.Solar.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if c.Schedule.Interval <= 0 {
			return fmt.Errorf("%w: schedule.interval must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

func setBool(root gjson.Result, path string, dst *bool) {
	if v := root.Get(path); v.Exists() {
		*dst = v.Bool()
	}
}

func setInt(root gjson.Result, path string, dst *int) {
	if v := root.Get(path); v.Exists() {
		*dst = int(v.Int())
	}
}

func setFloat(root gjson.Result, path string, dst *float64) {
	if v := root.Get(path); v.Exists() {
		*dst = v.Float()
	}
}

// floats decodes an array of n numbers or numeric strings.
func floats(v gjson.Result, n int) ([]float64, error) {
	if !v.IsArray() {
		return nil, errors.New("expected an array")
	}
	items := v.Array()
	if len(items) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(items))
	}
	values := make([]float64, n)
	for i, item := range items {
		switch item.Type {
		case gjson.Number:
			values[i] = item.Num
		case gjson.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(item.Str), 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %q is not a number", i, item.Str)
			}
			values[i] = f
		default:
			return nil, fmt.Errorf("value %d is not a number", i)
		}
	}
	return values, nil
}
