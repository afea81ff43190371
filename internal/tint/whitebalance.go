// SPDX-License-Identifier: GPL-3.0-only

package tint

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/primaries"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
)

// ErrInvalidRange is returned for an unusable color temperature range.
var ErrInvalidRange = errors.New("invalid color temperature range")

// TemperatureRange bounds the color temperatures, in Kelvin, that a device
// accepts.
type TemperatureRange struct {
	Min     int
	Max     int
	Default int
}

// Validate checks that Min is positive, Max is not below Min and Default lies
// in [Min, Max].
func (r TemperatureRange) Validate() error {
	if r.Min <= 0 {
		return fmt.Errorf("%w: minimum temperature must be greater than 0", ErrInvalidRange)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%w: max temperature must be greater or equal to min", ErrInvalidRange)
	}
	if r.Default < r.Min || r.Default > r.Max {
		return fmt.Errorf("%w: default temperature %d outside [%d, %d]", ErrInvalidRange, r.Default, r.Min, r.Max)
	}
	return nil
}

// Clamp limits cct to [Min, Max].
func (r TemperatureRange) Clamp(cct int) int {
	if cct < r.Min {
		return r.Min
	}
	if cct > r.Max {
		return r.Max
	}
	return cct
}

// WhiteBalance adapts the display white point to a correlated color
// temperature.
type WhiteBalance struct {
	ChromaticAdaptation

	temperatureRange   TemperatureRange
	currentTemperature int
}

// Verify WhiteBalance implements Controller interface.
var _ Controller = (*WhiteBalance)(nil)

// NewWhiteBalance creates an uninitialized white balance controller.
func NewWhiteBalance(adaptation colorspace.Adaptation) *WhiteBalance {
	return &WhiteBalance{
		ChromaticAdaptation: ChromaticAdaptation{
			adaptation:       adaptation,
			adaptationMatrix: colorspace.Identity3,
			matrix:           colorspace.Identity4,
		},
	}
}

// SetUp resolves the display color space, records the temperature range and
// applies the range's default temperature. If the default cannot be applied
// the controller is left not set up.
func (w *WhiteBalance) SetUp(r TemperatureRange, nominalWhite colorspace.XYZ, sources ...primaries.Source) error {
	err := w.setUpWith(nominalWhite, sources, func() error {
		if err := r.Validate(); err != nil {
			log.Error().Err(err).Int("min", r.Min).Int("max", r.Max).Msg("Invalid display white balance configuration")
			return err
		}
		w.temperatureRange = r
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := w.SetTemperature(r.Default); err != nil {
		// A color space that cannot reach its own default is unusable.
		w.mu.Lock()
		w.resetLocked()
		w.temperatureRange = TemperatureRange{}
		w.currentTemperature = 0
		w.mu.Unlock()
		return err
	}
	return nil
}

// SetTemperature clamps cct to the configured range and adapts the display
// to it. It returns the temperature actually used. On failure the previous
// matrix and temperature are retained.
func (w *WhiteBalance) SetTemperature(cct int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.setUp {
		log.Warn().Int("cct", cct).Msg("Can't set display white balance temperature: uninitialized")
		return 0, ErrNotSetUp
	}

	switch clamped := w.temperatureRange.Clamp(cct); {
	case clamped > cct:
		log.Warn().Int("cct", cct).Int("min", clamped).Msg("Requested display color temperature is below allowed minimum")
		cct = clamped
	case clamped < cct:
		log.Warn().Int("cct", cct).Int("max", clamped).Msg("Requested display color temperature is above allowed maximum")
		cct = clamped
	}

	if err := w.setTargetWhiteLocked(colorspace.CCTToXYZ(cct)); err != nil {
		return cct, err
	}
	w.currentTemperature = cct

	log.Debug().Int("cct", cct).Msg("Set display white balance temperature")
	return cct, nil
}

// Temperature returns the temperature currently applied, or 0 before setup.
func (w *WhiteBalance) Temperature() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTemperature
}

// Range returns the configured temperature range.
func (w *WhiteBalance) Range() TemperatureRange {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.temperatureRange
}

// NativeTemperature estimates the correlated color temperature of the
// display's nominal white point. ok is false before setup.
func (w *WhiteBalance) NativeTemperature() (cct float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.setUp {
		return 0, false
	}
	cct = colorspace.XYZToCCT(w.nominalWhite)
	return cct, !math.IsNaN(cct)
}

// Level returns transform.LevelWhiteBalance.
func (w *WhiteBalance) Level() transform.Level {
	return transform.LevelWhiteBalance
}

// Dump writes the controller state in a human readable form.
func (w *WhiteBalance) Dump(wr io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dumpLocked(wr, func(wr io.Writer) {
		fmt.Fprintf(wr, "    temperatureMin = %d\n", w.temperatureRange.Min)
		fmt.Fprintf(wr, "    temperatureMax = %d\n", w.temperatureRange.Max)
		fmt.Fprintf(wr, "    temperatureDefault = %d\n", w.temperatureRange.Default)
		fmt.Fprintf(wr, "    currentColorTemperature = %d\n", w.currentTemperature)
	})
}
