// SPDX-License-Identifier: GPL-3.0-only

// Package primaries resolves the RGB color space of the built-in display from
// the hardware or from configured fallback values.
package primaries

//go:generate mockgen -source=source.go -destination=mocks/source_mock.go -package=mocks

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
)

// ColorSpaceName is the name given to resolved display color spaces.
const ColorSpaceName = "Display Color Space"

// ErrUnavailable is returned when no source yields a usable color space.
var ErrUnavailable = errors.New("display color space unavailable")

// ErrNoPrimaries is returned by a source that has no primaries to offer.
var ErrNoPrimaries = errors.New("no primaries available")

// Source provides display primaries.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Primaries returns the XYZ coordinates of the display's red, green and
	// blue emitters and its white point.
	Primaries() (colorspace.Primaries, error)
}

// StaticSource serves fixed primaries, typically from the configuration file.
type StaticSource struct {
	primaries colorspace.Primaries
	set       bool
}

// Verify StaticSource implements Source interface.
var _ Source = (*StaticSource)(nil)

// NewStaticSource returns a source serving the given 12 values ordered red,
// green, blue, white. An empty slice yields a source with no primaries.
func NewStaticSource(values []float64) (*StaticSource, error) {
	if len(values) == 0 {
		return &StaticSource{}, nil
	}
	p, err := colorspace.PrimariesFromFloats(values)
	if err != nil {
		return nil, fmt.Errorf("invalid configured primaries: %w", err)
	}
	return &StaticSource{primaries: p, set: true}, nil
}

// Name returns "config".
func (s *StaticSource) Name() string {
	return "config"
}

// Primaries returns the configured primaries, or ErrNoPrimaries if none were
// configured.
func (s *StaticSource) Primaries() (colorspace.Primaries, error) {
	if !s.set {
		return colorspace.Primaries{}, ErrNoPrimaries
	}
	return s.primaries, nil
}

// Resolve builds the display color space from the first source that yields
// well-formed primaries. Sources are tried in order; nil sources are skipped.
// It returns ErrUnavailable if none succeeds, in which case chromatic
// adaptation must stay disabled.
func Resolve(sources ...Source) (*colorspace.RGB, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}

		p, err := src.Primaries()
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Failed to get display primaries, trying next source")
			continue
		}

		rgb, err := colorspace.NewRGB(ColorSpaceName, p)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Invalid display color space, trying next source")
			continue
		}

		if !rgb.Transform().Valid() {
			log.Error().Str("source", src.Name()).Msg("Invalid display color space RGB-to-XYZ transform")
			continue
		}
		if !rgb.InverseTransform().Valid() {
			log.Error().Str("source", src.Name()).Msg("Invalid display color space XYZ-to-RGB transform")
			continue
		}

		log.Debug().Str("source", src.Name()).Msg("Resolved display color space")
		return rgb, nil
	}
	return nil, ErrUnavailable
}
