// SPDX-License-Identifier: GPL-3.0-only

// Package schedule drives the display color temperature from the position of
// the sun.
package schedule

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/rs/zerolog/log"
)

// ErrInvalidElevation is returned when the night elevation is not below the
// day elevation.
var ErrInvalidElevation = errors.New("night elevation must be smaller than day elevation")

// Solar interpolates a color temperature from the solar elevation at a
// location.
type Solar struct {
	Latitude  float64
	Longitude float64

	// ElevationNight is the solar elevation in degrees at or below which the
	// night temperature is used.
	ElevationNight float64
	// ElevationDay is the solar elevation in degrees at or above which the
	// day temperature is used.
	ElevationDay float64

	TemperatureNight int
	TemperatureDay   int
}

// Validate checks the elevation thresholds.
func (s Solar) Validate() error {
	if s.ElevationNight >= s.ElevationDay {
		return ErrInvalidElevation
	}
	return nil
}

// Temperature returns the color temperature for the given time.
func (s Solar) Temperature(now time.Time) int {
	return s.temperatureAt(sunrise.Elevation(s.Latitude, s.Longitude, now))
}

func (s Solar) temperatureAt(elevation float64) int {
	var progress float64
	switch {
	case elevation <= s.ElevationNight:
		progress = 0
	case elevation >= s.ElevationDay:
		progress = 1
	default:
		progress = (elevation - s.ElevationNight) / (s.ElevationDay - s.ElevationNight)
	}
	return int(math.Round((1-progress)*float64(s.TemperatureNight) + progress*float64(s.TemperatureDay)))
}

// ApplyFunc receives each scheduled temperature.
type ApplyFunc func(cct int) error

// Scheduler periodically applies the solar temperature.
type Scheduler struct {
	solar    Solar
	interval time.Duration
	apply    ApplyFunc
	now      func() time.Time
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source, for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler applying the solar temperature every
// interval.
func NewScheduler(solar Solar, interval time.Duration, apply ApplyFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		solar:    solar,
		interval: interval,
		apply:    apply,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run applies the temperature immediately and then on every tick, skipping
// ticks where it has not changed. It blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := 0
	for {
		if cct := s.solar.Temperature(s.now()); cct != last {
			if err := s.apply(cct); err != nil {
				log.Warn().Err(err).Int("cct", cct).Msg("Failed to apply scheduled temperature")
			} else {
				log.Debug().Int("cct", cct).Msg("Applied scheduled temperature")
				last = cct
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
