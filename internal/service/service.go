// SPDX-License-Identifier: GPL-3.0-only

// Package service ties the white balance tint to the display transform and
// keeps it consistent across temperature requests, hot-plug events and
// configuration reloads.
package service

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/config"
	"github.com/shini4i/whitebalance-daemon/internal/primaries"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
)

// ErrUnavailable is returned when display white balance is not available on
// this display.
var ErrUnavailable = errors.New("display white balance is unavailable")

// SourceFactory builds the primaries sources for a configuration, in order of
// preference.
type SourceFactory func(cfg *config.Config) []primaries.Source

// TemperatureHandler is called after a new temperature has been applied.
type TemperatureHandler func(cct int)

// Service is the display color service owning the white balance tint.
// All methods are safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       *config.Config
	wb        *tint.WhiteBalance
	transform *transform.Manager
	sources   SourceFactory

	handlerMu sync.RWMutex
	handlers  []TemperatureHandler
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithSourceFactory sets how primaries sources are built, for testing.
func WithSourceFactory(fn SourceFactory) Option {
	return func(s *Service) {
		s.sources = fn
	}
}

// New creates a service for cfg publishing to the given transform manager.
// Start must be called before temperatures can be applied.
func New(cfg *config.Config, manager *transform.Manager, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		wb:        tint.NewWhiteBalance(cfg.WhiteBalance.Adaptation),
		transform: manager,
		sources:   DefaultSources,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultSources returns the EDID source, unless disabled, followed by the
// configured fallback primaries.
func DefaultSources(cfg *config.Config) []primaries.Source {
	var sources []primaries.Source
	if !cfg.Display.DisableEDID {
		sources = append(sources, primaries.NewEDIDSource(cfg.Display.EDID))
	}
	fallback, err := primaries.NewStaticSource(cfg.Display.Primaries)
	if err != nil {
		log.Error().Err(err).Msg("Ignoring configured display primaries")
	} else {
		sources = append(sources, fallback)
	}
	return sources
}

// OnTemperatureChanged registers a handler called after each applied
// temperature.
func (s *Service) OnTemperatureChanged(handler TemperatureHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start resolves the display color space and applies the default
// temperature. On failure white balance stays unavailable and the display
// transform carries no white balance contribution.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setUpLocked(s.cfg, s.cfg.WhiteBalance.Enabled, 0)
}

// Refresh re-resolves the display color space, e.g. after a display was
// connected, keeping the current temperature and activation state.
func (s *Service) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activated := s.wb.IsActivated()
	if !s.wb.IsSetUp() {
		activated = s.cfg.WhiteBalance.Enabled
	}
	return s.setUpLocked(s.cfg, activated, s.wb.Temperature())
}

// Reload applies a new configuration. The current temperature is kept,
// clamped to the new range.
func (s *Service) Reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.wb.Temperature()
	s.cfg = cfg
	return s.setUpLocked(cfg, cfg.WhiteBalance.Enabled, current)
}

// setUpLocked replaces the controller with one set up from cfg. A cct of 0
// keeps the configured default.
func (s *Service) setUpLocked(cfg *config.Config, activated bool, cct int) error {
	wb := tint.NewWhiteBalance(cfg.WhiteBalance.Adaptation)
	wb.SetActivated(activated)
	s.wb = wb

	err := wb.SetUp(cfg.WhiteBalance.Range, cfg.Display.NominalWhite, s.sources(cfg)...)
	if err != nil {
		log.Warn().Err(err).Msg("Display white balance unavailable")
		s.publishLocked()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if cct != 0 {
		if _, err := wb.SetTemperature(cct); err != nil {
			log.Warn().Err(err).Int("cct", cct).Msg("Failed to restore color temperature")
		}
	}

	log.Info().
		Int("cct", wb.Temperature()).
		Bool("activated", activated).
		Str("adaptation", cfg.WhiteBalance.Adaptation.String()).
		Msg("Display white balance set up")

	s.publishLocked()
	s.notify(wb.Temperature())
	return nil
}

// publishLocked pushes the white balance matrix to the transform manager, or
// clears the level when white balance is unavailable.
func (s *Service) publishLocked() {
	var err error
	if s.wb.IsSetUp() {
		m := s.wb.Matrix()
		err = s.transform.SetColorMatrix(s.wb.Level(), &m)
	} else {
		err = s.transform.SetColorMatrix(s.wb.Level(), nil)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to publish display white balance matrix")
	}
}

// SetTemperature applies a color temperature, clamped to the configured
// range, and returns the value used. If the resulting matrix is rejected the
// previous one stays in effect and nothing is published.
func (s *Service) SetTemperature(cct int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wb.IsSetUp() {
		return 0, ErrUnavailable
	}

	applied, err := s.wb.SetTemperature(cct)
	if err != nil {
		log.Error().Err(err).Int("cct", cct).Msg("Failed to set color temperature")
		return applied, err
	}
	s.publishLocked()
	s.notify(applied)
	return applied, nil
}

// notify runs the temperature handlers. Callers hold s.mu so handlers see
// temperatures in the order they were applied; handlers must not call back
// into the service.
func (s *Service) notify(cct int) {
	s.handlerMu.RLock()
	handlers := append([]TemperatureHandler(nil), s.handlers...)
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(cct)
	}
}

// SetActivated enables or disables white balance.
func (s *Service) SetActivated(activated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wb.IsSetUp() {
		return ErrUnavailable
	}
	s.wb.SetActivated(activated)
	s.publishLocked()
	log.Info().Bool("activated", activated).Msg("Display white balance toggled")
	return nil
}

// IsActivated reports whether white balance is applied.
func (s *Service) IsActivated() bool {
	return s.controller().IsActivated()
}

// Available reports whether the display color space could be resolved.
func (s *Service) Available() bool {
	return s.controller().IsSetUp()
}

// Temperature returns the applied color temperature, or 0 if unavailable.
func (s *Service) Temperature() int {
	return s.controller().Temperature()
}

// Range returns the configured temperature range.
func (s *Service) Range() tint.TemperatureRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.WhiteBalance.Range
}

// NativeTemperature estimates the color temperature of the display's nominal
// white point.
func (s *Service) NativeTemperature() (float64, bool) {
	return s.controller().NativeTemperature()
}

// Matrix returns the white balance contribution to the display transform.
func (s *Service) Matrix() colorspace.Mat4 {
	return s.controller().Matrix()
}

// ComposedMatrix returns the full display transform.
func (s *Service) ComposedMatrix() colorspace.Mat4 {
	return s.transform.Composed()
}

// Dump writes the service state in a human readable form.
func (s *Service) Dump(w io.Writer) {
	fmt.Fprintln(w, "Display white balance:")
	s.controller().Dump(w)
	fmt.Fprintf(w, "Display transform:\n    composed = %s\n", s.transform.Composed())
}

func (s *Service) controller() *tint.WhiteBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wb
}
