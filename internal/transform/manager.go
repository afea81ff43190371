// SPDX-License-Identifier: GPL-3.0-only

// Package transform composes the color matrices contributed by each tint
// level into the single transform applied to the display.
package transform

//go:generate mockgen -source=manager.go -destination=mocks/sink_mock.go -package=mocks

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
)

// Level orders a color matrix within the transform stack. Lower levels are
// applied first.
type Level int

const (
	// LevelNightDisplay is the level of the night display tint.
	LevelNightDisplay Level = 100
	// LevelWhiteBalance is the level of the display white balance tint.
	LevelWhiteBalance Level = 125
	// LevelSaturation is the level of the saturation adjustment.
	LevelSaturation Level = 150
	// LevelGrayscale is the level of the grayscale filter.
	LevelGrayscale Level = 200
	// LevelReduceBrightColors is the level of the reduce bright colors filter.
	LevelReduceBrightColors Level = 250
	// LevelInvertColor is the level of color inversion.
	LevelInvertColor Level = 300
)

// ErrInvalidMatrix is returned when a matrix with non-finite coefficients is
// submitted.
var ErrInvalidMatrix = errors.New("color matrix has non-finite coefficients")

// Sink receives the composed display color matrix.
type Sink interface {
	// ApplyColorMatrix applies the composed 4x4 color matrix.
	ApplyColorMatrix(m colorspace.Mat4) error
}

// Manager keeps one color matrix per level and publishes their product to its
// sinks whenever a level changes. It is safe for concurrent use; sinks see
// composed matrices in the order they were computed, one call at a time.
type Manager struct {
	// publishMu is held across composing and publishing. Sinks must not call
	// SetColorMatrix.
	publishMu sync.Mutex

	mu       sync.Mutex
	levels   map[Level]colorspace.Mat4
	sinks    []Sink
	composed colorspace.Mat4
}

// NewManager creates a manager publishing to the given sinks.
func NewManager(sinks ...Sink) *Manager {
	return &Manager{
		levels:   make(map[Level]colorspace.Mat4),
		sinks:    sinks,
		composed: colorspace.Identity4,
	}
}

// AddSink registers an additional sink. It does not receive the current
// matrix until the next change.
func (m *Manager) AddSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// SetColorMatrix sets the matrix for a level, or clears it if matrix is nil,
// then recomposes and publishes the result. Sink failures are logged and
// returned joined together; the new matrix stays in effect.
func (m *Manager) SetColorMatrix(level Level, matrix *colorspace.Mat4) error {
	if matrix != nil && !matrix.Valid() {
		return fmt.Errorf("level %d: %w", level, ErrInvalidMatrix)
	}

	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if matrix == nil {
		delete(m.levels, level)
	} else {
		m.levels[level] = *matrix
	}
	m.composed = m.computeLocked()
	composed := m.composed
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.ApplyColorMatrix(composed); err != nil {
			log.Error().Err(err).Int("level", int(level)).Msg("Failed to apply color matrix")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ColorMatrix returns the matrix set for a level.
func (m *Manager) ColorMatrix(level Level) (colorspace.Mat4, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matrix, ok := m.levels[level]
	return matrix, ok
}

// Composed returns the product of all level matrices.
func (m *Manager) Composed() colorspace.Mat4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.composed
}

// computeLocked multiplies the level matrices in ascending level order.
func (m *Manager) computeLocked() colorspace.Mat4 {
	levels := make([]Level, 0, len(m.levels))
	for level := range m.levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	result := colorspace.Identity4
	for _, level := range levels {
		result = colorspace.Mul4x4(result, m.levels[level])
	}
	return result
}
