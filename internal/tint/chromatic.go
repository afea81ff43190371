// SPDX-License-Identifier: GPL-3.0-only

// Package tint implements the display tint controllers: each one owns a color
// matrix contributed at one level of the display transform stack.
package tint

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/primaries"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
)

var (
	// ErrNotSetUp is returned when a matrix is requested before the display
	// color space has been resolved.
	ErrNotSetUp = errors.New("chromatic adaptation is not set up")

	// ErrInvalidMatrix is returned when the computed adaptation matrix has
	// non-finite coefficients. The previous matrix stays in effect.
	ErrInvalidMatrix = errors.New("invalid chromatic adaptation color matrix")

	// ErrInvalidNominalWhite is returned when the nominal white point is not a
	// usable XYZ value.
	ErrInvalidNominalWhite = errors.New("invalid display nominal white")
)

// Controller is a tint contributing one color matrix to the display transform.
type Controller interface {
	// Level returns the position of the tint in the transform stack.
	Level() transform.Level

	// Matrix returns the tint's color matrix, or the identity when the tint
	// is inactive.
	Matrix() colorspace.Mat4

	// IsActivated reports whether the tint is applied.
	IsActivated() bool

	// SetActivated enables or disables the tint.
	SetActivated(activated bool)
}

// ChromaticAdaptation adapts the display's nominal white point to a target
// white point. The adaptation is computed in cone response space and then
// conjugated into the display's RGB space.
//
// All state is guarded by a single mutex, so Matrix never observes a
// partially updated matrix.
type ChromaticAdaptation struct {
	mu sync.Mutex

	adaptation   colorspace.Adaptation
	colorSpace   *colorspace.RGB
	nominalWhite colorspace.XYZ
	setUp        bool
	activated    bool

	adaptationMatrix colorspace.Mat3
	targetWhite      colorspace.XYZ
	matrix           colorspace.Mat4
	updated          time.Time
}

// NewChromaticAdaptation creates a controller using the given adaptation
// transform.
func NewChromaticAdaptation(adaptation colorspace.Adaptation) *ChromaticAdaptation {
	return &ChromaticAdaptation{
		adaptation:       adaptation,
		adaptationMatrix: colorspace.Identity3,
		matrix:           colorspace.Identity4,
	}
}

// SetUp resolves the display color space from sources, in order, and records
// the display's nominal white point. If no source is usable the controller
// stays uninitialized and the error wraps primaries.ErrUnavailable.
func (c *ChromaticAdaptation) SetUp(nominalWhite colorspace.XYZ, sources ...primaries.Source) error {
	return c.setUpWith(nominalWhite, sources, nil)
}

// setUpWith runs setUpLocked, if any, while holding the lock and before the
// controller is marked as set up.
func (c *ChromaticAdaptation) setUpWith(nominalWhite colorspace.XYZ, sources []primaries.Source, setUpLocked func() error) error {
	c.mu.Lock()
	c.setUp = false
	c.mu.Unlock()

	if !c.adaptation.ValidWhite(nominalWhite) {
		return ErrInvalidNominalWhite
	}

	rgb, err := primaries.Resolve(sources...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve display color space")
		return fmt.Errorf("set up chromatic adaptation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if setUpLocked != nil {
		if err := setUpLocked(); err != nil {
			return err
		}
	}

	c.colorSpace = rgb
	c.nominalWhite = nominalWhite
	c.setUp = true
	return nil
}

// SetTargetWhite computes and stores the matrix adapting the nominal white to
// target. On failure the previous matrix is retained.
func (c *ChromaticAdaptation) SetTargetWhite(target colorspace.XYZ) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setTargetWhiteLocked(target)
}

func (c *ChromaticAdaptation) setTargetWhiteLocked(target colorspace.XYZ) error {
	if !c.setUp {
		log.Warn().Msg("Can't set chromatic adaptation matrix: uninitialized")
		return ErrNotSetUp
	}

	// XYZ -> LMS -> [CAT] -> LMS -> XYZ
	adaptation := colorspace.ChromaticAdaptation(c.adaptation, c.nominalWhite, target)

	// RGB -> XYZ -> [adaptation] -> XYZ -> RGB
	result := colorspace.Mul3x3(adaptation, c.colorSpace.Transform())
	result = colorspace.Mul3x3(c.colorSpace.InverseTransform(), result)

	// Normalize so the brightest channel of adapted white reaches peak output.
	sums := result.RowSums()
	denom := max(sums[0], sums[1], sums[2])
	if !(denom > 0) {
		log.Error().Float64("denominator", denom).Msg("Invalid chromatic adaptation color matrix")
		return ErrInvalidMatrix
	}
	for i := range result {
		result[i] /= denom
	}
	if !result.Valid() {
		log.Error().Msg("Invalid chromatic adaptation color matrix")
		return ErrInvalidMatrix
	}

	c.adaptationMatrix = adaptation
	c.targetWhite = target
	c.matrix = colorspace.Embed(result)
	c.updated = time.Now()

	log.Debug().
		Floats64("xyz", target[:]).
		Stringer("matrix", c.matrix).
		Msg("Set chromatic adaptation matrix")
	return nil
}

// Matrix returns the adaptation matrix when the controller is set up and
// activated, and the identity otherwise.
func (c *ChromaticAdaptation) Matrix() colorspace.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.setUp || !c.activated {
		return colorspace.Identity4
	}
	return c.matrix
}

// IsSetUp reports whether the display color space has been resolved.
func (c *ChromaticAdaptation) IsSetUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setUp
}

// IsActivated reports whether the adaptation is applied.
func (c *ChromaticAdaptation) IsActivated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}

// SetActivated enables or disables the adaptation.
func (c *ChromaticAdaptation) SetActivated(activated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activated = activated
}

// resetLocked marks the controller as not set up.
func (c *ChromaticAdaptation) resetLocked() {
	c.setUp = false
	c.matrix = colorspace.Identity4
	c.adaptationMatrix = colorspace.Identity3
}

// Dump writes the controller state in a human readable form.
func (c *ChromaticAdaptation) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dumpLocked(w, nil)
}

func (c *ChromaticAdaptation) dumpLocked(w io.Writer, extra func(io.Writer)) {
	fmt.Fprintf(w, "    setUp = %t\n", c.setUp)
	if !c.setUp {
		return
	}

	if extra != nil {
		extra(w)
	}
	fmt.Fprintf(w, "    activated = %t\n", c.activated)
	fmt.Fprintf(w, "    adaptation = %s\n", c.adaptation)
	fmt.Fprintf(w, "    nominalWhiteXYZ = %v\n", c.nominalWhite)
	fmt.Fprintf(w, "    currentTargetXYZ = %v\n", c.targetWhite)
	fmt.Fprintf(w, "    displayColorSpace RGB-to-XYZ = %s\n", c.colorSpace.Transform())
	fmt.Fprintf(w, "    chromaticAdaptationMatrix = %s\n", c.adaptationMatrix)
	fmt.Fprintf(w, "    displayColorSpace XYZ-to-RGB = %s\n", c.colorSpace.InverseTransform())
	fmt.Fprintf(w, "    matrix = %s\n", c.matrix)
	if !c.updated.IsZero() {
		fmt.Fprintf(w, "    updated = %s\n", humanize.Time(c.updated))
	}
}
