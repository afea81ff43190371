// SPDX-License-Identifier: GPL-3.0-only

package colorspace

import (
	"errors"
	"fmt"
)

// PrimariesLength is the number of values in a flattened Primaries: three XYZ
// components for each of red, green, blue and white.
const PrimariesLength = 12

// ErrDegeneratePrimaries is returned when primaries do not span a usable RGB
// color space.
var ErrDegeneratePrimaries = errors.New("degenerate display primaries")

// Primaries holds the XYZ coordinates of a display's emitters and white point.
// Only the chromaticity of each value matters; the luminance is discarded.
type Primaries struct {
	Red   XYZ
	Green XYZ
	Blue  XYZ
	White XYZ
}

// PrimariesFromFloats builds Primaries from 12 values ordered red, green,
// blue, white, each as X, Y, Z.
func PrimariesFromFloats(values []float64) (Primaries, error) {
	if len(values) != PrimariesLength {
		return Primaries{}, fmt.Errorf("expected %d primaries values, got %d", PrimariesLength, len(values))
	}
	for i, v := range values {
		if !isFinite(v) {
			return Primaries{}, fmt.Errorf("primaries value %d is not finite", i)
		}
	}
	return Primaries{
		Red:   XYZ{values[0], values[1], values[2]},
		Green: XYZ{values[3], values[4], values[5]},
		Blue:  XYZ{values[6], values[7], values[8]},
		White: XYZ{values[9], values[10], values[11]},
	}, nil
}

// Floats flattens p in the order accepted by PrimariesFromFloats.
func (p Primaries) Floats() []float64 {
	return []float64{
		p.Red[0], p.Red[1], p.Red[2],
		p.Green[0], p.Green[1], p.Green[2],
		p.Blue[0], p.Blue[1], p.Blue[2],
		p.White[0], p.White[1], p.White[2],
	}
}

// RGB is a linear RGB color space defined by its primaries. It is immutable.
type RGB struct {
	name      string
	primaries [3]Chromaticity
	white     Chromaticity
	transform Mat3
	inverse   Mat3
}

// NewRGB derives the RGB to XYZ transform of the color space described by p,
// normalized so that RGB (1, 1, 1) maps to the white point with Y = 1. It
// returns ErrDegeneratePrimaries if either transform is not well formed.
func NewRGB(name string, p Primaries) (*RGB, error) {
	var xy [4]Chromaticity
	for i, v := range [4]XYZ{p.Red, p.Green, p.Blue, p.White} {
		c, ok := v.Chromaticity()
		if !ok || c.Y == 0 {
			return nil, fmt.Errorf("%w: primary %d has no chromaticity", ErrDegeneratePrimaries, i)
		}
		xy[i] = c
	}

	transform := computeXYZMatrix([3]Chromaticity{xy[0], xy[1], xy[2]}, xy[3])
	if !transform.Valid() {
		return nil, fmt.Errorf("%w: RGB to XYZ transform is not finite", ErrDegeneratePrimaries)
	}

	inverse, err := transform.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: XYZ to RGB transform: %w", ErrDegeneratePrimaries, err)
	}

	return &RGB{
		name:      name,
		primaries: [3]Chromaticity{xy[0], xy[1], xy[2]},
		white:     xy[3],
		transform: transform,
		inverse:   inverse,
	}, nil
}

// Name returns the name given to the color space.
func (c *RGB) Name() string {
	return c.name
}

// Transform returns the RGB to XYZ matrix.
func (c *RGB) Transform() Mat3 {
	return c.transform
}

// InverseTransform returns the XYZ to RGB matrix.
func (c *RGB) InverseTransform() Mat3 {
	return c.inverse
}

// WhitePoint returns the chromaticity of the white point.
func (c *RGB) WhitePoint() Chromaticity {
	return c.white
}

// Primaries returns the chromaticities of the red, green and blue primaries.
func (c *RGB) Primaries() [3]Chromaticity {
	return c.primaries
}

// computeXYZMatrix solves for the luminance of each primary such that their
// sum is the white point, then scales each primary's XYZ accordingly.
func computeXYZMatrix(p [3]Chromaticity, w Chromaticity) Mat3 {
	rx, ry := p[0].X, p[0].Y
	gx, gy := p[1].X, p[1].Y
	bx, by := p[2].X, p[2].Y
	wx, wy := w.X, w.Y

	oneRxRy := (1 - rx) / ry
	oneGxGy := (1 - gx) / gy
	oneBxBy := (1 - bx) / by
	oneWxWy := (1 - wx) / wy

	rxRy := rx / ry
	gxGy := gx / gy
	bxBy := bx / by
	wxWy := wx / wy

	bY := ((oneWxWy-oneRxRy)*(gxGy-rxRy) - (wxWy-rxRy)*(oneGxGy-oneRxRy)) /
		((oneBxBy-oneRxRy)*(gxGy-rxRy) - (bxBy-rxRy)*(oneGxGy-oneRxRy))
	gY := (wxWy - rxRy - bY*(bxBy-rxRy)) / (gxGy - rxRy)
	rY := 1 - gY - bY

	rYRy := rY / ry
	gYGy := gY / gy
	bYBy := bY / by

	return Mat3{
		rYRy * rx, rY, rYRy * (1 - rx - ry),
		gYGy * gx, gY, gYGy * (1 - gx - gy),
		bYBy * bx, bY, bYBy * (1 - bx - by),
	}
}
