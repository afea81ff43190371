// SPDX-License-Identifier: GPL-3.0-only

package colorspace

import "math"

// XYZ is a CIE 1931 tristimulus value.
type XYZ [3]float64

// Chromaticity is a CIE 1931 xy chromaticity coordinate.
type Chromaticity struct {
	X float64
	Y float64
}

// Valid reports whether all components are finite.
func (v XYZ) Valid() bool {
	return isFinite(v[0]) && isFinite(v[1]) && isFinite(v[2])
}

// Chromaticity projects v onto the xy plane. ok is false when the components
// sum to zero or the result is not finite.
func (v XYZ) Chromaticity() (c Chromaticity, ok bool) {
	sum := v[0] + v[1] + v[2]
	if sum == 0 || !isFinite(sum) {
		return Chromaticity{}, false
	}
	c = Chromaticity{X: v[0] / sum, Y: v[1] / sum}
	return c, isFinite(c.X) && isFinite(c.Y)
}

// XYYToXYZ converts a chromaticity to XYZ with a luminance (Y) of 1.
func XYYToXYZ(c Chromaticity) XYZ {
	return XYZ{c.X / c.Y, 1, (1 - c.X - c.Y) / c.Y}
}

// CCTToXYZ converts a correlated color temperature in Kelvin to the XYZ value
// of the corresponding point on the Planckian locus, with Y normalized to 1.
// The approximation is accurate between 1667K and 25000K.
func CCTToXYZ(cct int) XYZ {
	icct := 1000.0 / float64(cct)
	icct2 := icct * icct

	var x float64
	if cct <= 4000 {
		x = 0.179910 + 0.8776956*icct - 0.2343589*icct2 - 0.2661239*icct2*icct
	} else {
		x = 0.240390 + 0.2226347*icct + 2.1070379*icct2 - 3.0258469*icct2*icct
	}

	x2 := x * x
	var y float64
	switch {
	case cct <= 2222:
		y = -0.20219683 + 2.18555832*x - 1.34811020*x2 - 1.1063814*x2*x
	case cct <= 4000:
		y = -0.16748867 + 2.09137015*x - 1.37418593*x2 - 0.9549476*x2*x
	default:
		y = -0.37001483 + 3.75112997*x - 5.8733867*x2 + 3.0817580*x2*x
	}

	return XYYToXYZ(Chromaticity{X: x, Y: y})
}

// XYZToCCT estimates the correlated color temperature of v using McCamy's
// cubic approximation. It returns NaN if v has no chromaticity.
func XYZToCCT(v XYZ) float64 {
	c, ok := v.Chromaticity()
	if !ok {
		return math.NaN()
	}
	n := (c.X - 0.3320) / (0.1858 - c.Y)
	return 449*n*n*n + 3525*n*n + 6823.3*n + 5520.33
}
