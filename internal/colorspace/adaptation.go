// SPDX-License-Identifier: GPL-3.0-only

package colorspace

import (
	"fmt"
	"strings"
)

// Adaptation selects the cone response space used for chromatic adaptation.
type Adaptation int

const (
	// CAT16 is the transform from the CIECAM16 color appearance model.
	CAT16 Adaptation = iota
	// Bradford is the linearized Bradford transform.
	Bradford
	// VonKries is the von Kries transform using Hunt-Pointer-Estevez primaries.
	VonKries
	// CIECAT02 is the transform from the CIECAM02 color appearance model.
	CIECAT02
)

// XYZ to LMS matrices, column-major.
var adaptationTransforms = map[Adaptation]Mat3{
	CAT16: {
		0.401288, -0.250268, -0.002079,
		0.650173, 1.204414, 0.048952,
		-0.051461, 0.045854, 0.953127,
	},
	Bradford: {
		0.8951, -0.7502, 0.0389,
		0.2664, 1.7135, -0.0685,
		-0.1614, 0.0367, 1.0296,
	},
	VonKries: {
		0.40024, -0.22630, 0.00000,
		0.70760, 1.16532, 0.00000,
		-0.08081, 0.04570, 0.91822,
	},
	CIECAT02: {
		0.7328, -0.7036, 0.0030,
		0.4296, 1.6975, 0.0136,
		-0.1624, 0.0061, 0.9834,
	},
}

var adaptationInverses = func() map[Adaptation]Mat3 {
	inverses := make(map[Adaptation]Mat3, len(adaptationTransforms))
	for a, m := range adaptationTransforms {
		inv, err := m.Inverse()
		if err != nil {
			panic(fmt.Sprintf("colorspace: %s transform is singular", a))
		}
		inverses[a] = inv
	}
	return inverses
}()

// ParseAdaptation parses an adaptation name as accepted in configuration files.
func ParseAdaptation(name string) (Adaptation, error) {
	switch strings.ToLower(name) {
	case "", "cat16":
		return CAT16, nil
	case "bradford":
		return Bradford, nil
	case "vonkries", "von_kries":
		return VonKries, nil
	case "ciecat02", "cat02":
		return CIECAT02, nil
	default:
		return 0, fmt.Errorf("unknown chromatic adaptation %q", name)
	}
}

// String returns the canonical name of the adaptation.
func (a Adaptation) String() string {
	switch a {
	case CAT16:
		return "cat16"
	case Bradford:
		return "bradford"
	case VonKries:
		return "vonkries"
	case CIECAT02:
		return "ciecat02"
	default:
		return fmt.Sprintf("Adaptation(%d)", int(a))
	}
}

// Transform returns the XYZ to LMS matrix of the adaptation.
func (a Adaptation) Transform() Mat3 {
	m, ok := adaptationTransforms[a]
	if !ok {
		return adaptationTransforms[CAT16]
	}
	return m
}

// ValidWhite reports whether v can serve as a white point for a: finite, with
// positive luminance and a positive response on every cone.
func (a Adaptation) ValidWhite(v XYZ) bool {
	if !v.Valid() || v[1] <= 0 {
		return false
	}
	lms := a.Transform().MulVec(v)
	return lms[0] > 0 && lms[1] > 0 && lms[2] > 0
}

// ChromaticAdaptation computes the XYZ to XYZ matrix that maps colors seen
// under srcWhite to their appearance under dstWhite:
//
//	inverse(M) * diag(dstLMS / srcLMS) * M
//
// Identical white points yield the identity. The result is not validated; a
// source white with a zero cone response produces non-finite coefficients.
func ChromaticAdaptation(a Adaptation, srcWhite, dstWhite XYZ) Mat3 {
	if srcWhite == dstWhite {
		return Identity3
	}
	if _, ok := adaptationTransforms[a]; !ok {
		a = CAT16
	}

	m := adaptationTransforms[a]
	srcLMS := m.MulVec(srcWhite)
	dstLMS := m.MulVec(dstWhite)
	gain := [3]float64{
		dstLMS[0] / srcLMS[0],
		dstLMS[1] / srcLMS[1],
		dstLMS[2] / srcLMS[2],
	}
	return Mul3x3(adaptationInverses[a], MulDiag(gain, m))
}
