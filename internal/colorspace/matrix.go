// SPDX-License-Identifier: GPL-3.0-only

// Package colorspace implements the color science needed to adapt a display's
// white point: RGB color spaces built from primaries, CCT conversion and
// chromatic adaptation transforms.
//
// All matrices are stored column-major, the layout used by the display
// transform pipeline.
package colorspace

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrSingularMatrix is returned when a matrix has no inverse.
var ErrSingularMatrix = errors.New("matrix is singular")

// Mat3 is a 3x3 matrix stored column-major: element (row, col) is at index
// col*3+row.
type Mat3 [9]float64

// Mat4 is a 4x4 matrix stored column-major: element (row, col) is at index
// col*4+row.
type Mat4 [16]float64

// Identity3 is the 3x3 identity matrix.
var Identity3 = Mat3{
	1, 0, 0,
	0, 1, 0,
	0, 0, 1,
}

// Identity4 is the 4x4 identity matrix.
var Identity4 = Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// Mul3x3 returns lhs * rhs.
func Mul3x3(lhs, rhs Mat3) Mat3 {
	var r Mat3
	r[0] = lhs[0]*rhs[0] + lhs[3]*rhs[1] + lhs[6]*rhs[2]
	r[1] = lhs[1]*rhs[0] + lhs[4]*rhs[1] + lhs[7]*rhs[2]
	r[2] = lhs[2]*rhs[0] + lhs[5]*rhs[1] + lhs[8]*rhs[2]
	r[3] = lhs[0]*rhs[3] + lhs[3]*rhs[4] + lhs[6]*rhs[5]
	r[4] = lhs[1]*rhs[3] + lhs[4]*rhs[4] + lhs[7]*rhs[5]
	r[5] = lhs[2]*rhs[3] + lhs[5]*rhs[4] + lhs[8]*rhs[5]
	r[6] = lhs[0]*rhs[6] + lhs[3]*rhs[7] + lhs[6]*rhs[8]
	r[7] = lhs[1]*rhs[6] + lhs[4]*rhs[7] + lhs[7]*rhs[8]
	r[8] = lhs[2]*rhs[6] + lhs[5]*rhs[7] + lhs[8]*rhs[8]
	return r
}

// MulDiag returns diag(d) * m.
func MulDiag(d [3]float64, m Mat3) Mat3 {
	return Mat3{
		d[0] * m[0], d[1] * m[1], d[2] * m[2],
		d[0] * m[3], d[1] * m[4], d[2] * m[5],
		d[0] * m[6], d[1] * m[7], d[2] * m[8],
	}
}

// MulVec returns m * v.
func (m Mat3) MulVec(v XYZ) XYZ {
	return XYZ{
		m[0]*v[0] + m[3]*v[1] + m[6]*v[2],
		m[1]*v[0] + m[4]*v[1] + m[7]*v[2],
		m[2]*v[0] + m[5]*v[1] + m[8]*v[2],
	}
}

// Inverse returns the inverse of m, or ErrSingularMatrix if the determinant is
// zero or not finite.
func (m Mat3) Inverse() (Mat3, error) {
	a, b, c := m[0], m[3], m[6]
	d, e, f := m[1], m[4], m[7]
	g, h, i := m[2], m[5], m[8]

	A := e*i - f*h
	B := f*g - d*i
	C := d*h - e*g

	det := a*A + b*B + c*C
	if det == 0 || !isFinite(det) {
		return Mat3{}, ErrSingularMatrix
	}

	inv := Mat3{
		A / det, B / det, C / det,
		(c*h - b*i) / det, (a*i - c*g) / det, (b*g - a*h) / det,
		(b*f - c*e) / det, (c*d - a*f) / det, (a*e - b*d) / det,
	}
	if !inv.Valid() {
		return Mat3{}, ErrSingularMatrix
	}
	return inv, nil
}

// RowSums returns the sum of each row, i.e. the output of m for an input of
// (1, 1, 1).
func (m Mat3) RowSums() [3]float64 {
	return [3]float64{
		m[0] + m[3] + m[6],
		m[1] + m[4] + m[7],
		m[2] + m[5] + m[8],
	}
}

// Valid reports whether every coefficient is finite.
func (m Mat3) Valid() bool {
	for _, v := range m {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// String formats the matrix row by row.
func (m Mat3) String() string {
	return formatMatrix(m[:], 3)
}

// Embed returns the 4x4 identity with m substituted into rows and columns 0-2.
func Embed(m Mat3) Mat4 {
	r := Identity4
	copy(r[0:3], m[0:3])
	copy(r[4:7], m[3:6])
	copy(r[8:11], m[6:9])
	return r
}

// Block returns the upper-left 3x3 block of m.
func (m Mat4) Block() Mat3 {
	var r Mat3
	copy(r[0:3], m[0:3])
	copy(r[3:6], m[4:7])
	copy(r[6:9], m[8:11])
	return r
}

// Mul4x4 returns lhs * rhs.
func Mul4x4(lhs, rhs Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += lhs[k*4+row] * rhs[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

// Valid reports whether every coefficient is finite.
func (m Mat4) Valid() bool {
	for _, v := range m {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// String formats the matrix row by row.
func (m Mat4) String() string {
	return formatMatrix(m[:], 4)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatMatrix(m []float64, n int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for row := 0; row < n; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('[')
		for col := 0; col < n; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.6f", m[col*n+row])
		}
		sb.WriteByte(']')
	}
	sb.WriteByte(']')
	return sb.String()
}
