package tint_test

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/primaries"
	"github.com/shini4i/whitebalance-daemon/internal/primaries/mocks"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	srgbValues = []float64{
		0.412315, 0.212600, 0.019327,
		0.357600, 0.715200, 0.119200,
		0.180500, 0.072200, 0.950633,
		0.950456, 1.000000, 1.089058,
	}
	d65          = colorspace.XYZ{0.950456, 1.000000, 1.089058}
	defaultRange = tint.TemperatureRange{Min: 4000, Max: 8000, Default: 6500}
)

func srgbSource(t *testing.T) primaries.Source {
	t.Helper()
	src, err := primaries.NewStaticSource(srgbValues)
	require.NoError(t, err)
	return src
}

func newWhiteBalance(t *testing.T, adaptation colorspace.Adaptation, nominalWhite colorspace.XYZ) *tint.WhiteBalance {
	t.Helper()
	wb := tint.NewWhiteBalance(adaptation)
	require.NoError(t, wb.SetUp(defaultRange, nominalWhite, srgbSource(t)))
	wb.SetActivated(true)
	return wb
}

func assertMat3InDelta(t *testing.T, expected, actual colorspace.Mat3, delta float64) {
	t.Helper()
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], delta, "coefficient %d", i)
	}
}

func TestTemperatureRange_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       tint.TemperatureRange
		wantErr bool
	}{
		{name: "default range", r: defaultRange},
		{name: "single value", r: tint.TemperatureRange{Min: 6500, Max: 6500, Default: 6500}},
		{name: "zero minimum", r: tint.TemperatureRange{Min: 0, Max: 8000}, wantErr: true},
		{name: "negative minimum", r: tint.TemperatureRange{Min: -1, Max: 8000}, wantErr: true},
		{name: "max below min", r: tint.TemperatureRange{Min: 8000, Max: 4000}, wantErr: true},
		{name: "default below min", r: tint.TemperatureRange{Min: 4000, Max: 8000, Default: 3000}, wantErr: true},
		{name: "default above max", r: tint.TemperatureRange{Min: 4000, Max: 8000, Default: 9000}, wantErr: true},
		{name: "default on bound", r: tint.TemperatureRange{Min: 4000, Max: 8000, Default: 8000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, tint.ErrInvalidRange)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTemperatureRange_Clamp(t *testing.T) {
	assert.Equal(t, 4000, defaultRange.Clamp(1000))
	assert.Equal(t, 8000, defaultRange.Clamp(12000))
	assert.Equal(t, 5000, defaultRange.Clamp(5000))
	assert.Equal(t, 4000, defaultRange.Clamp(4000))
	assert.Equal(t, 8000, defaultRange.Clamp(8000))
}

func TestWhiteBalance_SetUpAppliesDefault(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, d65)

	assert.True(t, wb.IsSetUp())
	assert.Equal(t, 6500, wb.Temperature())
	assert.Equal(t, defaultRange, wb.Range())
	assert.Equal(t, transform.LevelWhiteBalance, wb.Level())
	assert.NotEqual(t, colorspace.Identity4, wb.Matrix())
}

func TestWhiteBalance_GoldenMatrix(t *testing.T) {
	tests := []struct {
		name       string
		adaptation colorspace.Adaptation
		expected   colorspace.Mat3
	}{
		{
			name:       "cat16",
			adaptation: colorspace.CAT16,
			expected: colorspace.Mat3{
				0.8678174598, -0.0109167002, -0.0045909819,
				0.1152193296, 0.7899885226, -0.0245383405,
				0.0169632106, 0.0133206382, 0.6582345335,
			},
		},
		{
			name:       "bradford",
			adaptation: colorspace.Bradford,
			expected: colorspace.Mat3{
				0.8868903188, -0.0049260796, -0.0047342884,
				0.1015495643, 0.7943496327, -0.0151568733,
				0.0115601169, 0.0029689074, 0.6489963729,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := newWhiteBalance(t, tt.adaptation, d65)

			cct, err := wb.SetTemperature(5000)
			require.NoError(t, err)
			assert.Equal(t, 5000, cct)

			m := wb.Matrix()
			assertMat3InDelta(t, tt.expected, m.Block(), 1e-9)

			// The 3x3 block is embedded in an otherwise identity 4x4.
			for _, i := range []int{3, 7, 11, 12, 13, 14} {
				assert.Zero(t, m[i], "coefficient %d", i)
			}
			assert.Equal(t, 1.0, m[15])
		})
	}
}

func TestWhiteBalance_MatrixIsFiniteAndNormalizedAcrossRange(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, d65)

	for cct := defaultRange.Min; cct <= defaultRange.Max; cct += 50 {
		_, err := wb.SetTemperature(cct)
		require.NoError(t, err, "cct %d", cct)

		m := wb.Matrix()
		require.True(t, m.Valid(), "cct %d", cct)

		sums := m.Block().RowSums()
		peak := max(sums[0], sums[1], sums[2])
		assert.InDelta(t, 1.0, peak, 1e-12, "cct %d", cct)
		for i, s := range sums {
			assert.LessOrEqual(t, s, 1.0+1e-12, "cct %d channel %d", cct, i)
		}
	}
}

func TestWhiteBalance_NativeWhiteIsIdentity(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, colorspace.CCTToXYZ(6500))

	_, err := wb.SetTemperature(6500)
	require.NoError(t, err)
	assertMat3InDelta(t, colorspace.Identity3, wb.Matrix().Block(), 1e-9)
}

func TestWhiteBalance_SetTemperatureClamps(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, d65)

	tests := []struct {
		name     string
		cct      int
		expected int
	}{
		{name: "below minimum", cct: 1000, expected: 4000},
		{name: "above maximum", cct: 20000, expected: 8000},
		{name: "within range", cct: 5500, expected: 5500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cct, err := wb.SetTemperature(tt.cct)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cct)
			assert.Equal(t, tt.expected, wb.Temperature())
		})
	}

	_, err := wb.SetTemperature(8000)
	require.NoError(t, err)
	atMax := wb.Matrix()
	_, err = wb.SetTemperature(9000)
	require.NoError(t, err)
	assert.Equal(t, atMax, wb.Matrix())
}

func TestWhiteBalance_InactiveReturnsIdentity(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, d65)
	assert.True(t, wb.IsActivated())

	wb.SetActivated(false)
	assert.False(t, wb.IsActivated())
	assert.Equal(t, colorspace.Identity4, wb.Matrix())

	wb.SetActivated(true)
	assert.NotEqual(t, colorspace.Identity4, wb.Matrix())
}

func TestWhiteBalance_DegeneratePrimariesRejected(t *testing.T) {
	ctrl := gomock.NewController(t)

	degenerate, err := colorspace.PrimariesFromFloats(srgbValues)
	require.NoError(t, err)
	degenerate.Blue = degenerate.Green

	src := mocks.NewMockSource(ctrl)
	src.EXPECT().Primaries().Return(degenerate, nil)
	src.EXPECT().Name().Return("edid").AnyTimes()

	wb := tint.NewWhiteBalance(colorspace.CAT16)
	err = wb.SetUp(defaultRange, d65, src)
	assert.ErrorIs(t, err, primaries.ErrUnavailable)
	assert.False(t, wb.IsSetUp())

	wb.SetActivated(true)
	_, err = wb.SetTemperature(5000)
	assert.ErrorIs(t, err, tint.ErrNotSetUp)
	assert.Equal(t, colorspace.Identity4, wb.Matrix())
	assert.Zero(t, wb.Temperature())
}

func TestWhiteBalance_InvalidRangeRejected(t *testing.T) {
	wb := tint.NewWhiteBalance(colorspace.CAT16)
	err := wb.SetUp(tint.TemperatureRange{Min: 0, Max: 8000, Default: 6500}, d65, srgbSource(t))
	assert.ErrorIs(t, err, tint.ErrInvalidRange)
	assert.False(t, wb.IsSetUp())
}

func TestWhiteBalance_InvalidNominalWhiteRejected(t *testing.T) {
	tests := []struct {
		name  string
		white colorspace.XYZ
	}{
		{name: "zero", white: colorspace.XYZ{}},
		{name: "zero long cone response", white: colorspace.XYZ{0, 0.051461, 0.650173}},
		{name: "negative long cone response", white: colorspace.XYZ{0, 1, 20}},
		{name: "not finite", white: colorspace.XYZ{math.Inf(1), 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := tint.NewWhiteBalance(colorspace.CAT16)
			wb.SetActivated(true)
			err := wb.SetUp(defaultRange, tt.white, srgbSource(t))
			assert.ErrorIs(t, err, tint.ErrInvalidNominalWhite)
			assert.False(t, wb.IsSetUp())
			assert.Zero(t, wb.Temperature())
			assert.Equal(t, colorspace.Identity4, wb.Matrix())
		})
	}
}

func TestWhiteBalance_NativeTemperature(t *testing.T) {
	wb := tint.NewWhiteBalance(colorspace.CAT16)
	_, ok := wb.NativeTemperature()
	assert.False(t, ok)

	wb = newWhiteBalance(t, colorspace.CAT16, d65)
	cct, ok := wb.NativeTemperature()
	require.True(t, ok)
	assert.InDelta(t, 6505, cct, 1)
}

func TestChromaticAdaptation_InvalidMatrixKeepsPrevious(t *testing.T) {
	ca := tint.NewChromaticAdaptation(colorspace.CAT16)
	require.NoError(t, ca.SetUp(d65, srgbSource(t)))
	ca.SetActivated(true)

	require.NoError(t, ca.SetTargetWhite(colorspace.CCTToXYZ(5000)))
	previous := ca.Matrix()

	err := ca.SetTargetWhite(colorspace.XYZ{0, 0, 0})
	assert.ErrorIs(t, err, tint.ErrInvalidMatrix)
	assert.Equal(t, previous, ca.Matrix())
}

func TestChromaticAdaptation_NotSetUp(t *testing.T) {
	ca := tint.NewChromaticAdaptation(colorspace.CAT16)
	err := ca.SetTargetWhite(colorspace.CCTToXYZ(5000))
	assert.ErrorIs(t, err, tint.ErrNotSetUp)
	assert.Equal(t, colorspace.Identity4, ca.Matrix())
}

func TestWhiteBalance_ConcurrentSetAndRead(t *testing.T) {
	wb := newWhiteBalance(t, colorspace.CAT16, d65)

	_, err := wb.SetTemperature(4000)
	require.NoError(t, err)
	warm := wb.Matrix()
	_, err = wb.SetTemperature(8000)
	require.NoError(t, err)
	cool := wb.Matrix()
	require.NotEqual(t, warm, cool)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cct := 4000
				if (i+j)%2 == 0 {
					cct = 8000
				}
				_, err := wb.SetTemperature(cct)
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m := wb.Matrix()
				if m != warm && m != cool {
					t.Errorf("observed torn matrix %s", m)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestWhiteBalance_Dump(t *testing.T) {
	var buf bytes.Buffer
	tint.NewWhiteBalance(colorspace.CAT16).Dump(&buf)
	assert.Equal(t, "    setUp = false\n", buf.String())

	wb := newWhiteBalance(t, colorspace.CAT16, d65)
	buf.Reset()
	wb.Dump(&buf)

	out := buf.String()
	assert.Contains(t, out, "setUp = true")
	assert.Contains(t, out, "temperatureMin = 4000")
	assert.Contains(t, out, "temperatureMax = 8000")
	assert.Contains(t, out, "currentColorTemperature = 6500")
	assert.Contains(t, out, "adaptation = cat16")
	assert.Contains(t, out, "matrix = [[")
	assert.Contains(t, out, "updated = ")
}
