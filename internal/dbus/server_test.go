package dbus

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockColorService implements ColorService for testing.
type mockColorService struct {
	temperature int
	r           tint.TemperatureRange
	native      float64
	nativeOK    bool
	matrix      colorspace.Mat4
	composed    colorspace.Mat4
	activated   bool
	available   bool
	setErr      error
	refreshErr  error
	requested   []int
	refreshes   int
}

func (m *mockColorService) Temperature() int {
	return m.temperature
}

func (m *mockColorService) SetTemperature(cct int) (int, error) {
	m.requested = append(m.requested, cct)
	if m.setErr != nil {
		return 0, m.setErr
	}
	m.temperature = m.r.Clamp(cct)
	return m.temperature, nil
}

func (m *mockColorService) Range() tint.TemperatureRange {
	return m.r
}

func (m *mockColorService) NativeTemperature() (float64, bool) {
	return m.native, m.nativeOK
}

func (m *mockColorService) Matrix() colorspace.Mat4 {
	return m.matrix
}

func (m *mockColorService) ComposedMatrix() colorspace.Mat4 {
	return m.composed
}

func (m *mockColorService) SetActivated(activated bool) error {
	if !m.available {
		return errors.New("unavailable")
	}
	m.activated = activated
	return nil
}

func (m *mockColorService) IsActivated() bool {
	return m.activated
}

func (m *mockColorService) Available() bool {
	return m.available
}

func (m *mockColorService) Refresh() error {
	m.refreshes++
	return m.refreshErr
}

func (m *mockColorService) Dump(w io.Writer) {
	fmt.Fprintf(w, "currentColorTemperature = %d\n", m.temperature)
}

func newMockService() *mockColorService {
	return &mockColorService{
		temperature: 6500,
		r:           tint.TemperatureRange{Min: 4000, Max: 8000, Default: 6500},
		matrix:      colorspace.Identity4,
		composed:    colorspace.Identity4,
		activated:   true,
		available:   true,
	}
}

func TestNewServer(t *testing.T) {
	svc := newMockService()
	server := NewServer(svc)
	assert.NotNil(t, server)
	assert.Equal(t, svc, server.service)
}

func TestServer_GetTemperature(t *testing.T) {
	server := NewServer(newMockService())

	cct, err := server.GetTemperature()
	require.Nil(t, err)
	assert.Equal(t, int32(6500), cct)
}

func TestServer_SetTemperature(t *testing.T) {
	tests := []struct {
		name     string
		cct      int32
		expected int32
	}{
		{name: "within range", cct: 5000, expected: 5000},
		{name: "clamped to minimum", cct: 1000, expected: 4000},
		{name: "clamped to maximum", cct: 12000, expected: 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			server := NewServer(svc)

			applied, err := server.SetTemperature(tt.cct)
			require.Nil(t, err)
			assert.Equal(t, tt.expected, applied)
			assert.Equal(t, []int{int(tt.cct)}, svc.requested)
		})
	}
}

func TestServer_SetTemperature_NonPositive(t *testing.T) {
	svc := newMockService()
	server := NewServer(svc)

	_, err := server.SetTemperature(0)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "temperature must be positive")
	assert.Empty(t, svc.requested)
}

func TestServer_SetTemperature_ServiceError(t *testing.T) {
	svc := newMockService()
	svc.setErr = errors.New("display white balance is unavailable")
	server := NewServer(svc)

	applied, err := server.SetTemperature(5000)
	require.NotNil(t, err)
	assert.Equal(t, int32(0), applied)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestServer_GetTemperatureRange(t *testing.T) {
	server := NewServer(newMockService())

	minCCT, maxCCT, def, err := server.GetTemperatureRange()
	require.Nil(t, err)
	assert.Equal(t, int32(4000), minCCT)
	assert.Equal(t, int32(8000), maxCCT)
	assert.Equal(t, int32(6500), def)
}

func TestServer_GetNativeTemperature(t *testing.T) {
	svc := newMockService()
	server := NewServer(svc)

	_, err := server.GetNativeTemperature()
	assert.NotNil(t, err)

	svc.native, svc.nativeOK = 6504.5, true
	cct, err := server.GetNativeTemperature()
	require.Nil(t, err)
	assert.InDelta(t, 6504.5, cct, 1e-9)
}

func TestServer_GetMatrix(t *testing.T) {
	svc := newMockService()
	svc.matrix = colorspace.Embed(colorspace.Mat3{1, 0, 0, 0, 0.9, 0, 0, 0, 0.8})
	server := NewServer(svc)

	m, err := server.GetMatrix()
	require.Nil(t, err)
	require.Len(t, m, 16)
	assert.Equal(t, 0.9, m[5])
	assert.Equal(t, 0.8, m[10])
	assert.Equal(t, 1.0, m[15])

	composed, err := server.GetColorTransform()
	require.Nil(t, err)
	assert.Equal(t, colorspace.Identity4[:], composed)
}

func TestServer_SetActivated(t *testing.T) {
	svc := newMockService()
	server := NewServer(svc)

	require.Nil(t, server.SetActivated(false))
	activated, err := server.IsActivated()
	require.Nil(t, err)
	assert.False(t, activated)

	svc.available = false
	assert.NotNil(t, server.SetActivated(true))

	available, err := server.IsAvailable()
	require.Nil(t, err)
	assert.False(t, available)
}

func TestServer_Refresh(t *testing.T) {
	svc := newMockService()
	server := NewServer(svc)

	assert.Nil(t, server.Refresh())

	svc.refreshErr = errors.New("no primaries")
	assert.NotNil(t, server.Refresh())
	assert.Equal(t, 2, svc.refreshes)
}

func TestServer_Dump(t *testing.T) {
	server := NewServer(newMockService())

	out, err := server.Dump()
	require.Nil(t, err)
	assert.Contains(t, out, "currentColorTemperature = 6500")
}

func TestServer_SignalsWithoutConnection(t *testing.T) {
	server := NewServer(newMockService())

	assert.NotPanics(t, func() {
		server.EmitTemperatureChanged(5000)
	})
	assert.NoError(t, server.ApplyColorMatrix(colorspace.Identity4))
	assert.NoError(t, server.Stop())
}

func TestServer_Constants(t *testing.T) {
	assert.Equal(t, "io.github.shini4i.WhiteBalance", ServiceName)
	assert.Equal(t, "/io/github/shini4i/WhiteBalance", ObjectPath)
	assert.Equal(t, "io.github.shini4i.WhiteBalance", InterfaceName)
	assert.Contains(t, IntrospectXML, `<method name="SetTemperature">`)
	assert.Contains(t, IntrospectXML, `<signal name="ColorMatrixChanged">`)
}

func TestServer_RateLimiting(t *testing.T) {
	server := NewServer(newMockService())

	// Exhaust the burst limit (rateLimitBurst = 5)
	var rateLimitHit bool
	for i := 0; i < 20; i++ {
		_, err := server.SetTemperature(5000)
		if err != nil {
			rateLimitHit = true
			assert.Contains(t, err.Error(), "rate limit exceeded")
			break
		}
	}

	assert.True(t, rateLimitHit, "Rate limiter should have been triggered")
}
