// SPDX-License-Identifier: GPL-3.0-only

// Package dbus provides the D-Bus service implementation for display white balance control.
package dbus

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
)

// ErrRateLimitExceeded is returned when temperature change requests exceed the rate limit.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrInvalidTemperature is returned when a non-positive temperature is requested.
var ErrInvalidTemperature = errors.New("temperature must be positive")

const (
	// rateLimitPerSecond is the maximum number of temperature changes per second.
	rateLimitPerSecond = 20

	// rateLimitBurst is the maximum burst size for temperature changes.
	rateLimitBurst = 5
)

const (
	// ServiceName is the D-Bus service name.
	ServiceName = "io.github.shini4i.WhiteBalance"

	// ObjectPath is the D-Bus object path.
	ObjectPath = "/io/github/shini4i/WhiteBalance"

	// InterfaceName is the D-Bus interface name.
	InterfaceName = "io.github.shini4i.WhiteBalance"
)

// IntrospectXML is the D-Bus introspection XML for the service.
const IntrospectXML = `
<node name="` + ObjectPath + `">
  <interface name="` + InterfaceName + `">
    <method name="GetTemperature">
      <arg name="cct" type="i" direction="out"/>
    </method>
    <method name="SetTemperature">
      <arg name="cct" type="i" direction="in"/>
      <arg name="applied" type="i" direction="out"/>
    </method>
    <method name="GetTemperatureRange">
      <arg name="min" type="i" direction="out"/>
      <arg name="max" type="i" direction="out"/>
      <arg name="default" type="i" direction="out"/>
    </method>
    <method name="GetNativeTemperature">
      <arg name="cct" type="d" direction="out"/>
    </method>
    <method name="GetMatrix">
      <arg name="matrix" type="ad" direction="out"/>
    </method>
    <method name="GetColorTransform">
      <arg name="matrix" type="ad" direction="out"/>
    </method>
    <method name="SetActivated">
      <arg name="activated" type="b" direction="in"/>
    </method>
    <method name="IsActivated">
      <arg name="activated" type="b" direction="out"/>
    </method>
    <method name="IsAvailable">
      <arg name="available" type="b" direction="out"/>
    </method>
    <method name="Refresh"/>
    <method name="Dump">
      <arg name="state" type="s" direction="out"/>
    </method>
    <signal name="TemperatureChanged">
      <arg name="cct" type="i"/>
    </signal>
    <signal name="ColorMatrixChanged">
      <arg name="matrix" type="ad"/>
    </signal>
  </interface>
  ` + introspect.IntrospectDataString + `
</node>
`

// ColorService is the display color service exposed over D-Bus.
// This allows for mocking in tests.
type ColorService interface {
	Temperature() int
	SetTemperature(cct int) (int, error)
	Range() tint.TemperatureRange
	NativeTemperature() (float64, bool)
	Matrix() colorspace.Mat4
	ComposedMatrix() colorspace.Mat4
	SetActivated(activated bool) error
	IsActivated() bool
	Available() bool
	Refresh() error
	Dump(w io.Writer)
}

// Server implements the D-Bus service for white balance control. It also
// acts as a transform sink, announcing every new display transform.
//
// Thread safety:
//   - The underlying ColorService is thread-safe.
//   - The connMu mutex protects the D-Bus connection field for signal emission.
type Server struct {
	conn        *dbus.Conn
	connMu      sync.RWMutex // Protects conn field only
	service     ColorService
	rateLimiter *rate.Limiter
}

var _ transform.Sink = (*Server)(nil)

// NewServer creates a new D-Bus server for the given color service.
func NewServer(service ColorService) *Server {
	return &Server{
		service:     service,
		rateLimiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Start connects to the session bus and exports the service.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Ensure connection is closed if setup fails
	success := false
	defer func() {
		if !success {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close D-Bus connection during cleanup")
			}
		}
	}()

	if err := conn.Export(s, ObjectPath, InterfaceName); err != nil {
		return fmt.Errorf("failed to export server: %w", err)
	}

	err = conn.Export(introspect.Introspectable(IntrospectXML), ObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	success = true
	log.Info().Str("service", ServiceName).Msg("D-Bus service started")
	return nil
}

// Stop disconnects from the session bus.
func (s *Server) Stop() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// GetTemperature returns the applied color temperature in Kelvin.
func (s *Server) GetTemperature() (int32, *dbus.Error) {
	// #nosec G115 -- temperatures are bounded by the configured range
	return int32(s.service.Temperature()), nil
}

// SetTemperature applies a color temperature in Kelvin and returns the value
// actually used after clamping to the configured range.
func (s *Server) SetTemperature(cct int32) (int32, *dbus.Error) {
	if !s.rateLimiter.Allow() {
		log.Warn().Msg("Rate limit exceeded for SetTemperature")
		return 0, dbus.MakeFailedError(ErrRateLimitExceeded)
	}

	if cct <= 0 {
		return 0, dbus.MakeFailedError(ErrInvalidTemperature)
	}

	applied, err := s.service.SetTemperature(int(cct))
	if err != nil {
		log.Error().Err(err).Int32("cct", cct).Msg("Failed to set temperature")
		return 0, dbus.MakeFailedError(err)
	}

	log.Debug().Int32("cct", cct).Int("applied", applied).Msg("Set temperature")
	// #nosec G115 -- applied is clamped to the configured range
	return int32(applied), nil
}

// GetTemperatureRange returns the configured minimum, maximum and default
// temperatures.
func (s *Server) GetTemperatureRange() (int32, int32, int32, *dbus.Error) {
	r := s.service.Range()
	// #nosec G115 -- range values are validated temperatures
	return int32(r.Min), int32(r.Max), int32(r.Default), nil
}

// GetNativeTemperature returns the estimated color temperature of the
// display's nominal white.
func (s *Server) GetNativeTemperature() (float64, *dbus.Error) {
	cct, ok := s.service.NativeTemperature()
	if !ok {
		return 0, dbus.MakeFailedError(errors.New("native temperature unavailable"))
	}
	return cct, nil
}

// GetMatrix returns the white balance matrix, column-major.
func (s *Server) GetMatrix() ([]float64, *dbus.Error) {
	m := s.service.Matrix()
	return m[:], nil
}

// GetColorTransform returns the composed display transform, column-major.
func (s *Server) GetColorTransform() ([]float64, *dbus.Error) {
	m := s.service.ComposedMatrix()
	return m[:], nil
}

// SetActivated enables or disables white balance.
func (s *Server) SetActivated(activated bool) *dbus.Error {
	if err := s.service.SetActivated(activated); err != nil {
		log.Error().Err(err).Bool("activated", activated).Msg("Failed to toggle white balance")
		return dbus.MakeFailedError(err)
	}
	return nil
}

// IsActivated reports whether white balance is applied.
func (s *Server) IsActivated() (bool, *dbus.Error) {
	return s.service.IsActivated(), nil
}

// IsAvailable reports whether the display color space is known.
func (s *Server) IsAvailable() (bool, *dbus.Error) {
	return s.service.Available(), nil
}

// Refresh re-reads the display color space.
func (s *Server) Refresh() *dbus.Error {
	if err := s.service.Refresh(); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Dump returns the service state in a human readable form.
func (s *Server) Dump() (string, *dbus.Error) {
	var b strings.Builder
	s.service.Dump(&b)
	return b.String(), nil
}

// EmitTemperatureChanged emits the TemperatureChanged signal.
func (s *Server) EmitTemperatureChanged(cct int) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return
	}

	// #nosec G115 -- temperatures are bounded by the configured range
	if err := conn.Emit(ObjectPath, InterfaceName+".TemperatureChanged", int32(cct)); err != nil {
		log.Error().Err(err).Msg("Failed to emit TemperatureChanged signal")
	}
}

// ApplyColorMatrix emits the ColorMatrixChanged signal.
func (s *Server) ApplyColorMatrix(m colorspace.Mat4) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return nil
	}

	if err := conn.Emit(ObjectPath, InterfaceName+".ColorMatrixChanged", m[:]); err != nil {
		return fmt.Errorf("failed to emit ColorMatrixChanged signal: %w", err)
	}
	return nil
}
