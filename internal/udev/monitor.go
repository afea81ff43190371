// SPDX-License-Identifier: GPL-3.0-only

// Package udev provides display hot-plug detection via netlink/udev events.
package udev

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"
)

const (
	// netlinkBufferSize is the receive buffer size for the netlink socket.
	// A larger buffer prevents ENOBUFS errors when a dock brings up several
	// connectors at once.
	netlinkBufferSize = 2 * 1024 * 1024 // 2 MB

	// debounceWindow collapses the burst of uevents a single hot-plug
	// produces on the same device.
	debounceWindow = 500 * time.Millisecond

	// debounceRetention is how long debounce entries are kept.
	debounceRetention = time.Minute

	// eventBacklog is how many accepted events may wait for a busy handler.
	eventBacklog = 16
)

const (
	// DRMSubsystem is the udev subsystem of display devices.
	DRMSubsystem = "drm"

	// drmMinorType is the DEVTYPE of DRM card nodes.
	drmMinorType = "drm_minor"
)

// EventType represents the type of display event.
type EventType int

const (
	// EventAdd indicates a DRM device appeared.
	EventAdd EventType = iota
	// EventChange indicates a connector was plugged or unplugged.
	EventChange
	// EventRemove indicates a DRM device went away.
	EventRemove
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventChange:
		return "change"
	case EventRemove:
		return "remove"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event represents a display hot-plug event.
type Event struct {
	Type EventType
	// Device is the kernel object path of the DRM device.
	Device string
}

// EventHandler is called when a display event occurs. Handlers run on their
// own goroutine, one event at a time, so a slow handler does not delay the
// debouncing of later events.
type EventHandler func(event Event)

// RecoveryHandler is called when the monitor recovers from an error condition
// (e.g., netlink buffer overflow) and needs to trigger a refresh.
type RecoveryHandler func()

// Monitor watches for display connect/disconnect events.
type Monitor struct {
	conn            *netlink.UEventConn
	handler         EventHandler
	recoveryHandler RecoveryHandler
	quit            chan struct{}
	stopped         bool
	lastEventTime   map[string]time.Time
	mu              sync.Mutex
}

// NewMonitor creates a new udev monitor with the given event handler.
func NewMonitor(handler EventHandler) *Monitor {
	return &Monitor{
		handler:       handler,
		lastEventTime: make(map[string]time.Time),
	}
}

// SetRecoveryHandler sets the handler called when the monitor recovers from errors.
// This should trigger a refresh of the display color space to recover from
// potentially missed events.
func (m *Monitor) SetRecoveryHandler(handler RecoveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryHandler = handler
}

// Start begins monitoring for display events.
// This method is non-blocking; events are processed in a background goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return fmt.Errorf("monitor already started")
	}

	m.conn = &netlink.UEventConn{}
	if err := m.conn.Connect(netlink.UdevEvent); err != nil {
		m.conn = nil
		return fmt.Errorf("failed to connect to netlink: %w", err)
	}

	if err := setSocketBufferSize(m.conn.Fd, netlinkBufferSize); err != nil {
		log.Warn().Err(err).Int("size", netlinkBufferSize).Msg("Failed to set netlink buffer size")
	} else {
		log.Debug().Int("size", netlinkBufferSize).Msg("Netlink socket buffer size configured")
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.quit = m.conn.Monitor(queue, errs, m.createMatcher())
	m.stopped = false

	go m.processEvents(queue, errs)

	log.Info().Msg("udev monitor started")
	return nil
}

// Stop stops the monitor and releases resources.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.stopped {
		return nil
	}

	m.stopped = true

	// Signal the monitor goroutine to stop
	select {
	case m.quit <- struct{}{}:
	default:
	}

	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("failed to close netlink connection: %w", err)
	}

	m.conn = nil
	log.Info().Msg("udev monitor stopped")
	return nil
}

// createMatcher creates a matcher for DRM device events.
func (m *Monitor) createMatcher() *netlink.RuleDefinitions {
	rules := &netlink.RuleDefinitions{}

	subsystem := fmt.Sprintf("^%s$", DRMSubsystem)
	for _, action := range []string{"add", "change", "remove"} {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env: map[string]string{
				"SUBSYSTEM": subsystem,
			},
		})
	}

	return rules
}

// processEvents handles incoming udev events. Events are debounced as they
// arrive and then queued for the handler.
func (m *Monitor) processEvents(queue chan netlink.UEvent, errs chan error) {
	events := make(chan Event, eventBacklog)
	defer close(events)
	go m.deliver(events)

	for {
		select {
		case uevent, ok := <-queue:
			if !ok {
				return
			}
			event, accepted := m.acceptEvent(uevent)
			if !accepted {
				continue
			}
			select {
			case events <- event:
			default:
				// Queued events already cover this display.
				log.Warn().Str("devpath", event.Device).Msg("Display event backlog full, dropping event")
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.mu.Lock()
			stopped := m.stopped
			recoveryHandler := m.recoveryHandler
			m.mu.Unlock()
			if stopped {
				return
			}

			// Events may have been dropped, so the display must be re-read.
			if isBufferOverflowError(err) {
				log.Warn().Msg("Netlink buffer overflow detected, triggering recovery refresh")
				if recoveryHandler != nil {
					go recoveryHandler()
				}
				continue
			}

			log.Error().Err(err).Msg("udev monitor error")
		}
	}
}

// deliver calls the handler for each queued event until events is closed.
func (m *Monitor) deliver(events <-chan Event) {
	for event := range events {
		if m.handler != nil {
			m.handler(event)
		}
	}
}

// setSocketBufferSize sets the receive buffer size for a socket.
// It first tries SO_RCVBUFFORCE (requires CAP_NET_ADMIN), then falls back to SO_RCVBUF.
func setSocketBufferSize(fd int, size int) error {
	err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUFFORCE, size)
	if err == nil {
		return nil
	}

	// The kernel caps SO_RCVBUF at net.core.rmem_max.
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}

// isBufferOverflowError checks if the error is a netlink buffer overflow (ENOBUFS).
func isBufferOverflowError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOBUFS) {
		return true
	}
	// The udev library does not always wrap the errno.
	return strings.Contains(strings.ToLower(err.Error()), "no buffer space available")
}

// acceptEvent filters a udev event down to the display events the daemon
// reacts to, dropping bursts on the same device.
func (m *Monitor) acceptEvent(uevent netlink.UEvent) (Event, bool) {
	var eventType EventType
	switch uevent.Action {
	case netlink.ADD:
		// Connector and render nodes announce themselves too; only cards matter.
		if uevent.Env["DEVTYPE"] != drmMinorType {
			return Event{}, false
		}
		eventType = EventAdd
	case netlink.CHANGE:
		// Change events without HOTPLUG=1 are lease or property updates.
		if uevent.Env["HOTPLUG"] != "1" {
			return Event{}, false
		}
		eventType = EventChange
	case netlink.REMOVE:
		eventType = EventRemove
	default:
		return Event{}, false
	}

	if m.shouldDebounce(uevent.KObj) {
		log.Debug().Str("devpath", uevent.KObj).Msg("Debounced display event")
		return Event{}, false
	}

	log.Info().
		Str("action", string(uevent.Action)).
		Str("devpath", uevent.KObj).
		Str("devname", uevent.Env["DEVNAME"]).
		Msg("Display event")

	return Event{Type: eventType, Device: uevent.KObj}, true
}

// shouldDebounce reports whether an event for device arrived within the
// debounce window of the previous one, and records the event.
func (m *Monitor) shouldDebounce(device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for d, t := range m.lastEventTime {
		if now.Sub(t) > debounceRetention {
			delete(m.lastEventTime, d)
		}
	}

	last, ok := m.lastEventTime[device]
	m.lastEventTime[device] = now
	return ok && now.Sub(last) < debounceWindow
}
