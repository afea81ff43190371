// SPDX-License-Identifier: GPL-3.0-only

package gamma

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog/log"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
)

// X11 applies the display color matrix to every CRTC of an X11 screen using
// RandR gamma ramps. It is safe for concurrent use.
type X11 struct {
	conn  *xgb.Conn
	root  xproto.Window
	errch chan error
	ramps *rampState
}

// rampState holds the white point last requested and serializes writes of it,
// so the ramps left on the CRTCs always match the latest request.
type rampState struct {
	mu    sync.Mutex
	white *White
	write func(White) error
}

// set records white and writes it.
func (r *rampState) set(white White) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.white = &white
	return r.write(white)
}

// reapply writes the recorded white again, if any.
func (r *rampState) reapply() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.white == nil {
		return nil
	}
	return r.write(*r.white)
}

var _ transform.Sink = (*X11)(nil)

// NewX11 connects to display (empty for $DISPLAY) and reapplies the current
// ramps whenever a CRTC changes. A fatal connection error is delivered on the
// returned channel, after which the sink must be closed.
func NewX11(display string) (*X11, <-chan error, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	x := &X11{
		conn:  conn,
		root:  xproto.Setup(conn).DefaultScreen(conn).Root,
		errch: make(chan error, 1),
	}
	x.ramps = &rampState{write: x.writeAll}

	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to initialize randr: %w", err)
	}
	if err := randr.SelectInputChecked(conn, x.root, randr.NotifyMaskCrtcChange).Check(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to select randr input: %w", err)
	}

	go x.loop()

	log.Info().Str("display", display).Msg("X11 gamma output connected")
	return x, x.errch, nil
}

func (x *X11) loop() {
	for {
		ev, err := x.conn.WaitForEvent()
		if err != nil {
			x.errch <- err
			return
		}
		if ev == nil {
			// Connection closed.
			return
		}
		if e, ok := ev.(randr.NotifyEvent); ok && e.SubCode == randr.NotifyCrtcChange {
			if err := x.ramps.reapply(); err != nil {
				log.Warn().Err(err).Msg("Failed to reapply gamma ramps after CRTC change")
			}
		}
	}
}

// ApplyColorMatrix sets the gamma ramps of all CRTCs to the neutral axis of m.
func (x *X11) ApplyColorMatrix(m colorspace.Mat4) error {
	white := NeutralWhite(m)
	log.Debug().Floats64("white", white[:]).Msg("Applying gamma ramps")
	return x.ramps.set(white)
}

// writeAll sets the ramps of every CRTC of the screen.
func (x *X11) writeAll(white White) error {
	resources, err := randr.GetScreenResourcesCurrent(x.conn, x.root).Reply()
	if err != nil {
		return fmt.Errorf("failed to get screen resources: %w", err)
	}

	var errs []error
	for _, crtc := range resources.Crtcs {
		if err := setCrtc(x.conn, crtc, white); err != nil {
			errs = append(errs, fmt.Errorf("crtc %d: %w", crtc, err))
		}
	}
	return errors.Join(errs...)
}

func setCrtc(conn *xgb.Conn, crtc randr.Crtc, white White) error {
	gamma, err := randr.GetCrtcGammaSize(conn, crtc).Reply()
	if err != nil {
		return fmt.Errorf("get crtc gamma size: %w", err)
	}
	r := make([]uint16, gamma.Size)
	g := make([]uint16, gamma.Size)
	b := make([]uint16, gamma.Size)
	GammaRamp(r, g, b, white)
	if err := randr.SetCrtcGammaChecked(conn, crtc, gamma.Size, r, g, b).Check(); err != nil {
		return fmt.Errorf("set crtc gamma: %w", err)
	}
	return nil
}

// Close restores neutral ramps and closes the connection.
func (x *X11) Close() {
	if err := x.ramps.set(Neutral); err != nil {
		log.Warn().Err(err).Msg("Failed to restore gamma ramps")
	}
	x.conn.Close()
}
