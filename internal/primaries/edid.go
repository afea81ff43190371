// SPDX-License-Identifier: GPL-3.0-only

package primaries

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
)

const (
	// DefaultDRMRoot is the sysfs directory listing DRM connectors.
	DefaultDRMRoot = "/sys/class/drm"

	// chromaticityOffset is the offset of the 10-byte chromaticity block in
	// the EDID base block.
	chromaticityOffset = 25

	edidMinLength = chromaticityOffset + 10
)

var edidHeader = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// ErrBadEDID is returned when an EDID blob cannot be decoded.
var ErrBadEDID = errors.New("bad edid")

// EDIDSource reads primaries from the EDID of a DRM connector.
type EDIDSource struct {
	path string
	root string
}

// Verify EDIDSource implements Source interface.
var _ Source = (*EDIDSource)(nil)

// EDIDOption is a functional option for configuring an EDIDSource.
type EDIDOption func(*EDIDSource)

// WithDRMRoot sets the directory scanned for connectors, for testing.
func WithDRMRoot(root string) EDIDOption {
	return func(s *EDIDSource) {
		s.root = root
	}
}

// NewEDIDSource creates a source reading the EDID file at path. If path is
// empty, the first connected connector is used, preferring internal panels.
func NewEDIDSource(path string, opts ...EDIDOption) *EDIDSource {
	s := &EDIDSource{
		path: path,
		root: DefaultDRMRoot,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "edid".
func (s *EDIDSource) Name() string {
	return "edid"
}

// Primaries reads and decodes the connector's EDID.
func (s *EDIDSource) Primaries() (colorspace.Primaries, error) {
	path := s.path
	if path == "" {
		found, err := FindConnector(s.root)
		if err != nil {
			return colorspace.Primaries{}, err
		}
		path = filepath.Join(found, "edid")
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return colorspace.Primaries{}, fmt.Errorf("%w: %s", ErrNoPrimaries, path)
		}
		return colorspace.Primaries{}, fmt.Errorf("read edid: %w", err)
	}
	return ParseEDID(buf)
}

// FindConnector returns the sysfs directory of the first connected DRM
// connector exposing an EDID. Internal panels (eDP, LVDS, DSI) are preferred.
func FindConnector(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list drm nodes: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "card") || !strings.Contains(name, "-") {
			continue
		}
		dir := filepath.Join(root, name)
		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil || strings.TrimSpace(string(status)) != "connected" {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, "edid")); err != nil || info.Size() == 0 {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no connected display in %s", ErrNoPrimaries, root)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return isInternalConnector(candidates[i]) && !isInternalConnector(candidates[j])
	})
	return filepath.Join(root, candidates[0]), nil
}

func isInternalConnector(name string) bool {
	for _, kind := range []string{"-eDP-", "-LVDS-", "-DSI-"} {
		if strings.Contains(name, kind) {
			return true
		}
	}
	return false
}

// ParseEDID decodes the color characteristics of an EDID base block. Each
// chromaticity is a 10-bit fraction: the high 8 bits are in bytes 27-34 and
// the low 2 bits are packed into bytes 25 and 26.
func ParseEDID(buf []byte) (colorspace.Primaries, error) {
	if !bytes.HasPrefix(buf, edidHeader) {
		return colorspace.Primaries{}, fmt.Errorf("%w: invalid header", ErrBadEDID)
	}
	if len(buf) < edidMinLength {
		return colorspace.Primaries{}, fmt.Errorf("%w: too short (%d bytes)", ErrBadEDID, len(buf))
	}

	lo1 := buf[chromaticityOffset]
	lo2 := buf[chromaticityOffset+1]
	hi := buf[chromaticityOffset+2 : chromaticityOffset+10]

	coord := func(high byte, low byte, shift uint) float64 {
		return float64(uint16(high)<<2|uint16(low>>shift)&0b11) / 1024
	}

	red := colorspace.Chromaticity{X: coord(hi[0], lo1, 6), Y: coord(hi[1], lo1, 4)}
	green := colorspace.Chromaticity{X: coord(hi[2], lo1, 2), Y: coord(hi[3], lo1, 0)}
	blue := colorspace.Chromaticity{X: coord(hi[4], lo2, 6), Y: coord(hi[5], lo2, 4)}
	white := colorspace.Chromaticity{X: coord(hi[6], lo2, 2), Y: coord(hi[7], lo2, 0)}

	for _, c := range []colorspace.Chromaticity{red, green, blue, white} {
		if c.Y == 0 {
			return colorspace.Primaries{}, fmt.Errorf("%w: zero chromaticity", ErrBadEDID)
		}
	}

	return colorspace.Primaries{
		Red:   colorspace.XYYToXYZ(red),
		Green: colorspace.XYYToXYZ(green),
		Blue:  colorspace.XYYToXYZ(blue),
		White: colorspace.XYYToXYZ(white),
	}, nil
}
