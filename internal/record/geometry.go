package record

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/novarec/novarec/internal/logger"
)

// screenGeometry is a seam so tests can pin the screen size.
var screenGeometry = detectScreenGeometry

// detectScreenGeometry asks the X server for the root screen dimensions,
// falling back to xdpyinfo output and finally a 1080p guess. x11grab refuses
// to start when the requested size exceeds the screen, so a correct answer
// matters more than a fast one.
func detectScreenGeometry() (width, height int) {
	if w, h, err := xGeometry(); err == nil {
		return w, h
	}

	log := logger.WithComponent("record")
	if out, err := exec.Command("xdpyinfo").Output(); err == nil {
		if w, h, err := parseXdpyinfoDimensions(string(out)); err == nil {
			return w, h
		}
	}
	log.Warn().Msg("Could not determine screen geometry, assuming 1920x1080")
	return 1920, 1080
}

func xGeometry() (int, int, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	screen := xproto.Setup(conn).DefaultScreen(conn)
	return int(screen.WidthInPixels), int(screen.HeightInPixels), nil
}

// parseXdpyinfoDimensions extracts "WxH" from a "dimensions:" line, e.g.
// "  dimensions:    2560x1440 pixels (677x381 millimeters)".
func parseXdpyinfoDimensions(out string) (int, int, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "dimensions:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "dimensions:"))
		if len(fields) == 0 {
			continue
		}
		var w, h int
		if _, err := fmt.Sscanf(fields[0], "%dx%d", &w, &h); err != nil {
			continue
		}
		if w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("no dimensions line in xdpyinfo output")
}
