package record

import (
	"os"
	"strings"
)

// DisplayServer identifies which display protocol the desktop session runs.
type DisplayServer string

const (
	DisplayWayland DisplayServer = "wayland"
	DisplayX11     DisplayServer = "x11"
	DisplayUnknown DisplayServer = "unknown"
)

// Env captures the display-server signals backend resolution depends on.
type Env struct {
	SessionType    string
	WaylandDisplay string
	X11Display     string
}

// DetectEnv reads the display signals from the process environment.
func DetectEnv() Env {
	return Env{
		SessionType:    os.Getenv("XDG_SESSION_TYPE"),
		WaylandDisplay: os.Getenv("WAYLAND_DISPLAY"),
		X11Display:     os.Getenv("DISPLAY"),
	}
}

// DisplayServer classifies the session. The Wayland socket takes precedence
// over DISPLAY because X11 variables are routinely present under XWayland.
func (e Env) DisplayServer() DisplayServer {
	switch strings.ToLower(e.SessionType) {
	case "wayland":
		return DisplayWayland
	case "x11":
		return DisplayX11
	}
	if e.WaylandDisplay != "" {
		return DisplayWayland
	}
	if e.X11Display != "" {
		return DisplayX11
	}
	return DisplayUnknown
}
