package record

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/novarec/novarec/internal/portal"
)

// BackendKind identifies a concrete capture mechanism.
type BackendKind string

const (
	// BackendAuto lets the resolver order candidates from the environment.
	BackendAuto BackendKind = "auto"
	// BackendFfmpegX11 captures via ffmpeg's x11grab input.
	BackendFfmpegX11 BackendKind = "ffmpeg-x11"
	// BackendFfmpegPipewire captures via an ffmpeg build with PipeWire input.
	BackendFfmpegPipewire BackendKind = "ffmpeg-pipewire"
	// BackendWfRecorder captures via the wf-recorder tool (wlroots).
	BackendWfRecorder BackendKind = "wf-recorder"
	// BackendWlScreenrec captures via the wl-screenrec tool.
	BackendWlScreenrec BackendKind = "wl-screenrec"
	// BackendPortalGst captures via the desktop portal plus a GStreamer
	// pipeline; the only non-subprocess backend.
	BackendPortalGst BackendKind = "portal-gst"
)

// ParseBackend validates a user-supplied backend name.
func ParseBackend(s string) (BackendKind, error) {
	switch k := BackendKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendFfmpegX11, BackendFfmpegPipewire, BackendWfRecorder, BackendWlScreenrec, BackendPortalGst:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q (valid: auto, %s, %s, %s, %s, %s)",
			s, BackendFfmpegX11, BackendFfmpegPipewire, BackendWfRecorder, BackendWlScreenrec, BackendPortalGst)
	}
}

// Subprocess reports whether the backend runs as an external process
// (as opposed to an in-process media pipeline).
func (k BackendKind) Subprocess() bool {
	return k != BackendPortalGst
}

// NeedsTranscode reports whether the backend records to an intermediate
// Matroska capture that finalization must transcode to the requested
// container. The ffmpeg backends encode with the user's settings directly.
func (k BackendKind) NeedsTranscode() bool {
	switch k {
	case BackendWfRecorder, BackendWlScreenrec, BackendPortalGst:
		return true
	}
	return false
}

// Availability answers whether a backend's binary or service is present.
type Availability func(BackendKind) bool

// DefaultAvailability probes the running system: binaries on PATH, the
// PipeWire protocol in the local ffmpeg build, and the portal service on
// the session bus.
func DefaultAvailability() Availability {
	return func(k BackendKind) bool {
		switch k {
		case BackendFfmpegX11:
			return commandAvailable("ffmpeg")
		case BackendFfmpegPipewire:
			return commandAvailable("ffmpeg") && ffmpegSupportsPipewire()
		case BackendWfRecorder:
			return commandAvailable("wf-recorder")
		case BackendWlScreenrec:
			return commandAvailable("wl-screenrec")
		case BackendPortalGst:
			return portal.Available()
		}
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ffmpegSupportsPipewire checks whether the system ffmpeg recognizes the
// pipewire protocol or input format. Distro builds frequently lack it.
func ffmpegSupportsPipewire() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, probe := range []string{"-protocols", "-formats"} {
		out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", probe).CombinedOutput()
		if err != nil && len(out) == 0 {
			continue
		}
		if strings.Contains(string(out), "pipewire") {
			return true
		}
	}
	return false
}

// command builds the argv (binary first) for a subprocess backend writing
// to target. Pipeline backends have no command line.
func (k BackendKind) command(req Request, target string) ([]string, error) {
	switch k {
	case BackendFfmpegX11:
		return ffmpegX11Args(req, target), nil
	case BackendFfmpegPipewire:
		return ffmpegPipewireArgs(req, target), nil
	case BackendWfRecorder:
		return wfRecorderArgs(req, target), nil
	case BackendWlScreenrec:
		return wlScreenrecArgs(req, target), nil
	default:
		return nil, fmt.Errorf("backend %s does not run as a subprocess", k)
	}
}

func ffmpegX11Args(req Request, target string) []string {
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = ":0.0"
	}

	var size, offset string
	if req.Mode == ModeRegion && req.Region != nil {
		size = fmt.Sprintf("%dx%d", req.Region.Width, req.Region.Height)
		offset = fmt.Sprintf("+%d,%d", req.Region.X, req.Region.Y)
	} else {
		w, h := screenGeometry()
		size = fmt.Sprintf("%dx%d", w, h)
		offset = "+0,0"
	}

	args := []string{
		"ffmpeg", "-y",
		"-video_size", size,
		"-framerate", strconv.Itoa(req.frameRate()),
		"-f", "x11grab",
		"-i", display + offset,
	}
	args = append(args, encoderArgs(req)...)
	args = append(args, target)
	return args
}

func ffmpegPipewireArgs(req Request, target string) []string {
	args := []string{
		"ffmpeg", "-y",
		"-f", "pipewire",
		"-framerate", strconv.Itoa(req.frameRate()),
		"-i", "-",
	}
	args = append(args, encoderArgs(req)...)
	args = append(args, target)
	return args
}

// encoderArgs renders the user's encoder settings for the direct ffmpeg
// backends. Screen grabs carry no audio, so only the video side applies.
func encoderArgs(req Request) []string {
	enc := req.Encoder
	codec := enc.VideoCodec
	if codec == "" {
		codec = "libx264"
	}
	preset := enc.Preset
	if preset == "" {
		preset = "veryfast"
	}
	crf := enc.CRF
	if crf <= 0 {
		crf = 23
	}

	args := []string{"-c:v", codec, "-preset", preset, "-crf", strconv.Itoa(crf)}
	if enc.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(enc.Threads))
	}
	return args
}

func wfRecorderArgs(req Request, target string) []string {
	args := []string{"wf-recorder", "-f", target}
	if req.Mode == ModeRegion && req.Region != nil {
		args = append(args, "-g", fmt.Sprintf("%dx%d+%d+%d",
			req.Region.Width, req.Region.Height, req.Region.X, req.Region.Y))
	}
	return args
}

func wlScreenrecArgs(req Request, target string) []string {
	args := []string{"wl-screenrec", "-f", target}
	if req.Mode == ModeRegion && req.Region != nil {
		// wl-screenrec geometry is "X,Y WxH"
		args = append(args, "-g", fmt.Sprintf("%d,%d %dx%d",
			req.Region.X, req.Region.Y, req.Region.Width, req.Region.Height))
	}
	if req.WaylandOutput != "" {
		args = append(args, "-o", req.WaylandOutput)
	}
	return args
}
