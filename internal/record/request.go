package record

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/novarec/novarec/internal/config"
)

// Mode selects what gets captured.
type Mode string

const (
	ModeFullscreen Mode = "fullscreen"
	ModeRegion     Mode = "region"
)

// Region is a capture rectangle in screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request describes a single recording attempt. It is created once by the
// caller and never mutated; the session copies what it needs.
type Request struct {
	Mode      Mode
	Region    *Region
	FrameRate int
	// Preferred is the backend to try first, or BackendAuto to let the
	// resolver order candidates from the environment.
	Preferred BackendKind
	Encoder   config.Encoder
	// OutputPath is the requested artifact location. Empty means a
	// timestamped name under RecordingsDir.
	OutputPath    string
	RecordingsDir string
	LogsDir       string
	// WaylandOutput optionally names the compositor output for backends
	// that can target one (wl-screenrec -o).
	WaylandOutput string
}

// RequestFromSettings builds a request pre-filled from persisted settings.
func RequestFromSettings(s config.Settings) Request {
	return Request{
		Mode:          ModeFullscreen,
		FrameRate:     s.Encoder.FPS,
		Preferred:     BackendKind(s.PreferredBackend),
		Encoder:       s.Encoder,
		RecordingsDir: s.RecordingsDir,
		LogsDir:       s.LogsDir,
		WaylandOutput: s.WaylandOutput,
	}
}

func (r Request) frameRate() int {
	if r.FrameRate > 0 {
		return r.FrameRate
	}
	if r.Encoder.FPS > 0 {
		return r.Encoder.FPS
	}
	return 60
}

func (r Request) container() string {
	if r.Encoder.Container != "" {
		return r.Encoder.Container
	}
	return "mp4"
}

// outputPath resolves the final artifact path for this request.
func (r Request) outputPath(now time.Time) string {
	if r.OutputPath != "" {
		return r.OutputPath
	}
	name := fmt.Sprintf("rec_%s.%s", now.Format("20060102_150405"), r.container())
	return filepath.Join(r.RecordingsDir, name)
}

// tempPath resolves the intermediate Matroska capture path used by backends
// that record raw before the finalize transcode.
func (r Request) tempPath(now time.Time) string {
	name := fmt.Sprintf(".rec_tmp_%s.mkv", now.Format("20060102_150405"))
	return filepath.Join(r.RecordingsDir, name)
}

func (r Request) validate() error {
	if r.Mode != ModeFullscreen && r.Mode != ModeRegion {
		return fmt.Errorf("invalid capture mode %q", r.Mode)
	}
	if r.Mode == ModeRegion {
		if r.Region == nil {
			return fmt.Errorf("region mode requires a region rectangle")
		}
		if r.Region.Width <= 0 || r.Region.Height <= 0 {
			return fmt.Errorf("region must have positive dimensions, got %dx%d", r.Region.Width, r.Region.Height)
		}
	}
	if r.RecordingsDir == "" && r.OutputPath == "" {
		return fmt.Errorf("either a recordings directory or an explicit output path is required")
	}
	return nil
}
