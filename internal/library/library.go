// Package library manages the finished-recordings directory: listing what
// exists, trimming clips out of recordings, and watching for changes.
package library

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/novarec/novarec/internal/logger"
)

// Recording describes one finished artifact on disk.
type Recording struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// videoExts are the container extensions the library recognizes.
var videoExts = map[string]bool{
	".mp4": true,
	".mkv": true,
	".avi": true,
	".mov": true,
	".webm": true,
}

// Library exposes the recordings directory.
type Library struct {
	dir string
}

// New returns a library rooted at dir.
func New(dir string) *Library {
	return &Library{dir: dir}
}

// Dir reports the directory the library serves.
func (l *Library) Dir() string { return l.dir }

// List returns finished recordings, newest first. In-progress temp captures
// (dot-prefixed) are excluded.
func (l *Library) List() ([]Recording, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recs []Recording
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		recs = append(recs, Recording{
			Name:    e.Name(),
			Path:    filepath.Join(l.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ModTime.After(recs[j].ModTime) })
	return recs, nil
}

// Trim cuts [start, end] out of a recording into a new clip next to it,
// using a stream copy so no re-encode happens. Returns the clip path.
func (l *Library) Trim(ctx context.Context, name string, start, end time.Duration) (string, error) {
	if end <= start {
		return "", fmt.Errorf("trim end %v must be after start %v", end, start)
	}
	src, err := l.resolve(name)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(src)
	base := strings.TrimSuffix(filepath.Base(src), ext)
	out := filepath.Join(l.dir, fmt.Sprintf("%s_clip_%s%s", base, time.Now().Format("150405"), ext))

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", src,
		"-ss", formatTimestamp(start),
		"-to", formatTimestamp(end),
		"-c", "copy",
		out,
	)
	if outBytes, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		excerpt := string(outBytes)
		if len(excerpt) > 400 {
			excerpt = excerpt[len(excerpt)-400:]
		}
		return "", fmt.Errorf("trim failed: %w: %s", err, strings.TrimSpace(excerpt))
	}
	logger.WithComponent("library").Info().
		Str("source", src).
		Str("clip", out).
		Msg("Created trimmed clip")
	return out, nil
}

// Remove deletes a recording by name.
func (l *Library) Remove(name string) error {
	path, err := l.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// resolve maps a bare recording name to its path, refusing traversal out of
// the library directory.
func (l *Library) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("recording %q not found: %w", name, err)
	}
	return path, nil
}

// formatTimestamp renders a duration as HH:MM:SS.mmm for ffmpeg.
func formatTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
