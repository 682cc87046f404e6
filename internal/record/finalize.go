package record

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/logger"
)

const (
	// settlePoll is how often the temp capture's size is sampled while
	// waiting for the stopped backend to finish flushing.
	settlePoll = 200 * time.Millisecond
	// settleStablePolls is how many consecutive unchanged samples count as
	// settled.
	settleStablePolls = 3
	// settleCap bounds the whole settle wait; a capture still growing after
	// this long is taken as-is.
	settleCap = 10 * time.Second
)

// Finalizer turns a raw temp capture into the delivered artifact: wait for
// the file to settle, verify what the backend actually wrote, transcode to
// the requested container, and clean up so the temp file and the final
// artifact never both survive.
type Finalizer struct {
	// runEncoder executes a transcode command; a seam for tests.
	runEncoder func(ctx context.Context, argv []string) error
	retryDelay time.Duration
}

// NewFinalizer returns a Finalizer that shells out to ffmpeg.
func NewFinalizer() *Finalizer {
	return &Finalizer{
		runEncoder: runFfmpeg,
		retryDelay: time.Second,
	}
}

// Finalize delivers the recording at temp to outPath, transcoding with the
// given encoder settings. It returns the path actually delivered, which can
// differ from outPath when the capture turns out not to be what its
// extension claims or when transcoding degrades to raw delivery. A returned
// *TranscodeError still carries a delivered artifact and is non-fatal.
func (f *Finalizer) Finalize(ctx context.Context, temp, outPath string, enc config.Encoder) (string, error) {
	log := logger.WithComponent("finalize")

	if err := waitForSettle(ctx, temp); err != nil {
		return "", err
	}
	info, err := os.Stat(temp)
	if err != nil {
		return "", fmt.Errorf("capture file vanished before finalization: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(temp)
		return "", fmt.Errorf("capture produced an empty file")
	}

	kind, err := sniffContainer(temp)
	if err != nil {
		return "", err
	}

	// A capture that is not the Matroska we expect cannot be safely
	// transcoded with copy-paths; deliver it under its true extension.
	if kind != containerMatroska {
		corrected := withExt(outPath, kind.ext())
		log.Warn().
			Str("detected", kind.ext()).
			Str("delivered", corrected).
			Msg("Capture container differs from expected, relocating without transcode")
		if err := moveFile(temp, corrected); err != nil {
			return "", err
		}
		return corrected, nil
	}

	argv := transcodeArgs(temp, outPath, enc)

	err = f.runEncoder(ctx, argv)
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("Transcode failed, retrying once")
		os.Remove(outPath)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.retryDelay):
		}
		err = f.runEncoder(ctx, argv)
	}
	if err != nil {
		// Degrade: the raw capture is still a valid recording. Deliver it
		// under its real container so nothing is lost.
		os.Remove(outPath)
		raw := withExt(outPath, "mkv")
		if mvErr := moveFile(temp, raw); mvErr != nil {
			return "", fmt.Errorf("transcode failed (%v) and raw delivery failed: %w", err, mvErr)
		}
		return raw, &TranscodeError{Err: err, Delivered: raw}
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("encoder reported success but produced no output: %w", err)
	}
	os.Remove(temp)
	log.Info().Str("path", outPath).Msg("Recording finalized")
	return outPath, nil
}

// waitForSettle blocks until the file size holds steady for several polls,
// the cap elapses, or the context is cancelled.
func waitForSettle(ctx context.Context, path string) error {
	deadline := time.Now().Add(settleCap)
	var last int64 = -1
	stable := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("waiting for capture file: %w", err)
		}
		if info.Size() == last {
			stable++
			if stable >= settleStablePolls {
				return nil
			}
		} else {
			stable = 0
			last = info.Size()
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

type containerKind int

const (
	containerUnknown containerKind = iota
	containerMatroska
	containerMP4
	containerAVI
)

func (k containerKind) ext() string {
	switch k {
	case containerMatroska:
		return "mkv"
	case containerMP4:
		return "mp4"
	case containerAVI:
		return "avi"
	}
	return "bin"
}

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// sniffContainer identifies the container from leading magic bytes rather
// than trusting the filename.
func sniffContainer(path string) (containerKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return containerUnknown, fmt.Errorf("failed to open capture for inspection: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && n < 8 {
		return containerUnknown, fmt.Errorf("capture too short to identify: %w", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, ebmlMagic):
		return containerMatroska, nil
	case len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")):
		return containerMP4, nil
	case bytes.HasPrefix(header, []byte("RIFF")):
		return containerAVI, nil
	}
	return containerUnknown, nil
}

// transcodeArgs builds the ffmpeg command that re-encodes the raw capture
// with the user's settings.
func transcodeArgs(in, out string, enc config.Encoder) []string {
	args := []string{"ffmpeg", "-y"}
	if enc.HWAccel != "" && enc.HWAccel != "none" {
		args = append(args, "-hwaccel", enc.HWAccel)
	}
	args = append(args, "-i", in)

	codec := enc.VideoCodec
	if codec == "" {
		codec = "libx264"
	}
	args = append(args, "-c:v", codec)
	if enc.Preset != "" {
		args = append(args, "-preset", enc.Preset)
	}
	if enc.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(enc.CRF))
	}
	if enc.BitrateKbps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", enc.BitrateKbps))
	}
	if enc.AudioCodec != "" && enc.AudioCodec != "none" {
		args = append(args, "-c:a", enc.AudioCodec)
		if enc.AudioBitrateKbps > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%dk", enc.AudioBitrateKbps))
		}
	}
	if enc.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(enc.Threads))
	}
	return append(args, out)
}

func runFfmpeg(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		excerpt := string(out)
		if len(excerpt) > 400 {
			excerpt = excerpt[len(excerpt)-400:]
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(excerpt))
	}
	return nil
}

// withExt swaps the path's extension, keeping directory and base name.
func withExt(path, ext string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), base+"."+ext)
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source for move: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination for move: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy recording: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to flush recording copy: %w", err)
	}
	return os.Remove(src)
}
