package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/novarec/novarec/internal/config"
)

func writeTemp(t *testing.T, dir string, header []byte) string {
	t.Helper()
	path := filepath.Join(dir, ".rec_tmp_20260815_101530.mkv")
	data := append(append([]byte{}, header...), make([]byte, 64)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestFinalizer(runEncoder func(ctx context.Context, argv []string) error) *Finalizer {
	return &Finalizer{runEncoder: runEncoder, retryDelay: time.Millisecond}
}

func TestFinalizeTranscodeSuccess(t *testing.T) {
	dir := t.TempDir()
	temp := writeTemp(t, dir, ebmlMagic)
	out := filepath.Join(dir, "rec_20260815_101530.mp4")

	calls := 0
	fin := newTestFinalizer(func(ctx context.Context, argv []string) error {
		calls++
		return os.WriteFile(argv[len(argv)-1], []byte("encoded"), 0o644)
	})

	delivered, err := fin.Finalize(context.Background(), temp, out, config.Encoder{VideoCodec: "libx264", CRF: 23})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if delivered != out {
		t.Errorf("delivered = %s, want %s", delivered, out)
	}
	if calls != 1 {
		t.Errorf("encoder ran %d times, want 1", calls)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Errorf("temp capture still present after successful finalize")
	}
}

func TestFinalizeRetriesOnce(t *testing.T) {
	dir := t.TempDir()
	temp := writeTemp(t, dir, ebmlMagic)
	out := filepath.Join(dir, "rec.mp4")

	calls := 0
	fin := newTestFinalizer(func(ctx context.Context, argv []string) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("encoder crashed")
		}
		return os.WriteFile(argv[len(argv)-1], []byte("encoded"), 0o644)
	})

	delivered, err := fin.Finalize(context.Background(), temp, out, config.Encoder{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if delivered != out || calls != 2 {
		t.Errorf("delivered = %s after %d calls, want %s after 2", delivered, calls, out)
	}
}

func TestFinalizeDegradesToRawDelivery(t *testing.T) {
	dir := t.TempDir()
	temp := writeTemp(t, dir, ebmlMagic)
	out := filepath.Join(dir, "rec.mp4")

	fin := newTestFinalizer(func(ctx context.Context, argv []string) error {
		return fmt.Errorf("encoder always fails")
	})

	delivered, err := fin.Finalize(context.Background(), temp, out, config.Encoder{})
	var tErr *TranscodeError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want TranscodeError", err)
	}
	want := filepath.Join(dir, "rec.mkv")
	if delivered != want {
		t.Errorf("delivered = %s, want raw capture at %s", delivered, want)
	}
	if _, statErr := os.Stat(delivered); statErr != nil {
		t.Errorf("delivered artifact missing: %v", statErr)
	}
	if _, statErr := os.Stat(temp); !os.IsNotExist(statErr) {
		t.Errorf("temp capture still present after raw delivery")
	}
}

func TestFinalizeCorrectsMislabeledContainer(t *testing.T) {
	dir := t.TempDir()
	// The backend wrote MP4 into the .mkv temp file.
	temp := writeTemp(t, dir, []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p'})
	out := filepath.Join(dir, "rec.webm")

	fin := newTestFinalizer(func(ctx context.Context, argv []string) error {
		t.Fatal("encoder must not run for a mislabeled capture")
		return nil
	})

	delivered, err := fin.Finalize(context.Background(), temp, out, config.Encoder{})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := filepath.Join(dir, "rec.mp4")
	if delivered != want {
		t.Errorf("delivered = %s, want extension-corrected %s", delivered, want)
	}
	if _, statErr := os.Stat(temp); !os.IsNotExist(statErr) {
		t.Errorf("temp capture still present after relocation")
	}
}

func TestFinalizeEmptyCapture(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, ".rec_tmp.mkv")
	if err := os.WriteFile(temp, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	fin := newTestFinalizer(func(ctx context.Context, argv []string) error { return nil })
	if _, err := fin.Finalize(context.Background(), temp, filepath.Join(dir, "rec.mp4"), config.Encoder{}); err == nil {
		t.Fatal("expected an error for an empty capture")
	}
	if _, statErr := os.Stat(temp); !os.IsNotExist(statErr) {
		t.Errorf("empty temp capture was not cleaned up")
	}
}

func TestSniffContainer(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name   string
		header []byte
		want   containerKind
	}{
		{"matroska", ebmlMagic, containerMatroska},
		{"mp4", []byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, containerMP4},
		{"avi", []byte("RIFF1234AVI "), containerAVI},
		{"unknown", []byte("garbagegarbage"), containerUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name)
			if err := os.WriteFile(path, append(tc.header, make([]byte, 16)...), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := sniffContainer(path)
			if err != nil {
				t.Fatalf("sniffContainer: %v", err)
			}
			if got != tc.want {
				t.Errorf("sniffContainer = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTranscodeArgs(t *testing.T) {
	enc := config.Encoder{
		VideoCodec:       "libx265",
		Preset:           "slow",
		CRF:              20,
		BitrateKbps:      6000,
		AudioCodec:       "aac",
		AudioBitrateKbps: 128,
		Threads:          4,
		HWAccel:          "vaapi",
	}
	argv := transcodeArgs("/tmp/in.mkv", "/tmp/out.mp4", enc)

	assertContainsPair(t, argv, "-hwaccel", "vaapi")
	assertContainsPair(t, argv, "-i", "/tmp/in.mkv")
	assertContainsPair(t, argv, "-c:v", "libx265")
	assertContainsPair(t, argv, "-preset", "slow")
	assertContainsPair(t, argv, "-crf", "20")
	assertContainsPair(t, argv, "-b:v", "6000k")
	assertContainsPair(t, argv, "-c:a", "aac")
	assertContainsPair(t, argv, "-b:a", "128k")
	assertContainsPair(t, argv, "-threads", "4")
	if argv[len(argv)-1] != "/tmp/out.mp4" {
		t.Errorf("last arg = %s, want output path", argv[len(argv)-1])
	}
}

func TestWithExt(t *testing.T) {
	if got := withExt("/videos/rec.mp4", "mkv"); got != "/videos/rec.mkv" {
		t.Errorf("withExt = %s", got)
	}
	if got := withExt("/videos/rec", "mkv"); got != "/videos/rec.mkv" {
		t.Errorf("withExt without ext = %s", got)
	}
}
