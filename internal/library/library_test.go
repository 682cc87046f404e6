package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, mod time.Time) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now()
	write("rec_old.mp4", now.Add(-time.Hour))
	write("rec_new.mkv", now)
	write(".rec_tmp_123.mkv", now)  // in-progress temp capture
	write("notes.txt", now)         // not a video
	if err := os.Mkdir(filepath.Join(dir, "clips.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}

	recs, err := New(dir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List returned %d entries, want 2: %+v", len(recs), recs)
	}
	if recs[0].Name != "rec_new.mkv" || recs[1].Name != "rec_old.mp4" {
		t.Errorf("order = [%s, %s], want newest first", recs[0].Name, recs[1].Name)
	}
}

func TestListMissingDirectory(t *testing.T) {
	recs, err := New(filepath.Join(t.TempDir(), "nope")).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("List = %v, want empty", recs)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	lib := New(t.TempDir())
	for _, name := range []string{"", "../etc/passwd", "a/b.mp4"} {
		if _, err := lib.resolve(name); err == nil {
			t.Errorf("resolve(%q) succeeded, want error", name)
		}
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := New(dir)
	if err := lib.Remove("rec.mp4"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("recording still present after Remove")
	}
	if err := lib.Remove("rec.mp4"); err == nil {
		t.Errorf("Remove of a missing recording succeeded")
	}
}

func TestTrimRejectsBadSpan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rec.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := New(dir)
	if _, err := lib.Trim(t.Context(), "rec.mp4", 10*time.Second, 5*time.Second); err == nil {
		t.Errorf("Trim with end before start succeeded")
	}
}

func TestWatchReportsAddsAndRemoves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	lib := New(dir)

	// Watch must work before the first recording creates the directory.
	w, err := lib.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	next := func() Change {
		t.Helper()
		select {
		case change, ok := <-w.Changes():
			if !ok {
				t.Fatal("Changes closed unexpectedly")
			}
			return change
		case <-time.After(2 * time.Second):
			t.Fatal("no library change reported")
		}
		return Change{}
	}

	path := filepath.Join(dir, "rec_new.mkv")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if change := next(); change.Name != "rec_new.mkv" || change.Removed {
		t.Errorf("change = %+v, want added rec_new.mkv", change)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if change := next(); change.Name != "rec_new.mkv" || !change.Removed {
		t.Errorf("change = %+v, want removed rec_new.mkv", change)
	}
}

func TestWatchIgnoresTempAndNonVideo(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir).Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	for _, name := range []string{".rec_tmp_123.mkv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A real recording lands after the noise; it must be the first and only
	// change reported.
	if err := os.WriteFile(filepath.Join(dir, "rec.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case change := <-w.Changes():
		if change.Name != "rec.mp4" || change.Removed {
			t.Errorf("change = %+v, want added rec.mp4", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no library change reported")
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{90 * time.Second, "00:01:30.000"},
		{time.Hour + 2*time.Minute + 3*time.Second + 450*time.Millisecond, "01:02:03.450"},
	}
	for _, tc := range cases {
		if got := formatTimestamp(tc.d); got != tc.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
