package record

import (
	"reflect"
	"testing"
)

func allAvailable(BackendKind) bool  { return true }
func noneAvailable(BackendKind) bool { return false }

func TestResolveWaylandOrder(t *testing.T) {
	env := Env{SessionType: "wayland"}

	got := Resolve(env, BackendAuto, allAvailable)
	want := []BackendKind{
		BackendPortalGst,
		BackendWfRecorder,
		BackendWlScreenrec,
		BackendFfmpegPipewire,
		BackendFfmpegX11,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}

func TestResolveX11Order(t *testing.T) {
	env := Env{SessionType: "x11"}

	got := Resolve(env, BackendAuto, allAvailable)
	want := []BackendKind{BackendFfmpegX11}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
}

func TestResolvePreferredFirst(t *testing.T) {
	env := Env{SessionType: "wayland"}

	got := Resolve(env, BackendWlScreenrec, allAvailable)
	if got[0] != BackendWlScreenrec {
		t.Errorf("first candidate = %v, want preferred %v", got[0], BackendWlScreenrec)
	}
	// The preferred backend must not appear twice.
	count := 0
	for _, k := range got {
		if k == BackendWlScreenrec {
			count++
		}
	}
	if count != 1 {
		t.Errorf("preferred backend appears %d times, want 1", count)
	}
}

func TestResolveUnavailablePreferredIgnored(t *testing.T) {
	env := Env{SessionType: "wayland"}
	onlyPortal := func(k BackendKind) bool { return k == BackendPortalGst }

	got := Resolve(env, BackendWfRecorder, onlyPortal)
	if got[0] != BackendPortalGst {
		t.Errorf("first candidate = %v, want %v", got[0], BackendPortalGst)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	for _, env := range []Env{
		{},
		{SessionType: "wayland"},
		{SessionType: "x11"},
		{WaylandDisplay: "wayland-0"},
	} {
		got := Resolve(env, BackendAuto, noneAvailable)
		if len(got) == 0 {
			t.Fatalf("Resolve(%+v) returned no candidates", env)
		}
		if got[len(got)-1] != BackendFfmpegX11 {
			t.Errorf("Resolve(%+v) last candidate = %v, want %v as last resort", env, got[len(got)-1], BackendFfmpegX11)
		}
	}
}
