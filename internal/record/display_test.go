package record

import "testing"

func TestDisplayServerClassification(t *testing.T) {
	cases := []struct {
		name string
		env  Env
		want DisplayServer
	}{
		{"session type wayland", Env{SessionType: "wayland"}, DisplayWayland},
		{"session type x11", Env{SessionType: "x11"}, DisplayX11},
		{"session type wins over sockets", Env{SessionType: "x11", WaylandDisplay: "wayland-0"}, DisplayX11},
		{"wayland socket beats DISPLAY", Env{WaylandDisplay: "wayland-0", X11Display: ":0"}, DisplayWayland},
		{"display only", Env{X11Display: ":0"}, DisplayX11},
		{"nothing set", Env{}, DisplayUnknown},
		{"unrecognized session type falls through", Env{SessionType: "tty", X11Display: ":0"}, DisplayX11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.env.DisplayServer(); got != tc.want {
				t.Errorf("DisplayServer() = %v, want %v", got, tc.want)
			}
		})
	}
}
