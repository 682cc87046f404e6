package record

// Resolve orders the capture backends to try for the given environment.
// The explicit preference, when set and available, goes first; the rest
// follow the environment's natural order. The x11grab backend is always
// appended as a last resort even when its probe fails, since X11 tooling
// is frequently present without being detectable up front. The result is
// deterministic and never empty.
func Resolve(env Env, preferred BackendKind, available Availability) []BackendKind {
	var order []BackendKind
	switch env.DisplayServer() {
	case DisplayWayland:
		order = []BackendKind{
			BackendPortalGst,
			BackendWfRecorder,
			BackendWlScreenrec,
			BackendFfmpegPipewire,
			BackendFfmpegX11,
		}
	default:
		order = []BackendKind{BackendFfmpegX11}
	}

	var out []BackendKind
	seen := make(map[BackendKind]bool)
	push := func(k BackendKind) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	if preferred != "" && preferred != BackendAuto && available(preferred) {
		push(preferred)
	}
	for _, k := range order {
		if k == BackendFfmpegX11 || available(k) {
			push(k)
		}
	}
	push(BackendFfmpegX11)
	return out
}
