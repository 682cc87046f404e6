package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/novarec/novarec/internal/logger"
)

// openRunLog creates the per-run log file that captures a backend process's
// stdout and stderr. Logging must never block a recording, so any failure
// degrades to the null device with a warning.
func openRunLog(logsDir, name string, now time.Time) *os.File {
	log := logger.WithComponent("record")

	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", name, now.Format("20060102_150405")))
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", logsDir).Msg("Cannot create logs directory, discarding backend output")
		return devNull()
	}
	f, err := os.Create(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cannot create run log, discarding backend output")
		return devNull()
	}
	return f
}

func devNull() *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		// /dev/null failing to open means the system is in bad shape;
		// a nil file makes exec.Cmd fall back to its own null handling.
		return nil
	}
	return f
}

// tailExcerpt returns up to n trailing non-empty lines from the file,
// joined for inclusion in failure messages.
func tailExcerpt(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}
