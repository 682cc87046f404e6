package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/logger"
	"github.com/novarec/novarec/internal/record"
)

var (
	recordBackend  string
	recordRegion   string
	recordDuration time.Duration
	recordOutput   string
	recordFPS      int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Start a screen recording",
	Long: `Record the screen until interrupted (Ctrl+C) or until --duration
elapses. The backend is chosen automatically unless --backend pins one;
if the chosen backend fails to start, the next candidate is tried.`,
	Example: `  # Record fullscreen until Ctrl+C
  novarec record

  # Record for 30 seconds
  novarec record --duration 30s

  # Record a region
  novarec record --region 1280x720+100+200

  # Force a specific backend
  novarec record --backend wf-recorder`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVarP(&recordBackend, "backend", "b", "auto", "capture backend (auto, portal-gst, wf-recorder, wl-screenrec, ffmpeg-pipewire, ffmpeg-x11)")
	recordCmd.Flags().StringVarP(&recordRegion, "region", "g", "", "capture region as WxH+X+Y (default fullscreen)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop automatically after this long")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file path (default timestamped in recordings dir)")
	recordCmd.Flags().IntVar(&recordFPS, "fps", 0, "capture frame rate override")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("cli")

	preferred, err := record.ParseBackend(recordBackend)
	if err != nil {
		return err
	}

	req := record.RequestFromSettings(cfg)
	req.Preferred = preferred
	req.OutputPath = recordOutput
	if recordFPS > 0 {
		req.FrameRate = recordFPS
	}
	if recordRegion != "" {
		region, err := parseRegion(recordRegion)
		if err != nil {
			return err
		}
		req.Mode = record.ModeRegion
		req.Region = region
	}

	recorder := record.NewRecorder()
	sess, err := recorder.Start(context.Background(), req, record.Callbacks{
		OnStop: func(path string) {
			if path == "" {
				log.Info().Msg("Recording stopped before capture began")
				return
			}
			fmt.Printf("Recording saved: %s\n", path)
		},
		OnError: func(msg string) {
			fmt.Fprintf(os.Stderr, "Recording failed: %s\n", msg)
		},
	})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var timeout <-chan time.Time
	if recordDuration > 0 {
		timeout = time.After(recordDuration)
		log.Info().Dur("duration", recordDuration).Msg("Recording, will stop automatically")
	} else {
		log.Info().Msg("Recording, press Ctrl+C to stop")
	}

	select {
	case <-sigChan:
		log.Info().Msg("Interrupt received, stopping")
	case <-timeout:
		log.Info().Msg("Duration elapsed, stopping")
	case <-sess.Done():
	}

	sess.Stop()
	<-sess.Done()

	if _, err := sess.Result(); err != nil {
		return err
	}
	return nil
}

// parseRegion parses WxH+X+Y, e.g. "1280x720+100+200".
func parseRegion(s string) (*record.Region, error) {
	var r record.Region
	if _, err := fmt.Sscanf(s, "%dx%d+%d+%d", &r.Width, &r.Height, &r.X, &r.Y); err != nil {
		return nil, fmt.Errorf("invalid region %q, expected WxH+X+Y: %w", s, err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("region %q must have positive dimensions", s)
	}
	return &r, nil
}
