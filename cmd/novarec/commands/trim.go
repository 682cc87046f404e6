package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/library"
)

var (
	trimStart time.Duration
	trimEnd   time.Duration
)

var trimCmd = &cobra.Command{
	Use:   "trim RECORDING",
	Short: "Cut a clip out of a recording",
	Long: `Extract the span between --start and --end from a recording into a
new clip next to it. The streams are copied, not re-encoded, so trimming
is fast and lossless.`,
	Example: `  # Keep seconds 10 through 42
  novarec trim rec_20260815_101530.mp4 --start 10s --end 42s`,
	Args: cobra.ExactArgs(1),
	RunE: runTrim,
}

func init() {
	rootCmd.AddCommand(trimCmd)

	trimCmd.Flags().DurationVar(&trimStart, "start", 0, "clip start offset")
	trimCmd.Flags().DurationVar(&trimEnd, "end", 0, "clip end offset")
	trimCmd.MarkFlagRequired("end")
}

func runTrim(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lib := library.New(configMgr.Get().RecordingsDir)
	clip, err := lib.Trim(context.Background(), args[0], trimStart, trimEnd)
	if err != nil {
		return err
	}
	fmt.Printf("Clip saved: %s\n", clip)
	return nil
}
