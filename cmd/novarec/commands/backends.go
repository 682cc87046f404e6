package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novarec/novarec/internal/record"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show capture backend availability",
	Long: `Probe the system for each capture backend and print whether it is
available, along with the detected display server and the order backends
would be tried for an automatic recording.`,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	env := record.DetectEnv()
	available := record.DefaultAvailability()

	fmt.Printf("Display server: %s\n\n", env.DisplayServer())

	kinds := []record.BackendKind{
		record.BackendPortalGst,
		record.BackendWfRecorder,
		record.BackendWlScreenrec,
		record.BackendFfmpegPipewire,
		record.BackendFfmpegX11,
	}
	for _, k := range kinds {
		status := "unavailable"
		if available(k) {
			status = "available"
		}
		fmt.Printf("  %-16s %s\n", k, status)
	}

	fmt.Printf("\nAuto order: ")
	for i, k := range record.Resolve(env, record.BackendAuto, available) {
		if i > 0 {
			fmt.Print(" -> ")
		}
		fmt.Print(k)
	}
	fmt.Println()
	return nil
}
