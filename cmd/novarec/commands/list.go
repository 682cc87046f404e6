package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/library"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List finished recordings",
	Long:  `List the recordings in the recordings directory, newest first.`,
	Example: `  # List recordings in table format (default)
  novarec list

  # List recordings in JSON format
  novarec list --format json`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
}

func runList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lib := library.New(configMgr.Get().RecordingsDir)
	recs, err := lib.List()
	if err != nil {
		return err
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(recs)
	case "table":
		if len(recs) == 0 {
			fmt.Println("No recordings found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, humanSize(r.Size), r.ModTime.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
