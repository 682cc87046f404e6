package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "novarec",
		Short: "novarec - Screen recorder for Wayland and X11 desktops",
		Long: `novarec records your screen on both Wayland and X11 desktops by
negotiating the best available capture backend at runtime.

Backends, in preference order on Wayland:
  • portal-gst        xdg-desktop-portal + GStreamer (PipeWire)
  • wf-recorder       wlroots compositors
  • wl-screenrec      wlroots compositors, hardware encode
  • ffmpeg-pipewire   ffmpeg builds with PipeWire input
  • ffmpeg-x11        x11grab, also the X11 default

If a backend fails to start, the next one is tried automatically.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/novarec/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
