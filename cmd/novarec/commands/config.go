package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/novarec/novarec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage novarec configuration",
	Long:  `View and manage novarec configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current novarec configuration.`,
	Example: `  # Show configuration as YAML (default)
  novarec config show

  # Show configuration as JSON
  novarec config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Set the preferred backend
  novarec config set preferred_backend wf-recorder

  # Set the encoder CRF
  novarec config set encoder.crf 20`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Validate against a copy first so a bad value never gets persisted.
	probe := configMgr.Get()
	if err := applySetting(&probe, key, value); err != nil {
		return err
	}
	if err := configMgr.Update(func(s *config.Settings) {
		applySetting(s, key, value)
	}); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func applySetting(s *config.Settings, key, value string) error {
	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		*dst = n
		return nil
	}

	switch key {
	case "recordings_dir":
		s.RecordingsDir = value
	case "logs_dir":
		s.LogsDir = value
	case "preferred_backend":
		s.PreferredBackend = value
	case "wayland_output":
		s.WaylandOutput = value
	case "log_level":
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		s.LogLevel = value
	case "server_port":
		return setInt(&s.ServerPort)
	case "encoder.video_codec":
		s.Encoder.VideoCodec = value
	case "encoder.container":
		s.Encoder.Container = value
	case "encoder.preset":
		s.Encoder.Preset = value
	case "encoder.audio_codec":
		s.Encoder.AudioCodec = value
	case "encoder.hwaccel":
		s.Encoder.HWAccel = value
	case "encoder.crf":
		return setInt(&s.Encoder.CRF)
	case "encoder.bitrate_kbps":
		return setInt(&s.Encoder.BitrateKbps)
	case "encoder.fps":
		return setInt(&s.Encoder.FPS)
	case "encoder.audio_bitrate_kbps":
		return setInt(&s.Encoder.AudioBitrateKbps)
	case "encoder.threads":
		return setInt(&s.Encoder.Threads)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
