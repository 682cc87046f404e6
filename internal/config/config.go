package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/novarec/novarec/internal/logger"
)

// Encoder holds the default encoder parameters passed to the external
// encoder during finalization. All values are ffmpeg-friendly.
type Encoder struct {
	VideoCodec       string `json:"video_codec" yaml:"video_codec"`
	Container        string `json:"container" yaml:"container"`
	Preset           string `json:"preset" yaml:"preset"`
	CRF              int    `json:"crf" yaml:"crf"`
	BitrateKbps      int    `json:"bitrate_kbps" yaml:"bitrate_kbps"`
	FPS              int    `json:"fps" yaml:"fps"`
	AudioCodec       string `json:"audio_codec" yaml:"audio_codec"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps" yaml:"audio_bitrate_kbps"`
	Threads          int    `json:"threads" yaml:"threads"`
	HWAccel          string `json:"hwaccel" yaml:"hwaccel"`
}

// Settings represents the persisted application configuration
type Settings struct {
	RecordingsDir    string  `json:"recordings_dir" yaml:"recordings_dir"`
	LogsDir          string  `json:"logs_dir" yaml:"logs_dir"`
	PreferredBackend string  `json:"preferred_backend" yaml:"preferred_backend"`
	WaylandOutput    string  `json:"wayland_output,omitempty" yaml:"wayland_output,omitempty"`
	Encoder          Encoder `json:"encoder" yaml:"encoder"`
	ServerPort       int     `json:"server_port" yaml:"server_port"`
	LogLevel         string  `json:"log_level" yaml:"log_level"`
}

// Manager handles configuration loading and persistence
type Manager struct {
	configPath string
	settings   *Settings
	mu         sync.RWMutex
}

// DefaultSettings returns the configuration used when no file exists yet.
// The recordings directory honors NOVAREC_RECORDINGS_DIR so AppImage-style
// read-only installs can redirect output.
func DefaultSettings() *Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	recordings := os.Getenv("NOVAREC_RECORDINGS_DIR")
	if recordings == "" {
		recordings = filepath.Join(home, "Videos", "novarec")
	}
	return &Settings{
		RecordingsDir:    recordings,
		LogsDir:          filepath.Join(recordings, "logs"),
		PreferredBackend: "auto",
		Encoder: Encoder{
			VideoCodec:       "libx264",
			Container:        "mp4",
			Preset:           "medium",
			CRF:              23,
			BitrateKbps:      4000,
			FPS:              60,
			AudioCodec:       "aac",
			AudioBitrateKbps: 128,
			Threads:          0,
			HWAccel:          "none",
		},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// NewManager creates a new configuration manager. When configFile is empty
// the default path $HOME/.config/novarec/config.yaml is used.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "novarec")
	actualConfigPath := filepath.Join(configDir, "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: actualConfigPath}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	log := logger.WithComponent("config")

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.settings = DefaultSettings()
		log.Info().Str("path", m.configPath).Msg("No config file found, using defaults")
		return m.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}
	m.settings = settings
	log.Debug().Str("path", m.configPath).Msg("Configuration loaded")
	return nil
}

// Get returns a copy of the current settings
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.settings
}

// GetConfigPath returns the path of the backing config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Update applies fn to the settings under the lock and persists the result
func (m *Manager) Update(fn func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.settings)
	return m.saveLocked()
}

// SetLogLevel updates the log level without persisting it
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.LogLevel = level
}

// SetPort updates the API server port without persisting it
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.ServerPort = port
}

func (m *Manager) saveLocked() error {
	data, err := yaml.Marshal(m.settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
