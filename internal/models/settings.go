// Package models defines the launcher's persisted data: settings and the
// running-instance record.
package models

// Default values for a fresh settings file.
const (
	DefaultGraphQLPort   = 23061
	DefaultServerHost    = "localhost"
	DefaultSnapshotURL   = "https://snapshots.nine-chronicles.com/main/partition/latest.zip"
	DefaultNodePath      = "publish/NineChronicles.Standalone.Executable"
	DefaultMacGamePath   = "MacOS/Nine Chronicles.app/Contents/MacOS/Nine Chronicles"
	DefaultWinGamePath   = "Windows/Nine Chronicles.exe"
	DefaultLinuxGamePath = "Linux/NineChronicles"
	DefaultPostHogHost   = "https://app.posthog.com"
)

// SnapshotConfig controls where snapshots come from and how fast they download.
type SnapshotConfig struct {
	DownloadURL   string `yaml:"download_url" mapstructure:"download_url" validate:"omitempty,url"`
	RateLimitKBps int    `yaml:"rate_limit_kbps" mapstructure:"rate_limit_kbps" validate:"gte=0"`
}

// NodeConfig holds settings for the blockchain node child process.
type NodeConfig struct {
	Path        string `yaml:"path" mapstructure:"path" validate:"required"` // relative paths resolve against the app dir
	GraphQLPort int    `yaml:"graphql_port" mapstructure:"graphql_port" validate:"gte=1,lte=65535"`
	PTY         bool   `yaml:"pty" mapstructure:"pty"`
	AutoStart   bool   `yaml:"auto_start" mapstructure:"auto_start"`
}

// GameConfig holds per-platform game client paths.
type GameConfig struct {
	MacPath     string `yaml:"mac_path" mapstructure:"mac_path"`
	WindowsPath string `yaml:"windows_path" mapstructure:"windows_path"`
	LinuxPath   string `yaml:"linux_path" mapstructure:"linux_path"`
}

// StoreConfig locates the local blockchain store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// ServerConfig controls the local command/event endpoint.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	Port int    `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"` // 0 = dynamic
}

// TelemetryConfig holds analytics settings.
type TelemetryConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key" validate:"required_if=Enabled true"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
	InstallID string `yaml:"install_id" mapstructure:"install_id"`
}

// Settings represents the launcher settings.
// This corresponds to settings.yaml in the global directory.
type Settings struct {
	Version   int             `yaml:"version" mapstructure:"version"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" mapstructure:"snapshot"`
	Node      NodeConfig      `yaml:"node" mapstructure:"node"`
	Game      GameConfig      `yaml:"game" mapstructure:"game"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// NewSettings creates settings with default values.
// Store.Path is left empty; the config package fills it from the data dir.
func NewSettings() *Settings {
	return &Settings{
		Version: 1,
		Snapshot: SnapshotConfig{
			DownloadURL: DefaultSnapshotURL,
		},
		Node: NodeConfig{
			Path:        DefaultNodePath,
			GraphQLPort: DefaultGraphQLPort,
			PTY:         true,
			AutoStart:   true,
		},
		Game: GameConfig{
			MacPath:     DefaultMacGamePath,
			WindowsPath: DefaultWinGamePath,
			LinuxPath:   DefaultLinuxGamePath,
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
		},
		Telemetry: TelemetryConfig{
			Endpoint: DefaultPostHogHost,
		},
	}
}

// GamePath returns the configured game path for the given GOOS.
func (s *Settings) GamePath(goos string) string {
	switch goos {
	case "darwin":
		return s.Game.MacPath
	case "windows":
		return s.Game.WindowsPath
	default:
		return s.Game.LinuxPath
	}
}
