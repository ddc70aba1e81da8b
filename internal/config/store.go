package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nine-chronicles/launcher/internal/models"
)

// EnvPrefix prefixes environment overrides, e.g. NCLAUNCHER_SNAPSHOT_DOWNLOAD_URL.
const EnvPrefix = "NCLAUNCHER"

// Settings keys.
const (
	KeySnapshotDownloadURL = "snapshot.download_url"
	KeySnapshotRateLimit   = "snapshot.rate_limit_kbps"
	KeyNodePath            = "node.path"
	KeyNodeGraphQLPort     = "node.graphql_port"
	KeyNodePTY             = "node.pty"
	KeyNodeAutoStart       = "node.auto_start"
	KeyGameMacPath         = "game.mac_path"
	KeyGameWindowsPath     = "game.windows_path"
	KeyGameLinuxPath       = "game.linux_path"
	KeyStorePath           = "store.path"
	KeyServerHost          = "server.host"
	KeyServerPort          = "server.port"
	KeyTelemetryEnabled    = "telemetry.enabled"
	KeyTelemetryAPIKey     = "telemetry.api_key"
	KeyTelemetryEndpoint   = "telemetry.endpoint"
	KeyTelemetryInstallID  = "telemetry.install_id"
)

// Store is the launcher's durable key-value settings store, backed by
// settings.yaml. Writes go straight through to disk.
//
// Only values present in the file are kept in file; defaults and
// NCLAUNCHER_* environment values live in viper's lower and higher layers
// and are never written back.
type Store struct {
	mu       sync.RWMutex
	path     string
	viper    *viper.Viper
	file     map[string]any
	validate *validator.Validate
}

// OpenStore opens the settings store at path. A missing file is not an
// error; defaults apply until the first Set.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		validate: validator.New(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenGlobalStore opens the store at the global settings.yaml.
func OpenGlobalStore() (*Store, error) {
	path, err := GlobalSettingsFile()
	if err != nil {
		return nil, err
	}
	return OpenStore(path)
}

// newViper builds a viper instance holding defaults, env overrides and the
// given file contents.
func newViper(file map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, models.NewSettings())
	if err := v.MergeConfigMap(copyTree(file)); err != nil {
		return nil, err
	}
	return v, nil
}

func setDefaults(v *viper.Viper, d *models.Settings) {
	v.SetDefault("version", d.Version)
	v.SetDefault(KeySnapshotDownloadURL, d.Snapshot.DownloadURL)
	v.SetDefault(KeySnapshotRateLimit, d.Snapshot.RateLimitKBps)
	v.SetDefault(KeyNodePath, d.Node.Path)
	v.SetDefault(KeyNodeGraphQLPort, d.Node.GraphQLPort)
	v.SetDefault(KeyNodePTY, d.Node.PTY)
	v.SetDefault(KeyNodeAutoStart, d.Node.AutoStart)
	v.SetDefault(KeyGameMacPath, d.Game.MacPath)
	v.SetDefault(KeyGameWindowsPath, d.Game.WindowsPath)
	v.SetDefault(KeyGameLinuxPath, d.Game.LinuxPath)
	v.SetDefault(KeyStorePath, d.Store.Path)
	v.SetDefault(KeyServerHost, d.Server.Host)
	v.SetDefault(KeyServerPort, d.Server.Port)
	v.SetDefault(KeyTelemetryEnabled, d.Telemetry.Enabled)
	v.SetDefault(KeyTelemetryAPIKey, d.Telemetry.APIKey)
	v.SetDefault(KeyTelemetryEndpoint, d.Telemetry.Endpoint)
	v.SetDefault(KeyTelemetryInstallID, d.Telemetry.InstallID)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the backing file. Values written by Set are replaced
// by whatever the file now holds.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := map[string]any{}
	if FileExists(s.path) {
		if err := LoadYAML(s.path, &file); err != nil {
			return fmt.Errorf("failed to read settings %s: %w", s.path, err)
		}
		if file == nil {
			file = map[string]any{}
		}
	}

	v, err := newViper(file)
	if err != nil {
		return fmt.Errorf("failed to load settings %s: %w", s.path, err)
	}
	s.viper = v
	s.file = file
	return nil
}

// Get returns the raw value for key.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viper.Get(key)
}

// GetString returns the value for key as a string.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viper.GetString(key)
}

// Set stores value under key and writes the file. The change is rejected,
// leaving the store and the file untouched, if the resulting settings fail
// validation.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isKnownKey(key) {
		return fmt.Errorf("unknown settings key %q", key)
	}

	file := copyTree(s.file)
	setPath(file, strings.Split(strings.ToLower(key), "."), value)

	v, err := newViper(file)
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", key, err)
	}
	if _, err := s.decode(v); err != nil {
		return err
	}

	if err := SaveYAML(s.path, file); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", s.path, err)
	}
	s.viper = v
	s.file = file
	return nil
}

// Keys returns every known settings key, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.viper.AllKeys()
	sort.Strings(keys)
	return keys
}

// Settings decodes and validates the full settings document.
func (s *Store) Settings() (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsLocked()
}

func (s *Store) settingsLocked() (*models.Settings, error) {
	return s.decode(s.viper)
}

func (s *Store) decode(v *viper.Viper) (*models.Settings, error) {
	var settings models.Settings
	if err := v.Unmarshal(&settings, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if settings.Store.Path == "" {
		p, err := DefaultStorePath()
		if err != nil {
			return nil, err
		}
		settings.Store.Path = p
	}

	if err := s.validate.Struct(&settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToBoolHookFunc(),
	)
}

// stringToBoolHookFunc accepts "yes"/"no"/"on"/"off" from env and CLI input.
func stringToBoolHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Kind, t reflect.Kind, data any) (any, error) {
		if f != reflect.String || t != reflect.Bool {
			return data, nil
		}
		switch strings.ToLower(strings.TrimSpace(data.(string))) {
		case "yes", "on", "y":
			return true, nil
		case "no", "off", "n", "":
			return false, nil
		}
		return data, nil
	}
}

var knownKeys = map[string]struct{}{
	KeySnapshotDownloadURL: {}, KeySnapshotRateLimit: {},
	KeyNodePath: {}, KeyNodeGraphQLPort: {}, KeyNodePTY: {}, KeyNodeAutoStart: {},
	KeyGameMacPath: {}, KeyGameWindowsPath: {}, KeyGameLinuxPath: {},
	KeyStorePath:  {},
	KeyServerHost: {}, KeyServerPort: {},
	KeyTelemetryEnabled: {}, KeyTelemetryAPIKey: {}, KeyTelemetryEndpoint: {}, KeyTelemetryInstallID: {},
}

func isKnownKey(key string) bool {
	_, ok := knownKeys[strings.ToLower(key)]
	return ok
}

// setPath sets value at the nested path in m, creating maps as needed.
func setPath(m map[string]any, path []string, value any) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// copyTree deep-copies the nested maps of a decoded YAML document.
func copyTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = copyTree(sub)
			continue
		}
		out[k] = v
	}
	return out
}
