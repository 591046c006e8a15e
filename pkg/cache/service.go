package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds the user preferences persisted between sessions.
type Settings struct {
	LastActive     map[string]int64 `json:"lastActive"`
	PinnedSerial   string           `json:"pinnedSerial"`
	LastWorkflowID string           `json:"lastWorkflowId"`
}

// Service persists Settings as a JSON file in the app config dir.
// All accessors are safe for concurrent use.
type Service struct {
	configDir string
	path      string

	mu       sync.RWMutex
	settings Settings

	logFunc func(format string, args ...interface{})
}

// Config for creating a settings Service
type Config struct {
	ConfigDir string
	LogFunc   func(format string, args ...interface{})
}

// New loads settings from disk, starting empty if none exist
func New(cfg Config) (*Service, error) {
	dir := cfg.ConfigDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "Scout")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &Service{
		configDir: dir,
		path:      filepath.Join(dir, "settings.json"),
		settings:  Settings{LastActive: map[string]int64{}},
		logFunc:   cfg.LogFunc,
	}

	if data, err := os.ReadFile(s.path); err == nil {
		var loaded Settings
		if json.Unmarshal(data, &loaded) == nil {
			if loaded.LastActive == nil {
				loaded.LastActive = map[string]int64{}
			}
			s.settings = loaded
		}
	}

	return s, nil
}

// GetLastActive returns the last run timestamp for a device
func (s *Service) GetLastActive(deviceID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.LastActive[deviceID]
}

// SetLastActive records the last run timestamp for a device
func (s *Service) SetLastActive(deviceID string, ts int64) {
	s.mu.Lock()
	s.settings.LastActive[deviceID] = ts
	s.mu.Unlock()
}

// GetAllLastActive returns a copy of the per-device timestamps
func (s *Service) GetAllLastActive() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.settings.LastActive))
	for id, ts := range s.settings.LastActive {
		out[id] = ts
	}
	return out
}

// GetPinnedSerial returns the pinned device serial
func (s *Service) GetPinnedSerial() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.PinnedSerial
}

// SetPinnedSerial pins a device serial
func (s *Service) SetPinnedSerial(serial string) {
	s.mu.Lock()
	s.settings.PinnedSerial = serial
	s.mu.Unlock()
}

// GetLastWorkflow returns the id of the last opened workflow
func (s *Service) GetLastWorkflow() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.LastWorkflowID
}

// SetLastWorkflow records the currently open workflow
func (s *Service) SetLastWorkflow(id string) {
	s.mu.Lock()
	s.settings.LastWorkflowID = id
	s.mu.Unlock()
}

// SaveSettings writes settings to disk via a temp file so a crash
// mid-write cannot corrupt the previous copy
func (s *Service) SaveSettings() error {
	s.mu.RLock()
	data, err := json.Marshal(s.settings)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.log("Error writing settings: %v", err)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		s.log("Error replacing settings file: %v", err)
		return err
	}
	return nil
}

// ConfigDir returns the configuration directory path
func (s *Service) ConfigDir() string {
	return s.configDir
}

// SettingsPath returns the settings file path
func (s *Service) SettingsPath() string {
	return s.path
}

// Close saves settings before shutdown
func (s *Service) Close() error {
	return s.SaveSettings()
}

func (s *Service) log(format string, args ...interface{}) {
	if s.logFunc != nil {
		s.logFunc(format, args...)
	}
}
