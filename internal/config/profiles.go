package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// ProfileManager stores named configuration profiles under a dotfile
// directory (default ~/.tether/profiles). Profiles are plain YAML documents
// matching the Config layout so they can also be passed as --config files.
type ProfileManager struct {
	dir string
}

// NewProfileManager resolves the profile directory, creating it if needed.
// An empty baseDir selects ~/.tether.
func NewProfileManager(baseDir string) (*ProfileManager, error) {
	if baseDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".tether")
	}
	dir := filepath.Join(baseDir, "profiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}
	return &ProfileManager{dir: dir}, nil
}

// Dir returns the directory profiles are stored in.
func (m *ProfileManager) Dir() string { return m.dir }

// Save writes a named profile.
func (m *ProfileManager) Save(name string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal profile %q: %w", name, err)
	}
	path := filepath.Join(m.dir, name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile %q: %w", name, err)
	}
	return nil
}

// Load reads a named profile and validates it.
func (m *ProfileManager) Load(name string) (*Config, error) {
	path := filepath.Join(m.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile %q not found: %w", name, err)
	}
	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q is invalid: %w", name, err)
	}
	return cfg, nil
}

// List returns the names of all stored profiles.
func (m *ProfileManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names, nil
}

// Delete removes a named profile. Deleting a missing profile is not an error.
func (m *ProfileManager) Delete(name string) error {
	path := filepath.Join(m.dir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete profile %q: %w", name, err)
	}
	return nil
}

// DevelopmentProfile returns a lenient profile for local experimentation.
func DevelopmentProfile() *Config {
	cfg := NewDefaultConfig()
	cfg.Constraints.TimeLimit = 7200
	cfg.Constraints.Budget = 500.0
	cfg.Constraints.Permissions = []string{"read", "write", "admin"}
	cfg.Simulation.Depth = 5
	cfg.Reliability.Threshold = 0.75
	cfg.Approval.HighCostThreshold = 200.0
	cfg.Logger.Level = "debug"
	return cfg
}

// ProductionProfile returns a strict profile for unattended use.
func ProductionProfile() *Config {
	cfg := NewDefaultConfig()
	cfg.Constraints.TimeLimit = 3600
	cfg.Constraints.Budget = 100.0
	cfg.Constraints.Permissions = []string{"read"}
	cfg.Reliability.Threshold = 0.90
	cfg.Approval.HighCostThreshold = 25.0
	cfg.Logger.Level = "warn"
	return cfg
}

// ResearchProfile returns a profile tuned for long exploratory runs.
func ResearchProfile() *Config {
	cfg := NewDefaultConfig()
	cfg.Constraints.TimeLimit = 14400
	cfg.Constraints.Budget = 1000.0
	cfg.Constraints.Permissions = []string{"read", "write"}
	cfg.Simulation.Depth = 5
	cfg.Simulation.NumPaths = 5
	cfg.Reliability.Threshold = 0.80
	cfg.Approval.HighCostThreshold = 500.0
	return cfg
}
