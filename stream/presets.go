package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kwv/steadyframe/stabilizer"
	"gopkg.in/yaml.v3"
)

// ErrPresetNotFound is returned when neither a built-in nor a stored preset
// has the requested name
var ErrPresetNotFound = errors.New("preset not found")

const presetExt = ".yaml"

// PresetStore keeps named stabilizer configs as YAML files in a directory.
// Built-in presets are always available and cannot be overwritten or
// deleted. An empty directory makes the store read-only.
type PresetStore struct {
	dir string
}

// NewPresetStore creates a store rooted at dir, creating it if needed
func NewPresetStore(dir string) (*PresetStore, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating preset dir: %w", err)
		}
	}
	return &PresetStore{dir: dir}, nil
}

func isBuiltin(name string) bool {
	_, err := stabilizer.PresetConfig(name)
	return err == nil
}

func validatePresetName(name string) error {
	if name == "" {
		return fmt.Errorf("preset name is required")
	}
	if strings.ContainsAny(name, `/\.`) || strings.TrimSpace(name) != name {
		return fmt.Errorf("invalid preset name %q", name)
	}
	return nil
}

func (ps *PresetStore) path(name string) string {
	return filepath.Join(ps.dir, name+presetExt)
}

// Load returns the preset config. Stored presets are layered over the
// defaults so a file only needs the fields it changes.
func (ps *PresetStore) Load(name string) (stabilizer.Config, error) {
	if cfg, err := stabilizer.PresetConfig(name); err == nil {
		return cfg, nil
	}
	if err := validatePresetName(name); err != nil {
		return stabilizer.Config{}, err
	}
	if ps.dir == "" {
		return stabilizer.Config{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}

	data, err := os.ReadFile(ps.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return stabilizer.Config{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
		}
		return stabilizer.Config{}, fmt.Errorf("reading preset %s: %w", name, err)
	}

	cfg := stabilizer.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return stabilizer.Config{}, fmt.Errorf("parsing preset %s: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return stabilizer.Config{}, fmt.Errorf("preset %s: %w", name, err)
	}
	return cfg, nil
}

// Save validates cfg and writes it under name
func (ps *PresetStore) Save(name string, cfg stabilizer.Config) error {
	if err := validatePresetName(name); err != nil {
		return err
	}
	if isBuiltin(name) {
		return fmt.Errorf("preset %s is built in", name)
	}
	if ps.dir == "" {
		return fmt.Errorf("no preset directory configured")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling preset: %w", err)
	}
	if err := os.WriteFile(ps.path(name), data, 0644); err != nil {
		return fmt.Errorf("writing preset: %w", err)
	}
	return nil
}

// Delete removes a stored preset
func (ps *PresetStore) Delete(name string) error {
	if isBuiltin(name) {
		return fmt.Errorf("preset %s is built in", name)
	}
	if err := validatePresetName(name); err != nil {
		return err
	}
	if ps.dir == "" {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	if err := os.Remove(ps.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
		}
		return fmt.Errorf("deleting preset: %w", err)
	}
	return nil
}

// List returns built-in and stored preset names, sorted
func (ps *PresetStore) List() ([]string, error) {
	names := stabilizer.PresetNames()
	if ps.dir == "" {
		return names, nil
	}

	entries, err := os.ReadDir(ps.dir)
	if err != nil {
		return nil, fmt.Errorf("listing presets: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != presetExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), presetExt)
		if !isBuiltin(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
