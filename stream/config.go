package stream

import (
	"fmt"
	"os"
	"strings"

	"github.com/kwv/steadyframe/stabilizer"
	"gopkg.in/yaml.v3"
)

// DefaultTrajectoryLength is the number of samples kept per stream when the
// config does not say otherwise
const DefaultTrajectoryLength = 600

// Config is the service configuration file
type Config struct {
	MQTT             MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	HTTP             HTTPConfig        `yaml:"http" json:"http"`
	Stabilizer       stabilizer.Config `yaml:"stabilizer" json:"stabilizer"` // defaults for every stream
	Streams          []StreamConfig    `yaml:"streams,omitempty" json:"streams,omitempty"`
	PresetDir        string            `yaml:"presetDir,omitempty" json:"presetDir,omitempty"`
	TrajectoryLength int               `yaml:"trajectoryLength,omitempty" json:"trajectoryLength,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds the API listener settings
type HTTPConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// StreamConfig declares a stream that exists from startup
type StreamConfig struct {
	ID     string `yaml:"id" json:"id"`
	Preset string `yaml:"preset,omitempty" json:"preset,omitempty"` // empty uses the stabilizer section
}

// DefaultServiceConfig returns the configuration used when no file is given
func DefaultServiceConfig() *Config {
	return &Config{
		HTTP:             HTTPConfig{Listen: ":8080"},
		Stabilizer:       stabilizer.DefaultConfig(),
		TrajectoryLength: DefaultTrajectoryLength,
	}
}

// ValidateStreamID rejects IDs that cannot be used as an MQTT topic level or
// a URL path segment
func ValidateStreamID(id string) error {
	if id == "" {
		return fmt.Errorf("stream id is required")
	}
	if strings.ContainsAny(id, "/+# ") {
		return fmt.Errorf("stream id %q contains a reserved character", id)
	}
	return nil
}

// Validate checks the stabilizer defaults and the declared streams
func (c *Config) Validate() error {
	if err := c.Stabilizer.Validate(); err != nil {
		return fmt.Errorf("stabilizer: %w", err)
	}
	if c.TrajectoryLength < 0 {
		return fmt.Errorf("trajectoryLength must not be negative")
	}
	seen := make(map[string]bool, len(c.Streams))
	for i, sc := range c.Streams {
		if err := ValidateStreamID(sc.ID); err != nil {
			return fmt.Errorf("streams[%d]: %w", i, err)
		}
		if seen[sc.ID] {
			return fmt.Errorf("streams[%d]: duplicate id %s", i, sc.ID)
		}
		seen[sc.ID] = true
	}
	return nil
}

// LoadConfig loads the service configuration from a YAML file. Fields the
// file leaves out keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultServiceConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if config.TrajectoryLength == 0 {
		config.TrajectoryLength = DefaultTrajectoryLength
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
