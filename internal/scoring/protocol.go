package scoring

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTrialConfigName is the designated name of the trial-wide default.
const DefaultTrialConfigName = "GHOSTLY-TRIAL-DEFAULT"

// Protocol is the on-disk shape of a trial scoring protocol.
//
//	name: GHOSTLY-TRIAL-DEFAULT
//	weights: {compliance: 0.5, symmetry: 0.25, effort: 0.25, game: 0}
//	sub_weights: {completion: 0.333, intensity: 0.333, duration: 0.334}
//	rpe_mapping:
//	  0: {score: 10, category: no_exertion, clinical_note: no_effort_recorded}
//	  ...
type Protocol struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Weights     *Weights    `yaml:"weights"`
	SubWeights  *SubWeights `yaml:"sub_weights"`
	RPEMapping  RPEMapping  `yaml:"rpe_mapping"`
}

// DefaultConfiguration returns the built-in trial default, unsaved.
func DefaultConfiguration() Configuration {
	return Configuration{
		Name:        DefaultTrialConfigName,
		Description: "Trial protocol default scoring",
		Weights:     DefaultWeights(),
		SubWeights:  DefaultSubWeights(),
		RPEMapping:  DefaultRPEMapping(),
		Active:      true,
		IsGlobal:    true,
		Protected:   true,
	}
}

// LoadProtocol reads a protocol file into a global, protected configuration.
// Sections left out of the file fall back to the built-in defaults; whatever
// is present must be complete and valid.
func LoadProtocol(path string) (Configuration, error) {
	if strings.TrimSpace(path) == "" {
		return Configuration{}, fmt.Errorf("scoring: protocol path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("scoring: reading protocol %s: %w", path, err)
	}
	return ParseProtocol(b)
}

func ParseProtocol(b []byte) (Configuration, error) {
	var p Protocol
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Configuration{}, fmt.Errorf("scoring: parsing protocol: %w", err)
	}
	cfg := DefaultConfiguration()
	if n := strings.TrimSpace(p.Name); n != "" {
		cfg.Name = n
	}
	if p.Description != "" {
		cfg.Description = p.Description
	}
	if p.Weights != nil {
		cfg.Weights = *p.Weights
	}
	if p.SubWeights != nil {
		cfg.SubWeights = *p.SubWeights
	}
	if p.RPEMapping != nil {
		cfg.RPEMapping = p.RPEMapping
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("scoring: protocol %q: %w", cfg.Name, err)
	}
	return cfg, nil
}
