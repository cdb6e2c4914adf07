package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/proxychecker/internal/domain"
)

// Seed is the YAML seed file:
//
//	targets:
//	  - name: edge
//	    type: nginx
//	    host: 10.0.0.5
//	  - type: squid
//	    host: 10.0.0.6
//	    interval: 30
type Seed struct {
	Targets []domain.TargetInput `yaml:"targets"`
}

// LoadSeed reads and validates a seed file. Every entry must normalize.
func LoadSeed(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, in := range s.Targets {
		if _, err := in.Target(); err != nil {
			return Seed{}, fmt.Errorf("seed target %d: %w", i, err)
		}
	}
	return s, nil
}
