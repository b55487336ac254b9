package startuptime

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/ecukpi/internal/startuptime/config"
	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

// snapshot is the effective configuration of a run, kept next to its reports.
type snapshot struct {
	StartedAt       time.Time     `yaml:"startedAt"`
	Setup           string        `yaml:"setup"`
	Iterations      int           `yaml:"iterations"`
	CaptureDuration string        `yaml:"captureDuration"`
	PowerDwell      string        `yaml:"powerDwell"`
	ValidateOrder   bool          `yaml:"validateOrder"`
	PreGenerated    bool          `yaml:"preGenerated"`
	PreGeneratedDir string        `yaml:"preGeneratedDir,omitempty"`
	ECUs            []ecuSnapshot `yaml:"ecus"`
}

type ecuSnapshot struct {
	Type       string             `yaml:"type"`
	Address    string             `yaml:"address"`
	Threshold  float64            `yaml:"threshold"`
	Overrides  map[string]float64 `yaml:"overrides,omitempty"`
	Order      []groupSnapshot    `yaml:"order,omitempty"`
	ReportName string             `yaml:"reportName"`
}

type groupSnapshot struct {
	Type string   `yaml:"type"`
	Apps []string `yaml:"apps"`
}

// WriteSnapshot stores the effective run configuration as YAML at path.
func WriteSnapshot(path string, rc *core.RunContext, file *config.File) error {
	s := snapshot{
		StartedAt:       rc.StartedAt,
		Setup:           string(rc.Setup),
		Iterations:      rc.Iterations,
		CaptureDuration: rc.CaptureDuration.String(),
		PowerDwell:      rc.PowerDwell.String(),
		ValidateOrder:   rc.ValidateOrder,
		PreGenerated:    rc.PreGenerated,
	}
	if file != nil && file.PreGenerated {
		s.PreGeneratedDir = file.PreGeneratedPath
	}
	for _, ecu := range rc.ECUs {
		es := ecuSnapshot{
			Type:       string(ecu.Type),
			Address:    ecu.Address,
			Threshold:  ecu.Thresholds.Default,
			ReportName: rc.ReportName(ecu.Type),
		}
		if len(ecu.Thresholds.PerApp) > 0 {
			es.Overrides = ecu.Thresholds.PerApp
		}
		for _, g := range ecu.Order {
			es.Order = append(es.Order, groupSnapshot{Type: g.Type.String(), Apps: g.Apps})
		}
		s.ECUs = append(s.ECUs, es)
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode run configuration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
