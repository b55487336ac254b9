package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

const (
	hostnamePath    = "ecu/hostname"
	descriptionPath = "ecu/description"
)

// WriteDescriptors renders one viewer project per ECU from template into
// dir, named <setup>_<ecu>.dlp. ECUs whose descriptor cannot be produced
// are left out of the result and logged.
func WriteDescriptors(template, dir string, setup core.SetupType, ecus []core.ECUConfig, logger log.Logger) (map[core.ECUType]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create descriptor dir: %w", err)
	}

	out := make(map[core.ECUType]string, len(ecus))
	for _, ecu := range ecus {
		doc := etree.NewDocument()
		if err := doc.ReadFromFile(template); err != nil {
			return nil, fmt.Errorf("read descriptor template %s: %w", template, err)
		}
		root := doc.Root()
		if root == nil {
			return nil, fmt.Errorf("descriptor template %s has no root element", template)
		}

		host := root.FindElement(hostnamePath)
		if host == nil {
			logger.Warn("Descriptor template has no hostname, ECU skipped", "ecu", ecu.Type, "template", template)
			continue
		}
		host.SetText(ecu.Address)

		if desc := root.FindElement(descriptionPath); desc != nil {
			desc.SetText(string(ecu.Type))
		} else {
			logger.Warn("Descriptor template has no description", "ecu", ecu.Type)
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%s.dlp", setup, ecu.Type))
		if err := doc.WriteToFile(path); err != nil {
			return nil, fmt.Errorf("write descriptor %s: %w", path, err)
		}
		out[ecu.Type] = path
	}
	return out, nil
}
