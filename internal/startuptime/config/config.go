// Package config loads and validates the startup-time run configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

// ErrInvalidConfig marks every configuration problem. Runs abort on it
// before any hardware is touched.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	keyCaptureSeconds = "script-execution-time-in-seconds"
	keyIterations     = "iterations"
	keyThreshold      = "threshold-in-seconds"
	keyPowerDelay     = "power-on-off-delay-in-seconds"

	MaxThreshold = 100
)

type WindowsConfig struct {
	IsPathSet     bool   `json:"isPathSet" mapstructure:"isPathSet"`
	DltViewerPath string `json:"dltViewerPath" mapstructure:"dltViewerPath"`
}

type LinuxConfig struct {
	DltViewerPath string `json:"dltViewerPath" mapstructure:"dltViewerPath"`
}

type OrderEntry struct {
	Type string `json:"type" mapstructure:"type"`
	Apps string `json:"apps" mapstructure:"apps"`
}

type ThresholdEntry struct {
	Apps      string  `json:"apps" mapstructure:"apps"`
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
}

// ECUEntry is the per-ECU part of the file.
type ECUEntry struct {
	Type string `json:"ecu-type" mapstructure:"ecu-type"`
	// Threshold overrides the global default for this ECU.
	Threshold       *float64         `json:"threshold-in-seconds,omitempty" mapstructure:"threshold-in-seconds"`
	StartupOrder    []OrderEntry     `json:"startup-order" mapstructure:"startup-order"`
	ThresholdConfig []ThresholdEntry `json:"threshold-config" mapstructure:"threshold-config"`
}

// File mirrors the configuration file.
type File struct {
	CaptureSeconds   int           `json:"script-execution-time-in-seconds" mapstructure:"script-execution-time-in-seconds"`
	Iterations       int           `json:"iterations" mapstructure:"iterations"`
	Threshold        float64       `json:"threshold-in-seconds" mapstructure:"threshold-in-seconds"`
	ValidateOrder    bool          `json:"validate-startup-order" mapstructure:"validate-startup-order"`
	PowerDelay       float64       `json:"power-on-off-delay-in-seconds" mapstructure:"power-on-off-delay-in-seconds"`
	PreGenerated     bool          `json:"pre-generated-logs" mapstructure:"pre-generated-logs"`
	PreGeneratedPath string        `json:"pre-generated-logs-path" mapstructure:"pre-generated-logs-path"`
	Windows          WindowsConfig `json:"windows" mapstructure:"windows"`
	Linux            LinuxConfig   `json:"linux" mapstructure:"linux"`
	ECUs             []ECUEntry    `json:"ecu-config" mapstructure:"ecu-config"`
}

// Load reads a JSON or YAML file, chosen by extension, and validates it.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("linux.dltViewerPath", "dlt-viewer")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}

	if err := checkRaw(v, floatLiterals(path)); err != nil {
		return nil, err
	}

	f := &File{}
	if err := v.Unmarshal(f); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

var integerKeys = []string{keyIterations, keyCaptureSeconds}

// checkRaw rejects values the weakly typed decoder would otherwise coerce.
// floats names the integer keys written as floating-point literals.
func checkRaw(v *viper.Viper, floats map[string]bool) error {
	var errs []error
	for _, key := range integerKeys {
		if !v.IsSet(key) {
			errs = append(errs, keyError(key, "key not found in the configuration file"))
			continue
		}
		if floats[key] || !isInteger(v.Get(key)) {
			errs = append(errs, keyError(key, "must be an integer"))
		}
	}
	if !v.IsSet(keyThreshold) {
		errs = append(errs, keyError(keyThreshold, "key not found in the configuration file"))
	} else if !isNumber(v.Get(keyThreshold)) {
		errs = append(errs, keyError(keyThreshold, "must be a number"))
	}
	if v.IsSet(keyPowerDelay) && !isNumber(v.Get(keyPowerDelay)) {
		errs = append(errs, keyError(keyPowerDelay, "must be a number"))
	}
	return utilerrors.NewAggregate(errs)
}

// floatLiterals reports which integer keys the file at path spells as a
// float, such as 3.0 or 1e1. Both decoders hand those back as whole
// float64 values, so the literal has to be inspected.
func floatLiterals(path string) map[string]bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	floats := map[string]bool{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		raw := map[string]any{}
		if err := dec.Decode(&raw); err != nil {
			return nil
		}
		for _, key := range integerKeys {
			if n, ok := raw[key].(json.Number); ok && strings.ContainsAny(n.String(), ".eE") {
				floats[key] = true
			}
		}
	case ".yaml", ".yml":
		raw := map[string]yaml.Node{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil
		}
		for _, key := range integerKeys {
			if n, ok := raw[key]; ok && n.Kind == yaml.ScalarNode && n.ShortTag() == "!!float" {
				floats[key] = true
			}
		}
	}
	return floats
}

func isInteger(raw any) bool {
	switch n := raw.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	}
	return false
}

func isNumber(raw any) bool {
	switch n := raw.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(n))
	case float64:
		return !math.IsNaN(n)
	}
	return false
}

func keyError(key, msg string) error {
	return fmt.Errorf("%w: '%s' %s", ErrInvalidConfig, key, msg)
}

// Validate checks ranges and cross-field rules.
func (f *File) Validate() error {
	var errs []error
	if f.Iterations <= 0 {
		errs = append(errs, keyError(keyIterations, "must be greater than zero"))
	}
	if f.CaptureSeconds <= 0 {
		errs = append(errs, keyError(keyCaptureSeconds, "must be greater than zero"))
	}
	if !inRange(f.Threshold) {
		errs = append(errs, keyError(keyThreshold, fmt.Sprintf("is not valid, configure its value in range [0, %d]", MaxThreshold)))
	}
	if f.PowerDelay < 0 {
		errs = append(errs, keyError(keyPowerDelay, "must not be negative"))
	}
	if f.PreGenerated && f.PreGeneratedPath == "" {
		errs = append(errs, keyError("pre-generated-logs-path", "is required when pre-generated-logs is enabled"))
	}
	if runtime.GOOS == "windows" && !f.Windows.IsPathSet && f.Windows.DltViewerPath != "" {
		if info, err := os.Stat(f.Windows.DltViewerPath); err != nil || info.IsDir() {
			errs = append(errs, keyError("windows.dltViewerPath", "is not a valid file"))
		}
	}

	seen := make(map[string]bool)
	for i, e := range f.ECUs {
		t, err := core.ParseECUType(e.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: ecu-config[%d]: %v", ErrInvalidConfig, i, err))
			continue
		}
		if seen[string(t)] {
			errs = append(errs, fmt.Errorf("%w: ecu-config[%d]: duplicate entry for %s", ErrInvalidConfig, i, t))
		}
		seen[string(t)] = true

		if e.Threshold != nil && !inRange(*e.Threshold) {
			errs = append(errs, fmt.Errorf("%w: ecu-config[%d].%s out of range [0, %d]", ErrInvalidConfig, i, keyThreshold, MaxThreshold))
		}
		for j, o := range e.StartupOrder {
			if _, err := core.ParseOrderType(o.Type); err != nil {
				errs = append(errs, fmt.Errorf("%w: ecu-config[%d].startup-order[%d]: %v", ErrInvalidConfig, i, j, err))
			}
			if len(core.SplitApps(o.Apps)) == 0 {
				errs = append(errs, fmt.Errorf("%w: ecu-config[%d].startup-order[%d]: no apps", ErrInvalidConfig, i, j))
			}
		}
		for j, tc := range e.ThresholdConfig {
			if !inRange(tc.Threshold) {
				errs = append(errs, fmt.Errorf("%w: ecu-config[%d].threshold-config[%d] out of range [0, %d]", ErrInvalidConfig, i, j, MaxThreshold))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

func inRange(v float64) bool {
	return v >= 0 && v <= MaxThreshold
}

// CaptureDuration is how long every capture records.
func (f *File) CaptureDuration() time.Duration {
	return time.Duration(f.CaptureSeconds) * time.Second
}

// PowerDwell is the configured unpowered time, zero when the relay default applies.
func (f *File) PowerDwell() time.Duration {
	return time.Duration(f.PowerDelay * float64(time.Second))
}

// Selection is the bench chosen by the operator: the setup and the address
// of every ECU to test.
type Selection struct {
	Setup     core.SetupType
	Addresses map[core.ECUType]string
}

// Validate checks the addresses and that the setup supports the chosen ECUs.
func (s Selection) Validate() error {
	var errs []error
	if len(s.Addresses) == 0 {
		errs = append(errs, fmt.Errorf("%w: no enabled ECU selected", ErrInvalidConfig))
	}
	for ecu, addr := range s.Addresses {
		if _, err := netip.ParseAddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("%w: invalid IP address %q for %s", ErrInvalidConfig, addr, ecu))
		}
		if s.Setup == core.SetupPADAS && ecu != core.ECURCAR {
			errs = append(errs, fmt.Errorf("%w: %s cannot be tested on a %s setup", ErrInvalidConfig, ecu, s.Setup))
		}
		if s.Setup == core.SetupElite && ecu == core.ECURCAR {
			errs = append(errs, fmt.Errorf("%w: %s cannot be tested on an %s setup", ErrInvalidConfig, ecu, s.Setup))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// BuildECUs combines the file with the selection into the immutable per-ECU
// configuration, in the order of the file followed by selected ECUs the file
// does not describe.
func (f *File) BuildECUs(sel Selection) ([]core.ECUConfig, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var out []core.ECUConfig
	described := make(map[core.ECUType]bool)
	for _, e := range f.ECUs {
		t, err := core.ParseECUType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		addr, ok := sel.Addresses[t]
		if !ok {
			continue
		}
		cfg, err := f.buildECU(t, addr, e)
		if err != nil {
			return nil, err
		}
		described[t] = true
		out = append(out, cfg)
	}
	for _, t := range []core.ECUType{core.ECURCAR, core.ECUSoC0, core.ECUSoC1} {
		if addr, ok := sel.Addresses[t]; ok && !described[t] {
			out = append(out, core.ECUConfig{
				Type:       t,
				Address:    addr,
				Thresholds: core.Thresholds{Default: f.Threshold, PerApp: map[string]float64{}},
			})
		}
	}
	return out, nil
}

func (f *File) buildECU(t core.ECUType, addr string, e ECUEntry) (core.ECUConfig, error) {
	cfg := core.ECUConfig{
		Type:    t,
		Address: addr,
		Thresholds: core.Thresholds{
			Default: f.Threshold,
			PerApp:  make(map[string]float64),
		},
	}
	if e.Threshold != nil {
		cfg.Thresholds.Default = *e.Threshold
	}
	for _, o := range e.StartupOrder {
		ot, err := core.ParseOrderType(o.Type)
		if err != nil {
			return core.ECUConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, t, err)
		}
		cfg.Order = append(cfg.Order, core.OrderGroup{Type: ot, Apps: core.SplitApps(o.Apps)})
	}
	for _, tc := range e.ThresholdConfig {
		for _, app := range core.SplitApps(tc.Apps) {
			cfg.Thresholds.PerApp[app] = tc.Threshold
		}
	}
	return cfg, nil
}
