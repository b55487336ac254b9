package core

import (
	"fmt"
	"strings"
)

// SystemBootOffset is the fixed time, in seconds, from ignition on until the
// OS reports ready. It is added to every observed time to express it from IG ON.
const SystemBootOffset = 1.5

// ECUType identifies one physical target board.
type ECUType string

const (
	ECURCAR ECUType = "RCAR"
	ECUSoC0 ECUType = "SoC0"
	ECUSoC1 ECUType = "SoC1"
)

// ParseECUType accepts the canonical names case-insensitively.
func ParseECUType(s string) (ECUType, error) {
	for _, t := range []ECUType{ECURCAR, ECUSoC0, ECUSoC1} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown ECU type %q (want RCAR, SoC0 or SoC1)", s)
}

// SetupType identifies the bench wiring. It selects the relay strategy.
type SetupType string

const (
	// SetupPADAS is a single RCAR board power-cycled by a USB relay.
	SetupPADAS SetupType = "PADAS"
	// SetupElite is one or more boards sharing a serial AT relay.
	SetupElite SetupType = "ELITE"
)

func ParseSetupType(s string) (SetupType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SetupPADAS):
		return SetupPADAS, nil
	case string(SetupElite):
		return SetupElite, nil
	}
	return "", fmt.Errorf("unknown setup type %q (want PADAS or ELITE)", s)
}

// OrderType is the ordering rule of one startup-order group.
type OrderType int

const (
	Sequential OrderType = iota
	Parallel
)

func (t OrderType) String() string {
	switch t {
	case Sequential:
		return "Sequential"
	case Parallel:
		return "Parallel"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	}
	return 0, fmt.Errorf("unknown order type %q (want Sequential or Parallel)", s)
}

// OrderOutcome is the result of checking one application's observed position.
type OrderOutcome int

const (
	OrderOK OrderOutcome = iota
	OrderMismatch
	ApplicationNotConfigured
	ApplicationNotFound
)

func (o OrderOutcome) String() string {
	switch o {
	case OrderOK:
		return "OK"
	case OrderMismatch:
		return "ORDER_MISMATCH"
	case ApplicationNotConfigured:
		return "APPLICATION_NOT_CONFIGURED"
	case ApplicationNotFound:
		return "APPLICATION_NOT_FOUND"
	}
	return fmt.Sprintf("OrderOutcome(%d)", int(o))
}

// OrderGroup is one step of the expected startup order.
type OrderGroup struct {
	Type OrderType
	Apps []string
}

// StartupOrder is the expected order, evaluated group by group.
type StartupOrder []OrderGroup

// Contains reports whether app is listed in any group.
func (s StartupOrder) Contains(app string) bool {
	for _, g := range s {
		for _, a := range g.Apps {
			if a == app {
				return true
			}
		}
	}
	return false
}

// Apps returns every configured application in group order.
func (s StartupOrder) Apps() []string {
	var apps []string
	for _, g := range s {
		apps = append(apps, g.Apps...)
	}
	return apps
}

// SplitApps splits a comma separated application list, trimming blanks.
func SplitApps(list string) []string {
	var apps []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			apps = append(apps, a)
		}
	}
	return apps
}

// Thresholds resolves the pass/fail limit, in seconds from IG ON, per application.
type Thresholds struct {
	Default float64
	PerApp  map[string]float64
}

// For returns the override for app when one is configured, otherwise Default.
func (t Thresholds) For(app string) float64 {
	if v, ok := t.PerApp[app]; ok {
		return v
	}
	return t.Default
}

// ECUConfig describes one target for the whole run. It is never mutated after setup.
type ECUConfig struct {
	Type       ECUType
	Address    string
	Order      StartupOrder
	Thresholds Thresholds
}
