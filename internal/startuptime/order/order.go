// Package order checks an observed application startup sequence against the
// configured sequential and parallel groups.
package order

import (
	"slices"
	"strconv"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
)

// ExpectedPosition returns the 1-based position app should start at, or a
// "start~end" range for a parallel group of several members. It reports
// false when app is not configured.
func ExpectedPosition(app string, configured core.StartupOrder) (string, bool) {
	cur := 0
	for _, g := range configured {
		if idx := slices.Index(g.Apps, app); idx >= 0 {
			switch {
			case g.Type == core.Sequential:
				return strconv.Itoa(cur + idx + 1), true
			case len(g.Apps) == 1:
				return strconv.Itoa(cur + 1), true
			default:
				return strconv.Itoa(cur+1) + "~" + strconv.Itoa(cur+len(g.Apps)), true
			}
		}
		cur += len(g.Apps)
	}
	return "", false
}

// ValidateIndividual checks the application observed at 1-based position.
// Only the group covering position is consulted; a miss there is a mismatch
// if app is configured anywhere, otherwise it is not configured.
func ValidateIndividual(app string, position int, configured core.StartupOrder) core.OrderOutcome {
	for _, g := range configured {
		if len(g.Apps) < position {
			position -= len(g.Apps)
			continue
		}
		if g.Type == core.Sequential {
			if position >= 1 && g.Apps[position-1] == app {
				return core.OrderOK
			}
		} else if slices.Contains(g.Apps, app) {
			return core.OrderOK
		}
		break
	}
	if configured.Contains(app) {
		return core.OrderMismatch
	}
	return core.ApplicationNotConfigured
}

// ValidateOverall slices observed into consecutive runs sized like the
// groups. Sequential runs must match exactly, parallel runs as a set.
func ValidateOverall(observed []string, configured core.StartupOrder) bool {
	cur := 0
	for _, g := range configured {
		end := cur + len(g.Apps)
		if end > len(observed) {
			return false
		}
		got := observed[cur:end]
		if g.Type == core.Sequential {
			if !slices.Equal(got, g.Apps) {
				return false
			}
		} else if !sameSet(got, g.Apps) {
			return false
		}
		cur = end
	}
	return true
}

func sameSet(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, ok := set[s]; !ok {
			return false
		}
		seen[s] = struct{}{}
	}
	return len(seen) == len(set)
}

// Missing lists configured applications absent from observed, in group order.
func Missing(observed *core.TimestampSet, configured core.StartupOrder) []string {
	var out []string
	for _, app := range configured.Apps() {
		if _, ok := observed.Get(app); !ok {
			out = append(out, app)
		}
	}
	return out
}

// Assess runs every check over one capture. With validation disabled only
// the missing applications are collected.
func Assess(observed *core.TimestampSet, configured core.StartupOrder, enabled bool) core.OrderAssessment {
	a := core.OrderAssessment{
		Enabled:  enabled,
		Overall:  true,
		Outcomes: make(map[string]core.OrderOutcome, observed.Len()),
		Missing:  Missing(observed, configured),
	}
	if !enabled {
		return a
	}
	a.Overall = ValidateOverall(observed.Apps(), configured)
	observed.Each(func(pos int, app string, _ float64) {
		a.Outcomes[app] = ValidateIndividual(app, pos, configured)
	})
	return a
}

// Passed reports whether the capture meets the configured order.
func Passed(a core.OrderAssessment) bool {
	if !a.Enabled {
		return true
	}
	m, nf, _ := a.Counts()
	return a.Overall && m == 0 && nf == 0
}
