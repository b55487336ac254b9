// Package trace turns captured trace text into welcome baselines, startup
// timestamps and initialization durations.
package trace

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

const (
	// WelcomeMarker is logged once the adaptive platform is up.
	WelcomeMarker = "KSAR Adaptive"

	appMarker  = "Application:"
	initMarker = "Init(Up) Time:"
	nameEnd    = "- Init(Up) Time:"
	usSuffix   = " us"

	// Header fields: index, date, time, timestamp, count, ecu, app, ctx, ...
	timestampField = 3
	minFields      = 6
)

var (
	ErrWelcomeNotFound = errors.New("welcome marker " + WelcomeMarker + " not found")
	ErrNoTimestamps    = errors.New("no application startup timestamps found")
	ErrNoDurations     = errors.New("no application init durations found")
)

// Result is everything extracted from one capture.
type Result struct {
	Welcome    float64
	Timestamps *core.TimestampSet
	Timings    []core.ProcessTiming
}

// Extractor parses trace lines. The zero value logs nothing.
type Extractor struct {
	Logger log.Logger
}

func (x *Extractor) logger() log.Logger {
	if x.Logger == nil {
		return log.NewNopLogger()
	}
	return x.Logger
}

// Extract runs the full pipeline over lines and fails the capture when the
// welcome baseline, every timestamp or every duration is missing.
func (x *Extractor) Extract(lines []string) (*Result, error) {
	welcome, ok := Welcome(lines)
	if !ok {
		return nil, ErrWelcomeNotFound
	}

	stamps := x.Timestamps(lines)
	if stamps.Len() == 0 {
		return nil, ErrNoTimestamps
	}

	durations := Durations(lines)
	if len(durations) == 0 {
		return nil, ErrNoDurations
	}

	return &Result{
		Welcome:    welcome,
		Timestamps: stamps,
		Timings:    x.Timings(durations, stamps),
	}, nil
}

// Welcome returns the header timestamp of the first line carrying the welcome marker.
func Welcome(lines []string) (float64, bool) {
	for _, line := range lines {
		if strings.Contains(line, WelcomeMarker) {
			return HeaderTimestamp(line)
		}
	}
	return 0, false
}

// HeaderTimestamp reads the captured-time field of a trace header.
func HeaderTimestamp(line string) (float64, bool) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[timestampField], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// AppName returns the application named by a startup marker line.
func AppName(line string) (string, bool) {
	if !strings.Contains(line, appMarker) || !strings.Contains(line, initMarker) {
		return "", false
	}
	_, rest, _ := strings.Cut(line, appMarker)
	name, _, _ := strings.Cut(rest, nameEnd)
	name = strings.TrimSpace(name)
	return name, name != ""
}

// Timestamps collects startup-completion timestamps in observed order.
func (x *Extractor) Timestamps(lines []string) *core.TimestampSet {
	set := core.NewTimestampSet()
	for _, line := range lines {
		app, ok := AppName(line)
		if !ok {
			continue
		}
		ts, ok := HeaderTimestamp(line)
		if !ok {
			x.logger().Warn("No timestamp found for application", "app", app)
			continue
		}
		set.Set(app, ts)
	}
	return set
}

// Durations collects init durations in milliseconds keyed by application.
// The map keeps the latest value when an application repeats.
func Durations(lines []string) map[string]float64 {
	out := make(map[string]float64)
	for _, line := range lines {
		app, ok := AppName(line)
		if !ok {
			continue
		}
		_, rest, _ := strings.Cut(line, initMarker)
		num, _, found := strings.Cut(rest, usSuffix)
		if !found {
			continue
		}
		us, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			continue
		}
		out[app] = us / 1000
	}
	return out
}

// Timings flattens durations into a list sorted by duration. Applications
// without a startup timestamp are kept and reported as a warning.
func (x *Extractor) Timings(durations map[string]float64, stamps *core.TimestampSet) []core.ProcessTiming {
	timings := make([]core.ProcessTiming, 0, len(durations))
	for app, ms := range durations {
		if _, ok := stamps.Get(app); !ok {
			x.logger().Warn("Init duration reported without startup timestamp", "app", app)
		}
		timings = append(timings, core.ProcessTiming{App: app, InitMillis: ms})
	}
	stamps.Each(func(_ int, app string, _ float64) {
		if _, ok := durations[app]; !ok {
			x.logger().Warn("Init duration not available", "app", app)
		}
	})
	slices.SortFunc(timings, func(a, b core.ProcessTiming) int {
		if c := cmp.Compare(a.InitMillis, b.InitMillis); c != 0 {
			return c
		}
		return strings.Compare(a.App, b.App)
	})
	return timings
}

// maxLine bounds a single trace line. Longer lines are dropped with a warning.
const maxLine = 1 << 20

// ReadLines reads r as text, replacing invalid UTF-8 sequences.
func (x *Extractor) ReadLines(r io.Reader) ([]string, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		lines     []string
		buf       []byte
		oversized bool
		lineNo    int
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > maxLine+len("\r\n") {
				oversized, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case oversized:
			lineNo++
			x.logger().Warn("Skipping oversized trace line", "line", lineNo, "limit", maxLine)
		case len(buf) > 0:
			lineNo++
			line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
			lines = append(lines, strings.ToValidUTF8(line, ""))
		}
		buf, oversized = buf[:0], false

		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read trace: %w", err)
		}
	}
}

// ReadFile reads the text log at path.
func (x *Extractor) ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return x.ReadLines(f)
}
