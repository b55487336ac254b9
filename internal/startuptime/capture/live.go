// Package capture records trace logs from ECUs with the external viewer, or
// locates recordings made earlier.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/exec"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/internal/startuptime/trace"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

var (
	// ErrEmptyCapture means the viewer produced no text, usually because
	// the ECU was unreachable or its address is wrong.
	ErrEmptyCapture = errors.New("capture produced an empty log")
	ErrCaptureTool  = errors.New("capture tool failed")
	ErrNoDescriptor = errors.New("no viewer project for ECU")
)

const (
	DefaultViewer        = "dlt-viewer"
	DefaultWindowsViewer = "dlt-viewer.exe"

	// wrapperGrace bounds a wrapper script beyond the recording time it enforces itself.
	wrapperGrace = time.Minute
)

// LiveConfig parameterizes the viewer invocation.
type LiveConfig struct {
	// Viewer is the viewer executable.
	Viewer string
	// Wrapper, when set, is a script that records and converts in one call:
	// wrapper <viewer> <seconds> <log> <trace> <project>.
	Wrapper  string
	Duration time.Duration
}

// LiveConfigFor fills platform defaults: Windows hosts go through the wrapper script.
func LiveConfigFor(goos, viewer, wrapper string, d time.Duration) LiveConfig {
	cfg := LiveConfig{Viewer: viewer, Duration: d}
	if goos == "windows" {
		cfg.Wrapper = wrapper
		if cfg.Viewer == "" {
			cfg.Viewer = DefaultWindowsViewer
		}
	}
	if cfg.Viewer == "" {
		cfg.Viewer = DefaultViewer
	}
	return cfg
}

var _ core.Capturer = (*LiveCapturer)(nil)

// LiveCapturer records each ECU with the viewer for a fixed duration and
// converts the binary trace to text.
type LiveCapturer struct {
	cfg         LiveConfig
	rc          *core.RunContext
	descriptors map[core.ECUType]string
	exec        exec.Interface
}

func NewLiveCapturer(cfg LiveConfig, rc *core.RunContext, descriptors map[core.ECUType]string, e exec.Interface) *LiveCapturer {
	if e == nil {
		e = exec.New()
	}
	if cfg.Viewer == "" {
		cfg = LiveConfigFor(runtime.GOOS, "", cfg.Wrapper, cfg.Duration)
	}
	return &LiveCapturer{cfg: cfg, rc: rc, descriptors: descriptors, exec: e}
}

// Capture records iteration (1-based) of ecu into the run's log directory.
func (c *LiveCapturer) Capture(ctx context.Context, ecu core.ECUConfig, iteration int) (*core.Capture, error) {
	project, ok := c.descriptors[ecu.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, ecu.Type)
	}

	dir := c.rc.LogDirFor(ecu.Type)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	base := filepath.Join(dir, c.rc.LogBaseName(ecu.Type, iteration))
	logPath, tracePath := base+".log", base+".dlt"

	logger := c.rc.Logger.WithValues("ecu", ecu.Type, "iteration", iteration)
	logger.Info("Capturing trace", "address", ecu.Address, "duration", c.cfg.Duration, "log", logPath)

	var err error
	if c.cfg.Wrapper != "" {
		err = c.runWrapper(ctx, project, logPath, tracePath)
	} else {
		err = c.runDirect(ctx, project, logPath, tracePath, logger)
	}
	if err != nil {
		return nil, err
	}

	return Load(ecu.Type, iteration, logPath, tracePath, logger)
}

func (c *LiveCapturer) runDirect(ctx context.Context, project, logPath, tracePath string, logger log.Logger) error {
	recCtx, cancel := context.WithTimeout(ctx, c.cfg.Duration)
	defer cancel()

	out, err := c.exec.CommandContext(recCtx, c.cfg.Viewer, "-p", project, "-l", tracePath, "-v").CombinedOutput()
	// The viewer streams until it is stopped; reaching the deadline is the normal end.
	if err != nil && !errors.Is(recCtx.Err(), context.DeadlineExceeded) {
		return toolError("record", err, out)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Debug("Converting trace to text", "trace", tracePath)
	if out, err := c.exec.CommandContext(ctx, c.cfg.Viewer, "-c", tracePath, logPath).CombinedOutput(); err != nil {
		return toolError("convert", err, out)
	}
	return nil
}

func (c *LiveCapturer) runWrapper(ctx context.Context, project, logPath, tracePath string) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Duration+wrapperGrace)
	defer cancel()

	secs := strconv.Itoa(int(c.cfg.Duration / time.Second))
	out, err := c.exec.CommandContext(runCtx, c.cfg.Wrapper, c.cfg.Viewer, secs, logPath, tracePath, project).CombinedOutput()
	if err != nil {
		return toolError("wrapper", err, out)
	}
	return nil
}

func toolError(step string, err error, out []byte) error {
	msg := strings.TrimSpace(string(out))
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	return fmt.Errorf("%w: %s: %v: %s", ErrCaptureTool, step, err, msg)
}

// Load verifies the text log at logPath is non-empty and reads it.
func Load(ecu core.ECUType, iteration int, logPath, tracePath string, logger log.Logger) (*core.Capture, error) {
	info, err := os.Stat(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s was not created", ErrEmptyCapture, filepath.Base(logPath))
		}
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s, check the IP address and status of %s", ErrEmptyCapture, filepath.Base(logPath), ecu)
	}

	lines, err := (&trace.Extractor{Logger: logger}).ReadFile(logPath)
	if err != nil {
		return nil, err
	}
	return &core.Capture{
		ECU:       ecu,
		Iteration: iteration,
		LogPath:   logPath,
		TracePath: tracePath,
		Lines:     lines,
	}, nil
}
