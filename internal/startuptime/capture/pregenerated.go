package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/autopeer-io/ecukpi/internal/startuptime/core"
	"github.com/autopeer-io/ecukpi/pkg/log"
)

// ErrNoRecording means no pre-generated log matches an (ECU, iteration) pair.
var ErrNoRecording = errors.New("no pre-generated log found")

var _ core.Capturer = (*Replay)(nil)

// Replay serves captures from logs recorded by an earlier run. A file
// matches when its name carries the setup, the ECU type and the _N<iteration>
// suffix; the most recently modified match wins.
type Replay struct {
	Dir    string
	Setup  core.SetupType
	Logger log.Logger
}

func (r *Replay) Capture(ctx context.Context, ecu core.ECUConfig, iteration int) (*core.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := r.Locate(ecu.Type, iteration)
	if err != nil {
		return nil, err
	}
	return Load(ecu.Type, iteration, path, "", r.Logger)
}

// Locate finds the text log of iteration (1-based) for ecu below Dir.
func (r *Replay) Locate(ecu core.ECUType, iteration int) (string, error) {
	iterRe := regexp.MustCompile(fmt.Sprintf(`_N%d(\D|$)`, iteration))

	var (
		best    string
		bestMod time.Time
	)
	err := filepath.WalkDir(r.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".log") {
			return nil
		}
		name := filepath.Base(path)
		if !strings.Contains(name, "_"+string(r.Setup)+"_") ||
			!strings.Contains(name, "_"+string(ecu)+"_") ||
			!iterRe.MatchString(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", r.Dir, err)
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s iteration %d in %s", ErrNoRecording, ecu, iteration, r.Dir)
	}
	return best, nil
}
