// Package result reads and clears the single JSON result artifact an agent
// subprocess writes before exiting. It is the boundary between the opaque
// agent process and the scheduler's housekeeping: the scheduler never
// parses agent stdout, only this well-known file.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxthelion/octopoid/internal/types"
)

// FileName is the well-known name the spawn strategies wire into
// OCTOPOID_RESULT_PATH and that collection reads back.
const FileName = "result.json"

// ErrMissing is returned by Read when no result file exists. A missing
// result at collection time is itself meaningful (treated as a failed
// outcome with reason "no result"), so callers should check for it with
// errors.Is rather than treat every error the same way.
var ErrMissing = errors.New("result: no artifact present")

// Path returns the conventional result path under a task/instance working
// directory.
func Path(workdir string) string {
	return filepath.Join(workdir, FileName)
}

// Read loads and parses the result artifact at workdir. A malformed
// document is reported as a distinct error from ErrMissing so collection
// can still classify it as "failed" without confusing the two cases in
// logs.
func Read(workdir string) (*types.Result, error) {
	data, err := os.ReadFile(Path(workdir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("result: read %s: %w", workdir, err)
	}

	var r types.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("result: parse %s: %w", workdir, err)
	}
	return &r, nil
}

// Clear deletes any pre-existing result artifact. Callers must do this at
// the start of worktree preparation: otherwise a crash between runs on the
// same working directory would let run N+1 observe run N's stale success
// report.
func Clear(workdir string) error {
	err := os.Remove(Path(workdir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("result: clear %s: %w", workdir, err)
	}
	return nil
}
