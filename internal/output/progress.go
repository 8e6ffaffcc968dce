// Package output handles result serialization and console progress
// reporting for burst/sweep/stress runs.
package output

import (
	"fmt"
	"os"
	"time"
)

// Progress reports collection status to stderr.
type Progress struct {
	enabled bool
	start   time.Time
}

// NewProgress creates a Progress reporter. Set enabled=false for --quiet mode.
func NewProgress(enabled bool) *Progress {
	return &Progress{
		enabled: enabled,
		start:   time.Now(),
	}
}

// Log prints a progress message to stderr if enabled.
func (p *Progress) Log(format string, args ...interface{}) {
	if !p.enabled {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] %s\n", elapsed, msg)
}

// VerboseProgress adds a --verbose debug channel on top of Progress, for
// per-sample tracing (framer hysteresis transitions, latency samples) that
// would be too noisy for normal progress output.
type VerboseProgress struct {
	Progress
	verbose bool
}

// NewVerboseProgress creates a VerboseProgress reporter. verbose=true always
// enables Log output regardless of enabled, since debug tracing implies the
// caller wants to see progress too.
func NewVerboseProgress(enabled, verbose bool) *VerboseProgress {
	return &VerboseProgress{
		Progress: Progress{
			enabled: enabled || verbose,
			start:   time.Now(),
		},
		verbose: verbose,
	}
}

// Debug prints a debug-level message to stderr if verbose mode is on.
func (p *VerboseProgress) Debug(format string, args ...interface{}) {
	if !p.verbose {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] DEBUG: %s\n", elapsed, msg)
}
