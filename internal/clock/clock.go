// Package clock provides the single monotonic-time seam used by every
// latency, snapshot, and pacing computation in uartstress. Wall-clock time
// is used only for run IDs and result filenames; everything else reads
// through Default so tests can substitute a fake.
package clock

import "time"

// Clock returns the current instant. Production code uses time.Now(),
// which on every supported platform returns a value with a monotonic
// reading attached; subtracting two such values yields an elapsed
// duration unaffected by wall-clock adjustments.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now().
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Default is the Clock used throughout the codebase unless overridden.
var Default Clock = Real{}
