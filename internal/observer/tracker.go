// Package observer records the harness's own CPU/RSS footprint around a
// stress run, so a run's resource report distinguishes device-side
// behavior from the cost of the harness measuring it.
package observer

import "os"

// Tracker snapshots this process's own /proc accounting before and after
// a run.
type Tracker struct {
	selfPID int
	before  *procSnapshot
}

// NewTracker creates a Tracker seeded with the current process PID.
func NewTracker() *Tracker {
	return &Tracker{selfPID: os.Getpid()}
}

// SelfPID returns the harness's own process ID.
func (t *Tracker) SelfPID() int {
	return t.selfPID
}
