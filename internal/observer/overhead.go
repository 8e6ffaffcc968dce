package observer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Overhead captures the harness's own resource consumption across a run.
type Overhead struct {
	SelfPID         int   `json:"self_pid"`
	CPUUserMs       int64 `json:"cpu_user_ms"`
	CPUSystemMs     int64 `json:"cpu_system_ms"`
	MemoryRSSBytes  int64 `json:"memory_rss_bytes"`
	DiskReadBytes   int64 `json:"disk_read_bytes"`
	DiskWriteBytes  int64 `json:"disk_write_bytes"`
	ContextSwitches int64 `json:"context_switches"`
}

// procSnapshot holds raw values from /proc/[pid]/stat, /proc/[pid]/io, and
// /proc/[pid]/status.
type procSnapshot struct {
	utime          uint64 // in clock ticks
	stime          uint64
	rss            int64 // in pages
	voluntaryCtxSw int64
	nonvolCtxSw    int64
	readBytes      int64
	writeBytes     int64
}

// SnapshotBefore records the harness's current resource usage. Call before
// starting a burst/sweep/stress run.
func (t *Tracker) SnapshotBefore() {
	snap := readProcSnapshot(t.selfPID)
	t.before = &snap
}

// SnapshotAfter reads current resource usage and computes the delta since
// SnapshotBefore, returning the harness's overhead for the elapsed run.
// MemoryRSSBytes is the current resident set size, not a delta. If
// SnapshotBefore was never called, only SelfPID is populated.
func (t *Tracker) SnapshotAfter() Overhead {
	summary := Overhead{SelfPID: t.selfPID}
	if t.before == nil {
		return summary
	}

	now := readProcSnapshot(t.selfPID)
	summary.CPUUserMs = ticksToMs(now.utime - t.before.utime)
	summary.CPUSystemMs = ticksToMs(now.stime - t.before.stime)
	summary.MemoryRSSBytes = now.rss * 4096
	summary.ContextSwitches = (now.voluntaryCtxSw - t.before.voluntaryCtxSw) +
		(now.nonvolCtxSw - t.before.nonvolCtxSw)
	summary.DiskReadBytes = now.readBytes - t.before.readBytes
	summary.DiskWriteBytes = now.writeBytes - t.before.writeBytes
	return summary
}

// ticksToMs converts clock ticks (typically 100 Hz) to milliseconds.
func ticksToMs(ticks uint64) int64 {
	// SC_CLK_TCK is 100 on virtually all Linux systems.
	return int64(ticks) * 10
}

// readProcSnapshot reads /proc/[pid]/stat, /proc/[pid]/io, and
// /proc/[pid]/status for pid. Returns zero values if the process no longer
// exists or the files are unreadable (e.g. /proc/[pid]/io requires
// same-user or root).
func readProcSnapshot(pid int) procSnapshot {
	var snap procSnapshot

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return snap
	}
	snap = parseProcStat(string(statData))

	if ioData, err := os.ReadFile(fmt.Sprintf("/proc/%d/io", pid)); err == nil {
		snap.readBytes, snap.writeBytes = parseProcIO(string(ioData))
	}

	if statusData, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid)); err == nil {
		snap.voluntaryCtxSw, snap.nonvolCtxSw = parseProcStatus(string(statusData))
	}

	return snap
}

// parseProcStat extracts utime, stime, rss from /proc/[pid]/stat content.
func parseProcStat(content string) procSnapshot {
	var snap procSnapshot

	// Find end of comm field: last ")" in the line, since comm itself may
	// contain spaces or parentheses.
	commEnd := strings.LastIndex(content, ")")
	if commEnd < 0 || commEnd+2 >= len(content) {
		return snap
	}

	fields := strings.Fields(content[commEnd+2:])
	// fields[0]=state, fields[11]=utime, fields[12]=stime, fields[21]=rss
	if len(fields) > 12 {
		snap.utime, _ = strconv.ParseUint(fields[11], 10, 64)
		snap.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	}
	if len(fields) > 21 {
		snap.rss, _ = strconv.ParseInt(fields[21], 10, 64)
	}

	return snap
}

// parseProcIO extracts read_bytes and write_bytes from /proc/[pid]/io.
func parseProcIO(content string) (readBytes, writeBytes int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ": ", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "read_bytes":
			readBytes = val
		case "write_bytes":
			writeBytes = val
		}
	}
	return
}

// parseProcStatus extracts voluntary/nonvoluntary context switches from
// /proc/[pid]/status.
func parseProcStatus(content string) (voluntary, nonvoluntary int64) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.SplitN(line, ":\t", 2)
		if len(fields) != 2 {
			continue
		}
		val, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		switch fields[0] {
		case "voluntary_ctxt_switches":
			voluntary = val
		case "nonvoluntary_ctxt_switches":
			nonvoluntary = val
		}
	}
	return
}
