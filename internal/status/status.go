// Package status implements the device status snapshot engine (C7): the
// fixed-size statistics and task tables, their mutex-guarded updates, and
// the request/poll/delta cycle used to take a consistent snapshot.
package status

import (
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/clock"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
)

// StatisticsSlotNames gives the stable, compile-time-fixed ordering of the
// 14 statistics slots, matching the firmware's own enumeration.
var StatisticsSlotNames = []string{
	"queue_send_error",
	"queue_receive_error",
	"cdc_queue_send_error",
	"display_out_error",
	"led_out_error",
	"watchdog_error",
	"msg_malformed_error",
	"cobs_decode_error",
	"receive_buffer_overflow_error",
	"checksum_error",
	"buffer_overflow_error",
	"unknown_cmd_error",
	"bytes_sent",
	"bytes_received",
}

// TaskSlotNames gives the stable ordering of the 9 task records.
var TaskSlotNames = []string{
	"cdc_task",
	"cdc_write_task",
	"uart_event_task",
	"decode_reception_task",
	"process_outbound_task",
	"adc_read_task",
	"keypad_task",
	"encoder_read_task",
	"idle_task",
}

// StatisticsSlotLabels gives the human-readable label shown alongside each
// machine slot name on the console status display, matching the error
// catalogue's message text.
var StatisticsSlotLabels = map[string]string{
	"queue_send_error":             "Queue send error",
	"queue_receive_error":          "Queue receive error",
	"cdc_queue_send_error":         "CDC queue send error",
	"display_out_error":            "Display output error",
	"led_out_error":                "LED output error",
	"watchdog_error":               "Watchdog error",
	"msg_malformed_error":          "Malformed message error",
	"cobs_decode_error":            "COBS decode error",
	"receive_buffer_overflow_error": "Receive buffer overflow error",
	"checksum_error":               "Checksum error",
	"buffer_overflow_error":        "Buffer overflow error",
	"unknown_cmd_error":            "Unknown command error",
	"bytes_sent":                   "Bytes sent",
	"bytes_received":               "Bytes received",
}

// StatisticsLabel returns the human-readable label for a machine slot name,
// falling back to the name itself if unrecognised.
func StatisticsLabel(name string) string {
	if label, ok := StatisticsSlotLabels[name]; ok {
		return label
	}
	return name
}

// NumStatisticsSlots and NumTaskSlots bound the valid index range for the
// two tables; indices outside this range are ignored everywhere.
var (
	NumStatisticsSlots = len(StatisticsSlotNames)
	NumTaskSlots       = len(TaskSlotNames)
)

// TaskRecord holds the three u32 fields the firmware reports per task.
type TaskRecord struct {
	AbsoluteTimeUs uint32
	PercentTime    uint32
	HighWatermark  uint32
}

// Tables is the single mutex-guarded pair of statistics/task tables a
// latency.Meter updates as STATISTICS_STATUS/TASK_STATUS frames arrive.
type Tables struct {
	mu sync.Mutex

	statisticsValues    [14]uint32
	statisticsUpdatedAt [14]time.Time
	statisticsKnown     [14]bool

	taskValues    [9]TaskRecord
	taskUpdatedAt [9]time.Time
	taskKnown     [9]bool
}

// NewTables constructs an empty Tables.
func NewTables() *Tables {
	return &Tables{}
}

// UpdateStatistics records a new value for a statistics slot. Indices
// outside [0, NumStatisticsSlots) are ignored.
func (t *Tables) UpdateStatistics(index byte, value uint32, at time.Time) {
	if int(index) >= NumStatisticsSlots {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statisticsValues[index] = value
	t.statisticsUpdatedAt[index] = at
	t.statisticsKnown[index] = true
}

// UpdateTask records new task fields. Indices outside [0, NumTaskSlots)
// are ignored.
func (t *Tables) UpdateTask(index byte, absoluteTimeUs, percentTime, highWatermark uint32, at time.Time) {
	if int(index) >= NumTaskSlots {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskValues[index] = TaskRecord{
		AbsoluteTimeUs: absoluteTimeUs,
		PercentTime:    percentTime,
		HighWatermark:  highWatermark,
	}
	t.taskUpdatedAt[index] = at
	t.taskKnown[index] = true
}

// Snapshot is a consistent point-in-time read of both tables.
type Snapshot struct {
	Statistics        [14]uint32
	StatisticsUpdated [14]time.Time
	StatisticsKnown   [14]bool
	Tasks             [9]TaskRecord
	TasksUpdated      [9]time.Time
	TasksKnown        [9]bool
}

// Read takes a consistent snapshot of both tables under the mutex.
func (t *Tables) Read() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Statistics:        t.statisticsValues,
		StatisticsUpdated: t.statisticsUpdatedAt,
		StatisticsKnown:   t.statisticsKnown,
		Tasks:             t.taskValues,
		TasksUpdated:      t.taskUpdatedAt,
		TasksKnown:        t.taskKnown,
	}
}

// countSince returns how many slots (of each kind) have been updated at or
// after marker.
func (t *Tables) countSince(marker time.Time) (statsCount, taskCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < NumStatisticsSlots; i++ {
		if t.statisticsKnown[i] && !t.statisticsUpdatedAt[i].Before(marker) {
			statsCount++
		}
	}
	for i := 0; i < NumTaskSlots; i++ {
		if t.taskKnown[i] && !t.taskUpdatedAt[i].Before(marker) {
			taskCount++
		}
	}
	return
}

// Requester sends a framed status request; satisfied by pipeline.Pipeline.
type Requester interface {
	Write(payload []byte)
}

// Polling cadence constants from the reference firmware harness.
const (
	RequestSpacing = 20 * time.Millisecond
	PollInterval   = 10 * time.Millisecond
	DefaultTimeout = 2 * time.Second
)

// SnapshotResult is the outcome of RequestSnapshot.
type SnapshotResult struct {
	Snapshot
	StatisticsReceived int
	TasksReceived      int
	Complete           bool
}

// RequestSnapshot sends a status request for every statistics and task
// index (spaced by RequestSpacing), then polls every PollInterval until
// either every slot has been updated since the request started or timeout
// elapses. It returns a consistent read of both tables alongside how many
// slots were actually refreshed.
func RequestSnapshot(req Requester, tables *Tables, timeout time.Duration, clk clock.Clock) SnapshotResult {
	if clk == nil {
		clk = clock.Default
	}
	marker := clk.Now()

	for i := 0; i < NumStatisticsSlots; i++ {
		req.Write(protocol.BuildStatusRequest(protocol.HeaderStatisticsStatus, byte(i)))
		sleep(RequestSpacing)
	}
	for i := 0; i < NumTaskSlots; i++ {
		req.Write(protocol.BuildStatusRequest(protocol.HeaderTaskStatus, byte(i)))
		sleep(RequestSpacing)
	}

	deadline := marker.Add(timeout)
	var statsCount, taskCount int
	for {
		statsCount, taskCount = tables.countSince(marker)
		if statsCount >= NumStatisticsSlots && taskCount >= NumTaskSlots {
			break
		}
		if !clk.Now().Before(deadline) {
			break
		}
		sleep(PollInterval)
	}

	snap := tables.Read()
	return SnapshotResult{
		Snapshot:           snap,
		StatisticsReceived: statsCount,
		TasksReceived:      taskCount,
		Complete:           statsCount >= NumStatisticsSlots && taskCount >= NumTaskSlots,
	}
}

// sleep is a seam so tests could substitute a no-op; production always
// really sleeps since this function paces requests against real firmware.
var sleep = time.Sleep

// Delta holds per-slot statistics deltas and per-field task deltas between
// two snapshots.
type Delta struct {
	Statistics [14]int64
	Tasks      [9]TaskDelta
}

// TaskDelta is the field-wise difference of a TaskRecord between two
// snapshots.
type TaskDelta struct {
	AbsoluteTimeUs int64
	PercentTime    int64
	HighWatermark  int64
}

// ComputeDelta returns after-before for every statistics slot and every
// task field. Slots absent (never observed) in either snapshot default to
// 0, matching the reference harness's missing-key behaviour.
func ComputeDelta(before, after Snapshot) Delta {
	var d Delta
	for i := 0; i < NumStatisticsSlots; i++ {
		var b, a int64
		if before.StatisticsKnown[i] {
			b = int64(before.Statistics[i])
		}
		if after.StatisticsKnown[i] {
			a = int64(after.Statistics[i])
		}
		d.Statistics[i] = a - b
	}
	for i := 0; i < NumTaskSlots; i++ {
		var b, a TaskRecord
		if before.TasksKnown[i] {
			b = before.Tasks[i]
		}
		if after.TasksKnown[i] {
			a = after.Tasks[i]
		}
		d.Tasks[i] = TaskDelta{
			AbsoluteTimeUs: int64(a.AbsoluteTimeUs) - int64(b.AbsoluteTimeUs),
			PercentTime:    int64(a.PercentTime) - int64(b.PercentTime),
			HighWatermark:  int64(a.HighWatermark) - int64(b.HighWatermark),
		}
	}
	return d
}

// StatisticsIndex returns the slot index for name, or -1 if unknown. Used
// by the stress verdict engine to look up named error counters.
func StatisticsIndex(name string) int {
	for i, n := range StatisticsSlotNames {
		if n == name {
			return i
		}
	}
	return -1
}
