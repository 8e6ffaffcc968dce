package status

import (
	"testing"
	"time"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/protocol"
)

func TestUpdateStatisticsIgnoresUnknownIndex(t *testing.T) {
	tables := NewTables()
	tables.UpdateStatistics(byte(NumStatisticsSlots), 42, time.Now())
	snap := tables.Read()
	for i := 0; i < NumStatisticsSlots; i++ {
		if snap.StatisticsKnown[i] {
			t.Fatalf("slot %d marked known after an out-of-range update", i)
		}
	}
}

func TestUpdateStatisticsAndRead(t *testing.T) {
	tables := NewTables()
	now := time.Now()
	tables.UpdateStatistics(7, 100, now)
	snap := tables.Read()
	if !snap.StatisticsKnown[7] || snap.Statistics[7] != 100 {
		t.Fatalf("slot 7 = (%v, %d), want (true, 100)", snap.StatisticsKnown[7], snap.Statistics[7])
	}
}

func TestUpdateTaskIgnoresUnknownIndex(t *testing.T) {
	tables := NewTables()
	tables.UpdateTask(byte(NumTaskSlots), 1, 2, 3, time.Now())
	snap := tables.Read()
	for i := 0; i < NumTaskSlots; i++ {
		if snap.TasksKnown[i] {
			t.Fatalf("task %d marked known after an out-of-range update", i)
		}
	}
}

func TestComputeDeltaMissingKeysDefaultZero(t *testing.T) {
	before := Snapshot{}
	after := Snapshot{}
	after.StatisticsKnown[0] = true
	after.Statistics[0] = 5
	after.TasksKnown[0] = true
	after.Tasks[0] = TaskRecord{AbsoluteTimeUs: 10, PercentTime: 2, HighWatermark: 3}

	delta := ComputeDelta(before, after)
	if delta.Statistics[0] != 5 {
		t.Fatalf("Statistics[0] delta = %d, want 5", delta.Statistics[0])
	}
	if delta.Tasks[0] != (TaskDelta{AbsoluteTimeUs: 10, PercentTime: 2, HighWatermark: 3}) {
		t.Fatalf("Tasks[0] delta = %+v", delta.Tasks[0])
	}
}

func TestComputeDeltaSubtractsBaseline(t *testing.T) {
	before := Snapshot{}
	before.StatisticsKnown[3] = true
	before.Statistics[3] = 10
	after := Snapshot{}
	after.StatisticsKnown[3] = true
	after.Statistics[3] = 14

	delta := ComputeDelta(before, after)
	if delta.Statistics[3] != 4 {
		t.Fatalf("Statistics[3] delta = %d, want 4", delta.Statistics[3])
	}
}

func TestStatisticsIndexLookup(t *testing.T) {
	if idx := StatisticsIndex("cobs_decode_error"); idx != 7 {
		t.Fatalf("StatisticsIndex(cobs_decode_error) = %d, want 7", idx)
	}
	if idx := StatisticsIndex("not_a_real_slot"); idx != -1 {
		t.Fatalf("StatisticsIndex(unknown) = %d, want -1", idx)
	}
}

func TestStatisticsLabelKnownAndUnknown(t *testing.T) {
	if got := StatisticsLabel("cobs_decode_error"); got != "COBS decode error" {
		t.Fatalf("StatisticsLabel(cobs_decode_error) = %q, want %q", got, "COBS decode error")
	}
	if got := StatisticsLabel("not_a_real_slot"); got != "not_a_real_slot" {
		t.Fatalf("StatisticsLabel(unknown) = %q, want fallback to the name itself", got)
	}
}

func TestStatisticsSlotLabelsCoversEverySlotName(t *testing.T) {
	for _, name := range StatisticsSlotNames {
		if _, ok := StatisticsSlotLabels[name]; !ok {
			t.Errorf("StatisticsSlotLabels missing entry for %q", name)
		}
	}
}

// fakeRequester records every status-request payload written to it.
type fakeRequester struct {
	payloads [][]byte
}

func (f *fakeRequester) Write(payload []byte) {
	f.payloads = append(f.payloads, append([]byte{}, payload...))
}

func TestRequestSnapshotSendsEveryIndex(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	req := &fakeRequester{}
	tables := NewTables()

	result := RequestSnapshot(req, tables, 50*time.Millisecond, nil)

	wantRequests := NumStatisticsSlots + NumTaskSlots
	if len(req.payloads) != wantRequests {
		t.Fatalf("sent %d requests, want %d", len(req.payloads), wantRequests)
	}
	if result.Complete {
		t.Fatal("Complete = true, but no responses were ever recorded")
	}
	firstStats := protocol.HeaderStatisticsStatus
	if req.payloads[0][0] != firstStats[0] || req.payloads[0][1] != firstStats[1] {
		t.Fatalf("first request header = %v, want %v", req.payloads[0][:2], firstStats)
	}
}

func TestRequestSnapshotCompletesWhenAllSlotsUpdated(t *testing.T) {
	origSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = origSleep }()

	tables := NewTables()

	// Each status request is answered synchronously from within Write
	// itself, updating the matching slot as each request goes out.
	statsSeen := 0
	tasksSeen := 0
	req := &hookRequester{
		onWrite: func(payload []byte) {
			now := time.Now()
			switch protocol.CommandOf(payload) {
			case protocol.CommandStatisticsStatus:
				tables.UpdateStatistics(payload[3], 0, now)
				statsSeen++
			case protocol.CommandTaskStatus:
				tables.UpdateTask(payload[3], 0, 0, 0, now)
				tasksSeen++
			}
		},
	}

	result := RequestSnapshot(req, tables, 200*time.Millisecond, nil)
	if !result.Complete {
		t.Fatalf("Complete = false, want true (statsSeen=%d tasksSeen=%d)", statsSeen, tasksSeen)
	}
	if result.StatisticsReceived != NumStatisticsSlots || result.TasksReceived != NumTaskSlots {
		t.Fatalf("received counts = (%d, %d), want (%d, %d)",
			result.StatisticsReceived, result.TasksReceived, NumStatisticsSlots, NumTaskSlots)
	}
}

type hookRequester struct {
	onWrite func(payload []byte)
}

func (h *hookRequester) Write(payload []byte) {
	h.onWrite(payload)
}
