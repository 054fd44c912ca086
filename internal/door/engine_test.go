package door

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/petdoor-sim/internal/protocol"
)

// recorder captures broadcasts for assertions.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Broadcast(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// phases returns the doorStatus values broadcast so far, in order.
func (r *recorder) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m[protocol.KeyCommand] == protocol.CmdGetDoorStatus {
			if p, ok := m[protocol.FieldDoorStatus].(string); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r *recorder) count(cmd string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m[protocol.KeyCommand] == cmd {
			n++
		}
	}
	return n
}

// fastState is the test timing profile: quick phases, short hold, and
// a battery ticker parked out of the way.
func fastState() State {
	st := DefaultState()
	st.Timezone = "UTC"
	st.HoldTime = 0.3
	st.Timing = TimingProfile{
		RiseTime:       50 * time.Millisecond,
		SlowingTime:    20 * time.Millisecond,
		ClosingTopTime: 20 * time.Millisecond,
		ClosingMidTime: 20 * time.Millisecond,
	}
	st.Battery.UpdateInterval = time.Hour
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSim(t *testing.T, st State) (*Simulator, *recorder) {
	t.Helper()
	sim := New(st, testLogger(), nil)
	rec := &recorder{}
	sim.SetBroadcaster(rec)
	sim.Start(context.Background())
	t.Cleanup(sim.Stop)
	return sim, rec
}

// waitPhase polls the simulator until it reports the wanted phase.
func waitPhase(t *testing.T, sim *Simulator, want Phase, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sim.Snapshot().DoorStatus == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("door never reached %s (stuck at %s)", want, sim.Snapshot().DoorStatus)
}

// waitBroadcastPhase polls the recorder until the phase appears at
// least n times in the broadcast stream.
func waitBroadcastPhase(t *testing.T, rec *recorder, want string, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		seen := 0
		for _, p := range rec.phases() {
			if p == want {
				seen++
			}
		}
		if seen >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("broadcast stream never showed %s x%d (got %v)", want, n, rec.phases())
}

// assertSubsequence checks that want appears in got, in order.
func assertSubsequence(t *testing.T, got, want []string) {
	t.Helper()
	i := 0
	for _, p := range got {
		if i < len(want) && p == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("phase stream %v is missing subsequence %v", got, want)
	}
}

func TestFullOpenCycle(t *testing.T) {
	sim, rec := newTestSim(t, fastState())
	before := sim.Snapshot().TotalOpenCycles

	sim.OpenDoor(false)
	waitPhase(t, sim, PhaseClosed, 3*time.Second)

	assertSubsequence(t, rec.phases(), []string{
		"RISING", "SLOWING", "HOLDING",
		"CLOSING_TOP_OPEN", "CLOSING_MID_OPEN", "CLOSED",
	})

	after := sim.Snapshot().TotalOpenCycles
	if after != before+1 {
		t.Errorf("TotalOpenCycles = %d, want %d", after, before+1)
	}
}

func TestOpenAndHoldParksInKeepup(t *testing.T) {
	sim, _ := newTestSim(t, fastState())

	sim.OpenDoor(true)
	waitPhase(t, sim, PhaseKeepup, time.Second)

	// KEEPUP persists well past the hold time.
	time.Sleep(500 * time.Millisecond)
	if got := sim.Snapshot().DoorStatus; got != PhaseKeepup {
		t.Fatalf("phase = %s, want KEEPUP to persist", got)
	}

	sim.CloseDoor()
	waitPhase(t, sim, PhaseClosed, time.Second)
}

func TestOpenWhileOpenIsNoOp(t *testing.T) {
	sim, rec := newTestSim(t, fastState())

	sim.OpenDoor(true)
	waitPhase(t, sim, PhaseKeepup, time.Second)
	risings := rec.count(protocol.CmdGetDoorStatus)

	sim.OpenDoor(false)
	time.Sleep(100 * time.Millisecond)
	if got := sim.Snapshot().DoorStatus; got != PhaseKeepup {
		t.Errorf("phase = %s, open while KEEPUP must be a no-op", got)
	}
	if got := rec.count(protocol.CmdGetDoorStatus); got != risings {
		t.Errorf("status broadcasts grew %d -> %d, no-op must not broadcast", risings, got)
	}
}

func TestReversalDuringRising(t *testing.T) {
	st := fastState()
	st.Timing.RiseTime = 150 * time.Millisecond
	sim, rec := newTestSim(t, st)
	before := sim.Snapshot().TotalOpenCycles

	sim.OpenDoor(false)
	waitPhase(t, sim, PhaseRising, time.Second)
	sim.CloseDoor()
	waitPhase(t, sim, PhaseClosed, time.Second)

	phases := rec.phases()
	assertSubsequence(t, phases, []string{"RISING", "CLOSING_MID_OPEN", "CLOSED"})
	for _, p := range phases {
		if p == "CLOSING_TOP_OPEN" {
			t.Errorf("phase stream %v must skip CLOSING_TOP_OPEN when reversing from RISING", phases)
		}
	}
	if after := sim.Snapshot().TotalOpenCycles; after != before+1 {
		t.Errorf("TotalOpenCycles = %d, want %d", after, before+1)
	}
}

func TestReversalDuringClosingTopResumesAtSlowing(t *testing.T) {
	st := fastState()
	st.Timing.ClosingTopTime = 150 * time.Millisecond
	sim, rec := newTestSim(t, st)

	sim.OpenDoor(true)
	waitPhase(t, sim, PhaseKeepup, time.Second)
	sim.CloseDoor()
	waitPhase(t, sim, PhaseClosingTopOpen, time.Second)

	sim.OpenDoor(false)
	waitBroadcastPhase(t, rec, "HOLDING", 1, time.Second)

	// After the reversal the stream resumes at SLOWING, never RISING.
	phases := rec.phases()
	sawReversal := false
	for i, p := range phases {
		if p == "CLOSING_TOP_OPEN" && i+1 < len(phases) {
			next := phases[i+1]
			if next == "SLOWING" {
				sawReversal = true
			} else if next == "RISING" {
				t.Errorf("reversal from CLOSING_TOP_OPEN restarted at RISING: %v", phases)
			}
		}
	}
	if !sawReversal {
		t.Errorf("phase stream %v shows no CLOSING_TOP_OPEN -> SLOWING reversal", phases)
	}
}

func TestHoldExtensionAndAutoRetract(t *testing.T) {
	st := fastState()
	st.Timing.ClosingTopTime = 150 * time.Millisecond
	sim, rec := newTestSim(t, st)
	retractsBefore := sim.Snapshot().TotalAutoRetracts

	sim.OpenDoor(false)
	waitPhase(t, sim, PhaseHolding, time.Second)

	// A toggled-on inside sensor extends the hold indefinitely.
	sim.ActivateSensor(SensorInside, 0)
	time.Sleep(600 * time.Millisecond) // well past the 0.3 s hold time
	if got := sim.Snapshot().DoorStatus; got != PhaseHolding {
		t.Fatalf("phase = %s, blocking sensor must extend HOLDING", got)
	}

	// Release the sensor; the close sequence begins.
	sim.ActivateSensor(SensorInside, 0)
	waitPhase(t, sim, PhaseClosingTopOpen, 2*time.Second)

	// Obstruct during the closing phase: auto-retract reverses into a
	// fresh open cycle at RISING.
	sim.SimulateObstruction()
	waitBroadcastPhase(t, rec, "RISING", 2, 2*time.Second)

	snap := sim.Snapshot()
	if snap.TotalAutoRetracts != retractsBefore+1 {
		t.Errorf("TotalAutoRetracts = %d, want %d", snap.TotalAutoRetracts, retractsBefore+1)
	}
	if snap.InsideSensorActive || snap.OutsideSensorActive {
		t.Error("auto-retract must clear both sensor detection flags")
	}

	// With the obstruction cleared the retry cycle completes.
	waitPhase(t, sim, PhaseClosed, 3*time.Second)
}

func TestAutoRetractDisabledClosesThrough(t *testing.T) {
	st := fastState()
	st.Autoretract = false
	st.Timing.ClosingTopTime = 100 * time.Millisecond
	sim, _ := newTestSim(t, st)

	sim.OpenDoor(false)
	waitPhase(t, sim, PhaseClosingTopOpen, 2*time.Second)
	sim.SimulateObstruction()

	// Without autoretract the close completes despite the obstruction.
	waitPhase(t, sim, PhaseClosed, 2*time.Second)
	if got := sim.Snapshot().TotalAutoRetracts; got != DefaultState().TotalAutoRetracts {
		t.Errorf("TotalAutoRetracts = %d, must not change with autoretract off", got)
	}
}

func TestTriggerSensorGating(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*State)
		sensor Sensor
	}{
		{"power off", func(st *State) { st.Power = false }, SensorInside},
		{"command lockout", func(st *State) { st.CmdLockout = true }, SensorInside},
		{"inside disabled", func(st *State) { st.InsideEnabled = false }, SensorInside},
		{"outside disabled", func(st *State) { st.OutsideEnabled = false }, SensorOutside},
		{"safety lock", func(st *State) { st.SafetyLock = true }, SensorOutside},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := fastState()
			tc.mutate(&st)
			sim, rec := newTestSim(t, st)

			sim.TriggerSensor(tc.sensor)
			time.Sleep(100 * time.Millisecond)

			if got := sim.Snapshot().DoorStatus; got != PhaseClosed {
				t.Errorf("phase = %s, dropped trigger must not move the door", got)
			}
			if n := rec.count(protocol.CmdGetDoorStatus); n != 0 {
				t.Errorf("dropped trigger emitted %d status broadcasts", n)
			}
		})
	}
}

func TestTriggerSensorOpensWhenAllowed(t *testing.T) {
	sim, _ := newTestSim(t, fastState())

	sim.TriggerSensor(SensorOutside)
	waitPhase(t, sim, PhaseClosed, 3*time.Second)

	if got := sim.Snapshot().TotalOpenCycles; got != DefaultState().TotalOpenCycles+1 {
		t.Errorf("TotalOpenCycles = %d, want one completed cycle", got)
	}
}

func TestScheduleGating(t *testing.T) {
	st := fastState()
	st.Auto = true
	st.Schedules[0] = Schedule{
		Index: 0, Enabled: true,
		Days:      [7]bool{true, true, true, true, true, true, true},
		Inside:    true,
		StartHour: 9, EndHour: 17,
	}
	sim, _ := newTestSim(t, st)

	// 20:00 UTC: outside the window, the trigger is dropped.
	sim.now = func() time.Time {
		return time.Date(2025, time.July, 7, 20, 0, 0, 0, time.UTC)
	}
	sim.TriggerSensor(SensorInside)
	time.Sleep(100 * time.Millisecond)
	if got := sim.Snapshot().DoorStatus; got != PhaseClosed {
		t.Fatalf("phase = %s, trigger at 20:00 must be gated", got)
	}

	// 10:00 UTC: inside the window, the door opens.
	sim.now = func() time.Time {
		return time.Date(2025, time.July, 7, 10, 0, 0, 0, time.UTC)
	}
	sim.TriggerSensor(SensorInside)
	waitPhase(t, sim, PhaseRising, time.Second)
}

func TestScheduleGatingOffWhenAutoDisabled(t *testing.T) {
	st := fastState()
	st.Auto = false
	st.Schedules[0] = Schedule{
		Index: 0, Enabled: true, Inside: true,
		StartHour: 9, EndHour: 17,
		Days: [7]bool{true, true, true, true, true, true, true},
	}
	sim, _ := newTestSim(t, st)

	sim.now = func() time.Time {
		return time.Date(2025, time.July, 7, 20, 0, 0, 0, time.UTC)
	}
	sim.TriggerSensor(SensorInside)
	waitPhase(t, sim, PhaseRising, time.Second)
}

func TestSensorMutualExclusion(t *testing.T) {
	st := fastState()
	st.Power = false // keep the door parked for this test
	sim, _ := newTestSim(t, st)

	sim.ActivateSensor(SensorInside, 0)
	snap := sim.Snapshot()
	if !snap.InsideSensorActive || snap.OutsideSensorActive {
		t.Fatalf("after inside toggle: inside=%v outside=%v", snap.InsideSensorActive, snap.OutsideSensorActive)
	}

	sim.ActivateSensor(SensorOutside, 0)
	snap = sim.Snapshot()
	if snap.InsideSensorActive || !snap.OutsideSensorActive {
		t.Errorf("after outside toggle: inside=%v outside=%v, want exclusive", snap.InsideSensorActive, snap.OutsideSensorActive)
	}
}

func TestPulseSensorAutoClears(t *testing.T) {
	st := fastState()
	st.Power = false
	sim, _ := newTestSim(t, st)

	sim.ActivateSensor(SensorInside, 50*time.Millisecond)
	if !sim.Snapshot().InsideSensorActive {
		t.Fatal("pulse activation should raise the flag immediately")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !sim.Snapshot().InsideSensorActive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("pulse activation never cleared")
}

func TestStopLeavesPhaseInPlace(t *testing.T) {
	st := fastState()
	st.Timing.RiseTime = 300 * time.Millisecond
	sim := New(st, testLogger(), nil)
	sim.SetBroadcaster(&recorder{})
	sim.Start(context.Background())

	sim.OpenDoor(false)
	waitPhase(t, sim, PhaseRising, time.Second)
	sim.Stop()

	if got := sim.Snapshot().DoorStatus; got != PhaseRising {
		t.Errorf("phase after Stop = %s, cancellation must leave the phase in place", got)
	}
}
