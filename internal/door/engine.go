package door

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// holdPollInterval is how often the hold loop re-checks the blocking
// sensors and counts down the remaining hold time.
const holdPollInterval = 100 * time.Millisecond

// Broadcaster delivers a door-originated message to every connected
// peer. The wire server's hub implements it; tests supply recorders.
type Broadcaster interface {
	Broadcast(msg protocol.Message)
}

// Simulator owns the authoritative door state and drives it in real
// time: at most one motion activity, one battery ticker, and timers
// for pulsed sensor activations. All mutation goes through its mutex;
// broadcasts are emitted after the mutex is released.
type Simulator struct {
	logger *slog.Logger
	bus    *events.Bus

	mu     sync.Mutex
	state  State
	motion *motionRun
	bc     Broadcaster

	// now is the clock used for schedule evaluation; tests replace it.
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// motionRun is one in-flight motion activity. Reversal commands cancel
// it and start a replacement; the generation check in setPhase keeps a
// cancelled run from mutating state it no longer owns.
type motionRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a simulator in the given initial state. A nil logger
// falls back to slog.Default; a nil bus disables event publication.
func New(state State, logger *slog.Logger, bus *events.Bus) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if state.Schedules == nil {
		state.Schedules = make(map[int]Schedule)
	}
	return &Simulator{
		logger: logger,
		bus:    bus,
		state:  state,
		now:    time.Now,
	}
}

// SetBroadcaster wires the outbound fan-out. Must be called before
// Start; a nil broadcaster silently discards messages (useful in
// tests and while no server is attached).
func (s *Simulator) SetBroadcaster(bc Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bc = bc
}

// Start launches the background activities. The simulator runs until
// Stop is called or ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runBattery(s.ctx)
	s.logger.Info("door simulator started",
		"phase", s.Snapshot().DoorStatus,
	)
}

// Stop cancels the motion and battery activities and waits for them.
// The door is left in whatever phase it was in; a later Start picks up
// from there and the reversal rules apply normally.
func (s *Simulator) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("door simulator stopped")
}

// Snapshot returns a deep copy of the current state.
func (s *Simulator) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// ---------------------------------------------------------------------
// Door control
// ---------------------------------------------------------------------

// OpenDoor starts or redirects an open cycle. State-aware:
//   - HOLDING/KEEPUP or RISING/SLOWING: no-op (already open or opening)
//   - CLOSING_TOP_OPEN: reverse, resuming at SLOWING
//   - CLOSING_MID_OPEN: reverse, resuming at RISING
//   - CLOSED: full sequence
//
// With hold set the door parks in KEEPUP instead of timing out.
// Preconditions (power, command lockout) are the caller's concern:
// the wire handlers reject, the host-side API does not.
func (s *Simulator) OpenDoor(hold bool) {
	s.mu.Lock()
	var m *motionRun
	skipRising := false
	switch s.state.DoorStatus {
	case PhaseHolding, PhaseKeepup:
		s.mu.Unlock()
		s.logger.Debug("open command ignored", "reason", "already open")
		return
	case PhaseRising, PhaseSlowing:
		s.mu.Unlock()
		s.logger.Debug("open command ignored", "reason", "already opening")
		return
	case PhaseClosingTopOpen:
		skipRising = true
		m = s.beginMotionLocked(PhaseSlowing)
		s.logger.Info("reversing close at top, continuing to open")
	case PhaseClosingMidOpen:
		m = s.beginMotionLocked(PhaseRising)
		s.logger.Info("reversing close at mid, continuing to open")
	default:
		m = s.beginMotionLocked(PhaseRising)
	}
	phase := s.state.DoorStatus
	s.mu.Unlock()

	s.broadcastDoorStatus(phase)
	go s.runMotion(m, func() { s.openSequence(m, skipRising, hold) })
}

// CloseDoor starts or redirects a close cycle. State-aware:
//   - CLOSED or CLOSING_*: no-op
//   - RISING: reverse straight into CLOSING_MID_OPEN
//   - SLOWING: reverse into CLOSING_TOP_OPEN
//   - HOLDING/KEEPUP: full close sequence
func (s *Simulator) CloseDoor() {
	s.mu.Lock()
	var m *motionRun
	skipTop := false
	switch s.state.DoorStatus {
	case PhaseClosed:
		s.mu.Unlock()
		s.logger.Debug("close command ignored", "reason", "already closed")
		return
	case PhaseClosingTopOpen, PhaseClosingMidOpen:
		s.mu.Unlock()
		s.logger.Debug("close command ignored", "reason", "already closing")
		return
	case PhaseRising:
		skipTop = true
		m = s.beginMotionLocked(PhaseClosingMidOpen)
		s.logger.Info("reversing open at rising, closing from mid")
	case PhaseSlowing:
		m = s.beginMotionLocked(PhaseClosingTopOpen)
		s.logger.Info("reversing open at slowing, closing from top")
	default: // HOLDING, KEEPUP
		m = s.beginMotionLocked(PhaseClosingTopOpen)
	}
	phase := s.state.DoorStatus
	s.mu.Unlock()

	s.broadcastDoorStatus(phase)
	go s.runMotion(m, func() { s.closeSequence(m, skipTop) })
}

// ---------------------------------------------------------------------
// Sensors
// ---------------------------------------------------------------------

// TriggerSensor simulates a pet tripping a sensor. The trigger is
// silently dropped when power is off, command lockout is engaged, the
// sensor is disabled, the safety lock blocks the outside sensor, or
// schedule enforcement denies the current time. An allowed trigger on
// a closed door launches a non-hold open cycle; triggers mid-motion
// only influence the in-flight cycle through the blocking-sensor
// logic.
func (s *Simulator) TriggerSensor(sensor Sensor) {
	s.mu.Lock()
	if reason := s.sensorDeniedLocked(sensor); reason != "" {
		s.mu.Unlock()
		s.logger.Info("sensor trigger ignored", "sensor", sensor, "reason", reason)
		s.bus.Publish(events.Event{
			Source: events.SourceDoor,
			Kind:   events.KindSensor,
			Data:   map[string]any{"sensor": string(sensor), "dropped": reason},
		})
		return
	}
	if s.state.DoorStatus != PhaseClosed {
		s.mu.Unlock()
		return
	}
	m := s.beginMotionLocked(PhaseRising)
	s.mu.Unlock()

	s.logger.Info("sensor triggered, opening door", "sensor", sensor)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSensor,
		Data:   map[string]any{"sensor": string(sensor), "triggered": true},
	})
	s.broadcastDoorStatus(PhaseRising)
	go s.runMotion(m, func() { s.openSequence(m, false, false) })
}

// ActivateSensor sets a sensor's detection flag. duration zero toggles
// the flag; a positive duration sets it and schedules deactivation.
// Activation is mutually exclusive: raising one sensor clears the
// other. An activation landing on a closed door behaves like
// TriggerSensor, launching an open cycle when the gating allows it.
func (s *Simulator) ActivateSensor(sensor Sensor, duration time.Duration) {
	s.mu.Lock()
	active := s.flipSensorLocked(sensor, duration == 0)

	var m *motionRun
	if active && s.state.DoorStatus == PhaseClosed {
		if s.sensorDeniedLocked(sensor) == "" {
			m = s.beginMotionLocked(PhaseRising)
		}
	}
	s.mu.Unlock()

	s.logger.Info("sensor activation",
		"sensor", sensor,
		"active", active,
		"duration", duration,
	)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSensor,
		Data:   map[string]any{"sensor": string(sensor), "active": active},
	})

	if active && duration > 0 {
		time.AfterFunc(duration, func() { s.deactivateSensor(sensor) })
	}
	if m != nil {
		s.logger.Info("sensor activation triggering door cycle", "sensor", sensor)
		s.broadcastDoorStatus(PhaseRising)
		go s.runMotion(m, func() { s.openSequence(m, false, false) })
	}
}

// flipSensorLocked applies the mutual-exclusion and toggle/pulse rules
// and reports the sensor's resulting active flag.
func (s *Simulator) flipSensorLocked(sensor Sensor, toggle bool) bool {
	switch sensor {
	case SensorOutside:
		s.state.InsideSensorActive = false
		if toggle {
			s.state.OutsideSensorActive = !s.state.OutsideSensorActive
		} else {
			s.state.OutsideSensorActive = true
		}
		return s.state.OutsideSensorActive
	default:
		s.state.OutsideSensorActive = false
		if toggle {
			s.state.InsideSensorActive = !s.state.InsideSensorActive
		} else {
			s.state.InsideSensorActive = true
		}
		return s.state.InsideSensorActive
	}
}

// deactivateSensor clears a pulsed activation once its duration ends.
func (s *Simulator) deactivateSensor(sensor Sensor) {
	s.mu.Lock()
	cleared := false
	switch sensor {
	case SensorInside:
		if s.state.InsideSensorActive {
			s.state.InsideSensorActive = false
			cleared = true
		}
	case SensorOutside:
		if s.state.OutsideSensorActive {
			s.state.OutsideSensorActive = false
			cleared = true
		}
	}
	s.mu.Unlock()

	if cleared {
		s.logger.Info("sensor deactivated", "sensor", sensor, "reason", "duration expired")
		s.bus.Publish(events.Event{
			Source: events.SourceDoor,
			Kind:   events.KindSensor,
			Data:   map[string]any{"sensor": string(sensor), "active": false},
		})
	}
}

// SimulateObstruction raises the inside detection flag indefinitely.
// While the door is closed or opening it will block the eventual
// close; during a closing phase it triggers auto-retract when enabled.
func (s *Simulator) SimulateObstruction() {
	s.mu.Lock()
	s.state.OutsideSensorActive = false
	s.state.InsideSensorActive = true
	phase := s.state.DoorStatus
	s.mu.Unlock()

	switch phase {
	case PhaseClosed, PhaseRising, PhaseSlowing:
		s.logger.Info("obstruction set, will block close once the door is up", "phase", phase)
	case PhaseClosingTopOpen, PhaseClosingMidOpen:
		s.logger.Info("obstruction during close, will trigger retract", "phase", phase)
	default:
		s.logger.Info("obstruction set, blocking close", "phase", phase)
	}
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSensor,
		Data:   map[string]any{"sensor": string(SensorInside), "active": true},
	})
}

// SetPetInDoorway marks a pet standing in the opening, holding the
// inside sensor active until the pet leaves.
func (s *Simulator) SetPetInDoorway(present bool) {
	s.mu.Lock()
	s.state.PetInDoorway = present
	if present {
		s.state.OutsideSensorActive = false
		s.state.InsideSensorActive = true
	} else {
		s.state.InsideSensorActive = false
	}
	s.mu.Unlock()
	s.logger.Info("pet presence changed", "in_doorway", present)
}

// sensorDeniedLocked returns the reason a sensor trigger must be
// dropped, or "" when the trigger is allowed.
func (s *Simulator) sensorDeniedLocked(sensor Sensor) string {
	if !s.state.Power {
		return "power off"
	}
	if s.state.CmdLockout {
		return "command lockout"
	}
	switch sensor {
	case SensorInside:
		if !s.state.InsideEnabled {
			return "sensor disabled"
		}
	case SensorOutside:
		if !s.state.OutsideEnabled {
			return "sensor disabled"
		}
		if s.state.SafetyLock {
			return "safety lock"
		}
	}
	if !s.scheduleAllowsLocked(sensor) {
		return "outside schedule"
	}
	return ""
}

// scheduleAllowsLocked applies schedule enforcement: with auto mode on
// and at least one schedule configured, some enabled entry must cover
// the sensor at the current local time. Otherwise all triggers pass.
func (s *Simulator) scheduleAllowsLocked(sensor Sensor) bool {
	if !s.state.Auto || len(s.state.Schedules) == 0 {
		return true
	}
	loc, err := time.LoadLocation(s.state.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := s.now().In(loc)
	for _, sc := range s.state.Schedules {
		if sc.AllowsAt(sensor, now) {
			return true
		}
	}
	return false
}

// blockingLocked reports whether an active, enabled sensor is holding
// the door open: inside needs only its enable flag, outside also
// requires the safety lock to be off, and command lockout suppresses
// both.
func (s *Simulator) blockingLocked() bool {
	if s.state.CmdLockout {
		return false
	}
	if s.state.InsideSensorActive && s.state.InsideEnabled {
		return true
	}
	if s.state.OutsideSensorActive && s.state.OutsideEnabled && !s.state.SafetyLock {
		return true
	}
	return false
}

// isSensorBlockingClose is the polled form of blockingLocked.
func (s *Simulator) isSensorBlockingClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockingLocked()
}

// ---------------------------------------------------------------------
// Motion machinery
// ---------------------------------------------------------------------

// beginMotionLocked cancels any in-flight motion, sets the starting
// phase, and registers a fresh run. Caller holds the mutex and is
// responsible for broadcasting the new phase after unlocking and for
// launching runMotion.
func (s *Simulator) beginMotionLocked(start Phase) *motionRun {
	if s.motion != nil {
		s.motion.cancel()
	}
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m := &motionRun{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.motion = m
	s.state.DoorStatus = start
	s.wg.Add(1)
	return m
}

// runMotion hosts one motion activity's goroutine.
func (s *Simulator) runMotion(m *motionRun, body func()) {
	defer s.wg.Done()
	defer close(m.done)
	defer func() {
		s.mu.Lock()
		if s.motion == m {
			s.motion = nil
		}
		s.mu.Unlock()
	}()
	body()
}

// setPhase advances the door to the next phase if this run still owns
// the motion. Returns false once the run has been superseded or
// cancelled.
func (s *Simulator) setPhase(m *motionRun, phase Phase) bool {
	s.mu.Lock()
	if s.motion != m || m.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.state.DoorStatus = phase
	s.mu.Unlock()
	s.broadcastDoorStatus(phase)
	return true
}

func (s *Simulator) timing() TimingProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Timing
}

func (s *Simulator) holdDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.state.HoldTime * float64(time.Second))
}

// openSequence runs the open cycle from the phase the caller already
// set (RISING, or SLOWING when a close was reversed at the top). On a
// timed hold it flows into the close sequence; with hold set it parks
// in KEEPUP and the run ends.
func (s *Simulator) openSequence(m *motionRun, skipRising, hold bool) {
	t := s.timing()

	if !skipRising {
		if !sleepCtx(m.ctx, t.RiseTime) {
			return
		}
		if !s.setPhase(m, PhaseSlowing) {
			return
		}
	}
	if !sleepCtx(m.ctx, t.SlowingTime) {
		return
	}

	if hold {
		s.setPhase(m, PhaseKeepup)
		return
	}
	if !s.setPhase(m, PhaseHolding) {
		return
	}

	// Hold until the timer runs out with no sensor blocking. A
	// blocking sensor resets the countdown to the full hold time.
	remaining := s.holdDuration()
	for {
		if s.isSensorBlockingClose() {
			remaining = s.holdDuration()
		} else if remaining <= 0 {
			break
		}
		if !sleepCtx(m.ctx, holdPollInterval) {
			return
		}
		remaining -= holdPollInterval
	}

	if !s.setPhase(m, PhaseClosingTopOpen) {
		return
	}
	s.closeSequence(m, false)
}

// closeSequence runs the close cycle from the phase the caller already
// set (CLOSING_TOP_OPEN, or CLOSING_MID_OPEN when an open was reversed
// while rising). After each phase timer the blocking check runs; with
// autoretract on, a blocking sensor aborts the close and reverses into
// a fresh open cycle.
func (s *Simulator) closeSequence(m *motionRun, skipTop bool) {
	t := s.timing()

	if !skipTop {
		if !sleepCtx(m.ctx, t.ClosingTopTime) {
			return
		}
		if s.autoRetract(m) {
			if s.setPhase(m, PhaseRising) {
				s.openSequence(m, false, false)
			}
			return
		}
		if !s.setPhase(m, PhaseClosingMidOpen) {
			return
		}
	}
	if !sleepCtx(m.ctx, t.ClosingMidTime) {
		return
	}
	if s.autoRetract(m) {
		if s.setPhase(m, PhaseRising) {
			s.openSequence(m, false, false)
		}
		return
	}

	s.mu.Lock()
	if s.motion != m || m.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state.DoorStatus = PhaseClosed
	s.state.TotalOpenCycles++
	cycles := s.state.TotalOpenCycles
	retracts := s.state.TotalAutoRetracts
	s.mu.Unlock()

	s.broadcastDoorStatus(PhaseClosed)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindStats,
		Data:   map[string]any{"open_cycles": cycles, "auto_retracts": retracts},
	})
}

// autoRetract checks for a blocking sensor at a closing phase
// boundary. When blocking and autoretract is enabled it clears both
// detection flags, counts the retract, and reports true so the caller
// reverses into an open cycle.
func (s *Simulator) autoRetract(m *motionRun) bool {
	s.mu.Lock()
	if s.motion != m || m.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if !s.blockingLocked() || !s.state.Autoretract {
		s.mu.Unlock()
		return false
	}
	s.state.InsideSensorActive = false
	s.state.OutsideSensorActive = false
	s.state.TotalAutoRetracts++
	cycles := s.state.TotalOpenCycles
	retracts := s.state.TotalAutoRetracts
	s.mu.Unlock()

	s.logger.Info("sensor blocking close, auto-retracting")
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindStats,
		Data:   map[string]any{"open_cycles": cycles, "auto_retracts": retracts},
	})
	return true
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
