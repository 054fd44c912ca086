// Package door models the simulated Power Pet Door: the authoritative
// device state, the time-driven motion engine, schedule gating, and
// the battery charge/discharge ticker. The wire server and the control
// channel both drive the same Simulator; broadcasts flow out through a
// host-provided Broadcaster.
package door

import (
	"time"

	"github.com/nugget/petdoor-sim/internal/protocol"
)

// Phase is one of the door's motion states.
type Phase string

// Motion phases, in open-cycle order. HOLDING times out into the close
// sequence; KEEPUP persists until an explicit close.
const (
	PhaseClosed         Phase = "CLOSED"
	PhaseRising         Phase = "RISING"
	PhaseSlowing        Phase = "SLOWING"
	PhaseHolding        Phase = "HOLDING"
	PhaseKeepup         Phase = "KEEPUP"
	PhaseClosingTopOpen Phase = "CLOSING_TOP_OPEN"
	PhaseClosingMidOpen Phase = "CLOSING_MID_OPEN"
)

// Sensor identifies one of the door's two pet sensors.
type Sensor string

// Sensor names as they appear in triggers and schedule entries.
const (
	SensorInside  Sensor = "inside"
	SensorOutside Sensor = "outside"
)

// LowBatteryThreshold is the percentage at or below which a downward
// battery change emits the low-battery notification.
const LowBatteryThreshold = 20

// TimingProfile fixes the duration of each timed motion phase.
type TimingProfile struct {
	RiseTime       time.Duration
	SlowingTime    time.Duration
	ClosingTopTime time.Duration
	ClosingMidTime time.Duration
}

// DefaultTiming returns the hardware-like motion profile.
func DefaultTiming() TimingProfile {
	return TimingProfile{
		RiseTime:       1500 * time.Millisecond,
		SlowingTime:    300 * time.Millisecond,
		ClosingTopTime: 400 * time.Millisecond,
		ClosingMidTime: 400 * time.Millisecond,
	}
}

// BatteryConfig controls the background battery simulation. Rates are
// percent per minute; zero disables that direction.
type BatteryConfig struct {
	ChargeRate     float64
	DischargeRate  float64
	UpdateInterval time.Duration
}

// DefaultBatteryConfig returns a slow, visible simulation: one tick a
// minute, charging twice as fast as it drains.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		ChargeRate:     2.0,
		DischargeRate:  1.0,
		UpdateInterval: 60 * time.Second,
	}
}

// State is the authoritative device state. It is owned by the
// Simulator and guarded by its mutex; external callers work with
// copies from Simulator.Snapshot.
type State struct {
	DoorStatus Phase

	Power          bool
	InsideEnabled  bool
	OutsideEnabled bool
	Auto           bool
	Autoretract    bool
	SafetyLock     bool
	CmdLockout     bool

	// Sensor detection flags, distinct from the enable flags above.
	// Never both true.
	InsideSensorActive  bool
	OutsideSensorActive bool
	PetInDoorway        bool

	BatteryPercent int
	BatteryPresent bool
	ACPresent      bool

	Timezone string
	// HoldTime is stored in seconds; the wire carries centiseconds.
	HoldTime                  float64
	SensorTriggerVoltage      int
	SleepSensorTriggerVoltage int

	TotalOpenCycles   int
	TotalAutoRetracts int

	FWMajor    int
	FWMinor    int
	FWPatch    int
	HWVersion  int
	HWRevision int

	NotifyInsideOn   bool
	NotifyInsideOff  bool
	NotifyOutsideOn  bool
	NotifyOutsideOff bool
	NotifyLowBattery bool

	Schedules map[int]Schedule

	Timing  TimingProfile
	Battery BatteryConfig
}

// DefaultState returns the power-on state of a factory door.
func DefaultState() State {
	return State{
		DoorStatus:                PhaseClosed,
		Power:                     true,
		InsideEnabled:             true,
		OutsideEnabled:            true,
		Auto:                      true,
		Autoretract:               true,
		BatteryPercent:            85,
		BatteryPresent:            true,
		ACPresent:                 true,
		Timezone:                  "America/New_York",
		HoldTime:                  10,
		SensorTriggerVoltage:      100,
		SleepSensorTriggerVoltage: 50,
		TotalOpenCycles:           1234,
		TotalAutoRetracts:         56,
		FWMajor:                   1,
		FWMinor:                   2,
		FWPatch:                   3,
		HWVersion:                 2,
		HWRevision:                1,
		NotifyInsideOn:            true,
		NotifyOutsideOn:           true,
		NotifyLowBattery:          true,
		Schedules:                 make(map[int]Schedule),
		Timing:                    DefaultTiming(),
		Battery:                   DefaultBatteryConfig(),
	}
}

// clone returns a deep copy safe to hand outside the mutex.
func (s State) clone() State {
	out := s
	out.Schedules = make(map[int]Schedule, len(s.Schedules))
	for k, v := range s.Schedules {
		out.Schedules[k] = v
	}
	return out
}

// SettingsMap renders the full settings block in wire form. Hold time
// is converted to centiseconds here.
func (s State) SettingsMap() map[string]any {
	return map[string]any{
		protocol.FieldPower:                     protocol.Bool01(s.Power),
		protocol.FieldInside:                    protocol.Bool01(s.InsideEnabled),
		protocol.FieldOutside:                   protocol.Bool01(s.OutsideEnabled),
		protocol.FieldAuto:                      protocol.Bool01(s.Auto),
		protocol.FieldSafetyLock:                protocol.Bool01(s.SafetyLock),
		protocol.FieldCmdLockout:                protocol.Bool01(s.CmdLockout),
		protocol.FieldAutoretract:               protocol.Bool01(s.Autoretract),
		protocol.FieldTZ:                        s.Timezone,
		protocol.FieldHoldTime:                  s.HoldTimeCentiseconds(),
		protocol.FieldSensorTriggerVoltage:      s.SensorTriggerVoltage,
		protocol.FieldSleepSensorTriggerVoltage: s.SleepSensorTriggerVoltage,
	}
}

// NotificationsMap renders the notification enable flags in wire form.
func (s State) NotificationsMap() map[string]any {
	return map[string]any{
		protocol.FieldNotifyInsideOn:   protocol.Bool01(s.NotifyInsideOn),
		protocol.FieldNotifyInsideOff:  protocol.Bool01(s.NotifyInsideOff),
		protocol.FieldNotifyOutsideOn:  protocol.Bool01(s.NotifyOutsideOn),
		protocol.FieldNotifyOutsideOff: protocol.Bool01(s.NotifyOutsideOff),
		protocol.FieldNotifyLowBattery: protocol.Bool01(s.NotifyLowBattery),
	}
}

// HoldTimeCentiseconds converts the stored hold time to the wire unit.
func (s State) HoldTimeCentiseconds() int {
	return int(s.HoldTime * 100)
}

// ReportedBatteryPercent is the percentage put on the wire: zero when
// no battery is installed.
func (s State) ReportedBatteryPercent() int {
	if !s.BatteryPresent {
		return 0
	}
	return s.BatteryPercent
}

// ScheduleList returns all schedules in wire form, ordered by index.
func (s State) ScheduleList() []map[string]any {
	indexes := make([]int, 0, len(s.Schedules))
	for idx := range s.Schedules {
		indexes = append(indexes, idx)
	}
	// Small n; insertion sort keeps this dependency-free.
	for i := 1; i < len(indexes); i++ {
		for j := i; j > 0 && indexes[j-1] > indexes[j]; j-- {
			indexes[j-1], indexes[j] = indexes[j], indexes[j-1]
		}
	}
	out := make([]map[string]any, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, s.Schedules[idx].WireMap())
	}
	return out
}

// clampPercent bounds a battery percentage to [0, 100].
func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
