package door

import (
	"testing"
	"time"

	"github.com/nugget/petdoor-sim/internal/protocol"
)

// newBatterySim builds a simulator without starting the background
// activities; tests drive batteryTick directly.
func newBatterySim(t *testing.T, st State) (*Simulator, *recorder) {
	t.Helper()
	sim := New(st, testLogger(), nil)
	rec := &recorder{}
	sim.SetBroadcaster(rec)
	return sim, rec
}

func TestDischargeTick(t *testing.T) {
	st := fastState()
	st.ACPresent = false
	st.BatteryPercent = 50
	st.Battery = BatteryConfig{
		DischargeRate:  2.0, // %/min
		UpdateInterval: 30 * time.Second,
	}
	sim, rec := newBatterySim(t, st)

	sim.batteryTick() // 2 %/min x 0.5 min = 1%
	if got := sim.Snapshot().BatteryPercent; got != 49 {
		t.Errorf("BatteryPercent = %d, want 49", got)
	}
	if n := rec.count(protocol.CmdGetDoorBattery); n != 1 {
		t.Errorf("battery broadcasts = %d, want 1", n)
	}
}

func TestChargeTickClampsAt100(t *testing.T) {
	st := fastState()
	st.ACPresent = true
	st.BatteryPercent = 99
	st.Battery = BatteryConfig{
		ChargeRate:     10.0,
		UpdateInterval: 60 * time.Second,
	}
	sim, _ := newBatterySim(t, st)

	sim.batteryTick()
	if got := sim.Snapshot().BatteryPercent; got != 100 {
		t.Errorf("BatteryPercent = %d, want clamp at 100", got)
	}
	// A further tick changes nothing and stays silent.
	sim.batteryTick()
	if got := sim.Snapshot().BatteryPercent; got != 100 {
		t.Errorf("BatteryPercent = %d after saturated tick, want 100", got)
	}
}

func TestDischargeClampsAtZero(t *testing.T) {
	st := fastState()
	st.ACPresent = false
	st.BatteryPercent = 1
	st.NotifyLowBattery = false
	st.Battery = BatteryConfig{
		DischargeRate:  10.0,
		UpdateInterval: 60 * time.Second,
	}
	sim, _ := newBatterySim(t, st)

	sim.batteryTick()
	if got := sim.Snapshot().BatteryPercent; got != 0 {
		t.Errorf("BatteryPercent = %d, want clamp at 0", got)
	}
}

func TestNoTickWithoutBattery(t *testing.T) {
	st := fastState()
	st.BatteryPresent = false
	st.ACPresent = false
	st.BatteryPercent = 50
	st.Battery = BatteryConfig{
		DischargeRate:  10.0,
		UpdateInterval: 60 * time.Second,
	}
	sim, rec := newBatterySim(t, st)

	sim.batteryTick()
	if got := sim.Snapshot().BatteryPercent; got != 50 {
		t.Errorf("BatteryPercent = %d, absent battery must not tick", got)
	}
	if n := rec.count(protocol.CmdGetDoorBattery); n != 0 {
		t.Errorf("battery broadcasts = %d, want none", n)
	}
}

func TestLowBatteryNotificationOnTick(t *testing.T) {
	st := fastState()
	st.ACPresent = false
	st.BatteryPercent = 21
	st.NotifyLowBattery = true
	st.Battery = BatteryConfig{
		DischargeRate:  1.0,
		UpdateInterval: 60 * time.Second,
	}
	sim, rec := newBatterySim(t, st)

	sim.batteryTick() // 21 -> 20 crosses the threshold
	if n := rec.count(protocol.NotifyLowBattery); n != 1 {
		t.Fatalf("low battery notifications = %d, want 1", n)
	}

	sim.batteryTick() // 20 -> 19 stays below, no second notification
	if n := rec.count(protocol.NotifyLowBattery); n != 1 {
		t.Errorf("low battery notifications = %d after second tick, want still 1", n)
	}
}

func TestLowBatteryNotificationDisabled(t *testing.T) {
	st := fastState()
	st.ACPresent = false
	st.BatteryPercent = 21
	st.NotifyLowBattery = false
	st.Battery = BatteryConfig{
		DischargeRate:  1.0,
		UpdateInterval: 60 * time.Second,
	}
	sim, rec := newBatterySim(t, st)

	sim.batteryTick()
	if n := rec.count(protocol.NotifyLowBattery); n != 0 {
		t.Errorf("low battery notifications = %d with flag off, want 0", n)
	}
}

func TestSetBatteryClampsAndNotifies(t *testing.T) {
	st := fastState()
	st.BatteryPercent = 80
	sim, rec := newBatterySim(t, st)

	sim.SetBattery(150)
	if got := sim.Snapshot().BatteryPercent; got != 100 {
		t.Errorf("BatteryPercent = %d, want clamp at 100", got)
	}

	sim.SetBattery(-5)
	if got := sim.Snapshot().BatteryPercent; got != 0 {
		t.Errorf("BatteryPercent = %d, want clamp at 0", got)
	}
	// 100 -> 0 crossed the threshold downward.
	if n := rec.count(protocol.NotifyLowBattery); n != 1 {
		t.Errorf("low battery notifications = %d, want 1", n)
	}
}

func TestReportedPercentZeroWithoutBattery(t *testing.T) {
	st := fastState()
	st.BatteryPresent = false
	st.BatteryPercent = 77
	if got := st.ReportedBatteryPercent(); got != 0 {
		t.Errorf("ReportedBatteryPercent() = %d, want 0 when battery absent", got)
	}
}

func TestSetACPresentBroadcastsOnChange(t *testing.T) {
	sim, rec := newBatterySim(t, fastState())

	sim.SetACPresent(true) // unchanged: default is AC present
	if n := rec.count(protocol.CmdGetDoorBattery); n != 0 {
		t.Errorf("battery broadcasts = %d for unchanged AC, want 0", n)
	}

	sim.SetACPresent(false)
	if n := rec.count(protocol.CmdGetDoorBattery); n != 1 {
		t.Errorf("battery broadcasts = %d after AC change, want 1", n)
	}
}

func TestRateSettersClamp(t *testing.T) {
	sim, _ := newBatterySim(t, fastState())

	sim.SetChargeRate(-1)
	sim.SetDischargeRate(-2)
	snap := sim.Snapshot()
	if snap.Battery.ChargeRate != 0 || snap.Battery.DischargeRate != 0 {
		t.Errorf("rates = %v/%v, want clamped to 0", snap.Battery.ChargeRate, snap.Battery.DischargeRate)
	}
}
