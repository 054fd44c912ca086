package door

import (
	"context"
	"time"

	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// runBattery is the background battery activity: wait one update
// interval, apply the charge or discharge delta, and broadcast when
// the visible percentage moves. Runs until ctx is cancelled.
func (s *Simulator) runBattery(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		interval := s.state.Battery.UpdateInterval
		s.mu.Unlock()
		if interval <= 0 {
			interval = time.Second
		}
		if !sleepCtx(ctx, interval) {
			return
		}
		s.batteryTick()
	}
}

// batteryTick applies one interval's worth of charge or discharge.
// Rates are percent per minute, intervals are seconds, so the delta is
// rate x interval/60. The stored percentage is integral; a delta that
// does not move the integer part leaves the state untouched.
func (s *Simulator) batteryTick() {
	s.mu.Lock()
	if !s.state.BatteryPresent {
		s.mu.Unlock()
		return
	}

	cfg := s.state.Battery
	minutes := cfg.UpdateInterval.Minutes()
	old := s.state.BatteryPercent

	var crossedLow bool
	switch {
	case s.state.ACPresent && cfg.ChargeRate > 0:
		next := float64(old) + cfg.ChargeRate*minutes
		if next > 100 {
			next = 100
		}
		if int(next) == old {
			s.mu.Unlock()
			return
		}
		s.state.BatteryPercent = int(next)
	case !s.state.ACPresent && cfg.DischargeRate > 0:
		next := float64(old) - cfg.DischargeRate*minutes
		if next < 0 {
			next = 0
		}
		if int(next) == old {
			s.mu.Unlock()
			return
		}
		s.state.BatteryPercent = int(next)
		crossedLow = old > LowBatteryThreshold &&
			s.state.BatteryPercent <= LowBatteryThreshold &&
			s.state.NotifyLowBattery
	default:
		s.mu.Unlock()
		return
	}

	pct := s.state.BatteryPercent
	s.mu.Unlock()

	s.logger.Debug("battery level changed", "from", old, "to", pct)
	s.BroadcastBattery()
	if crossedLow {
		s.notifyLowBattery(pct)
	}
}

// SetBattery sets the battery percentage directly, clamped to
// [0, 100]. Broadcasts the new status and emits the low-battery
// notification on a downward threshold crossing.
func (s *Simulator) SetBattery(percent int) {
	percent = clampPercent(percent)
	s.mu.Lock()
	old := s.state.BatteryPercent
	s.state.BatteryPercent = percent
	crossedLow := old > LowBatteryThreshold &&
		percent <= LowBatteryThreshold &&
		s.state.NotifyLowBattery
	s.mu.Unlock()

	s.logger.Info("battery set", "from", old, "to", percent)
	s.BroadcastBattery()
	if crossedLow {
		s.notifyLowBattery(percent)
	}
}

// SetACPresent connects or disconnects AC power. No-op when unchanged.
func (s *Simulator) SetACPresent(present bool) {
	s.mu.Lock()
	if s.state.ACPresent == present {
		s.mu.Unlock()
		return
	}
	s.state.ACPresent = present
	s.mu.Unlock()

	s.logger.Info("ac power changed", "present", present)
	s.BroadcastBattery()
}

// SetBatteryPresent installs or removes the battery. No-op when
// unchanged.
func (s *Simulator) SetBatteryPresent(present bool) {
	s.mu.Lock()
	if s.state.BatteryPresent == present {
		s.mu.Unlock()
		return
	}
	s.state.BatteryPresent = present
	s.mu.Unlock()

	s.logger.Info("battery presence changed", "present", present)
	s.BroadcastBattery()
}

// SetChargeRate sets the charge rate in percent per minute; negative
// values clamp to zero (charging disabled).
func (s *Simulator) SetChargeRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	s.mu.Lock()
	s.state.Battery.ChargeRate = rate
	s.mu.Unlock()
	s.logger.Info("charge rate set", "percent_per_min", rate)
}

// SetDischargeRate sets the discharge rate in percent per minute;
// negative values clamp to zero (discharge disabled).
func (s *Simulator) SetDischargeRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	s.mu.Lock()
	s.state.Battery.DischargeRate = rate
	s.mu.Unlock()
	s.logger.Info("discharge rate set", "percent_per_min", rate)
}

// notifyLowBattery emits the dedicated low-battery notification to all
// peers. Callers have already checked the enable flag.
func (s *Simulator) notifyLowBattery(percent int) {
	msg := protocol.NewReply(protocol.NotifyLowBattery)
	msg[protocol.FieldBatteryPercent] = percent
	s.broadcast(msg)
	s.logger.Info("low battery notification", "percent", percent)
	s.bus.Publish(events.Event{
		Source: events.SourceBattery,
		Kind:   events.KindLowBattery,
		Data:   map[string]any{"percent": percent},
	})
}
