package door

import (
	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// NotificationSettings mirrors the five notification enable flags.
type NotificationSettings struct {
	InsideOn   bool
	InsideOff  bool
	OutsideOn  bool
	OutsideOff bool
	LowBattery bool
}

// setBool applies one boolean setting and emits the single-setting
// broadcast plus a bus event. Setting a flag to its current value is a
// state no-op but still broadcasts, matching the device.
func (s *Simulator) setBool(name string, apply func(*State), read func(State) bool, broadcast func(bool)) {
	s.mu.Lock()
	apply(&s.state)
	v := read(s.state)
	s.mu.Unlock()

	s.logger.Info("setting changed", "setting", name, "value", v)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSettingChanged,
		Data:   map[string]any{"setting": name, "value": v},
	})
	broadcast(v)
}

// SetPower turns the door's power on or off.
func (s *Simulator) SetPower(enabled bool) {
	s.setBool(protocol.FieldPower,
		func(st *State) { st.Power = enabled },
		func(st State) bool { return st.Power },
		s.BroadcastPower)
}

// SetAuto enables or disables schedule (auto) mode.
func (s *Simulator) SetAuto(enabled bool) {
	s.setBool(protocol.FieldAuto,
		func(st *State) { st.Auto = enabled },
		func(st State) bool { return st.Auto },
		s.BroadcastAuto)
}

// SetInsideEnabled enables or disables the inside sensor.
func (s *Simulator) SetInsideEnabled(enabled bool) {
	s.setBool(protocol.FieldInside,
		func(st *State) { st.InsideEnabled = enabled },
		func(st State) bool { return st.InsideEnabled },
		s.BroadcastInside)
}

// SetOutsideEnabled enables or disables the outside sensor.
func (s *Simulator) SetOutsideEnabled(enabled bool) {
	s.setBool(protocol.FieldOutside,
		func(st *State) { st.OutsideEnabled = enabled },
		func(st State) bool { return st.OutsideEnabled },
		s.BroadcastOutside)
}

// SetSafetyLock engages or releases the outside sensor safety lock.
func (s *Simulator) SetSafetyLock(enabled bool) {
	s.setBool(protocol.FieldSafetyLock,
		func(st *State) { st.SafetyLock = enabled },
		func(st State) bool { return st.SafetyLock },
		s.BroadcastSafetyLock)
}

// SetCmdLockout engages or releases the command lockout.
func (s *Simulator) SetCmdLockout(enabled bool) {
	s.setBool(protocol.FieldCmdLockout,
		func(st *State) { st.CmdLockout = enabled },
		func(st State) bool { return st.CmdLockout },
		s.BroadcastCmdLockout)
}

// SetAutoretract enables or disables obstruction auto-retract.
func (s *Simulator) SetAutoretract(enabled bool) {
	s.setBool(protocol.FieldAutoretract,
		func(st *State) { st.Autoretract = enabled },
		func(st State) bool { return st.Autoretract },
		s.BroadcastAutoretract)
}

// SetHoldTime sets the hold-open duration in seconds. Negative values
// clamp to zero.
func (s *Simulator) SetHoldTime(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	s.mu.Lock()
	s.state.HoldTime = seconds
	s.mu.Unlock()

	s.logger.Info("hold time set", "seconds", seconds)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSettingChanged,
		Data:   map[string]any{"setting": protocol.FieldHoldTime, "value": seconds},
	})
	s.BroadcastHoldTime()
}

// SetTimezone sets the device timezone string. The value is stored
// opaquely; schedule evaluation falls back to UTC when it does not
// name a loadable location.
func (s *Simulator) SetTimezone(tz string) {
	s.mu.Lock()
	s.state.Timezone = tz
	s.mu.Unlock()

	s.logger.Info("timezone set", "tz", tz)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSettingChanged,
		Data:   map[string]any{"setting": protocol.FieldTZ, "value": tz},
	})
	s.BroadcastTimezone()
}

// SetNotifications replaces the notification enable flags.
func (s *Simulator) SetNotifications(n NotificationSettings) {
	s.mu.Lock()
	s.state.NotifyInsideOn = n.InsideOn
	s.state.NotifyInsideOff = n.InsideOff
	s.state.NotifyOutsideOn = n.OutsideOn
	s.state.NotifyOutsideOff = n.OutsideOff
	s.state.NotifyLowBattery = n.LowBattery
	s.mu.Unlock()

	s.logger.Info("notification settings changed")
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindSettingChanged,
		Data:   map[string]any{"setting": protocol.FieldNotifications},
	})
	s.BroadcastNotificationSettings()
}

// Notifications returns the current notification enable flags.
func (s *Simulator) Notifications() NotificationSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NotificationSettings{
		InsideOn:   s.state.NotifyInsideOn,
		InsideOff:  s.state.NotifyInsideOff,
		OutsideOn:  s.state.NotifyOutsideOn,
		OutsideOff: s.state.NotifyOutsideOff,
		LowBattery: s.state.NotifyLowBattery,
	}
}

// ---------------------------------------------------------------------
// Schedule CRUD
// ---------------------------------------------------------------------

// AddSchedule inserts or replaces the entry at its index and
// broadcasts the single-schedule update.
func (s *Simulator) AddSchedule(sc Schedule) {
	s.mu.Lock()
	s.state.Schedules[sc.Index] = sc
	s.mu.Unlock()

	s.logger.Info("schedule added", "index", sc.Index)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindScheduleChanged,
		Data:   map[string]any{"index": sc.Index},
	})
	s.BroadcastSchedule(sc)
}

// RemoveSchedule deletes the entry at index. Deleting a missing index
// is a no-op; the delete broadcast goes out only when something was
// removed.
func (s *Simulator) RemoveSchedule(index int) {
	s.mu.Lock()
	_, existed := s.state.Schedules[index]
	delete(s.state.Schedules, index)
	s.mu.Unlock()

	if !existed {
		return
	}
	s.logger.Info("schedule removed", "index", index)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindScheduleChanged,
		Data:   map[string]any{"index": index, "deleted": true},
	})
	s.BroadcastScheduleDelete(index)
}

// GetSchedule returns the entry at index.
func (s *Simulator) GetSchedule(index int) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.state.Schedules[index]
	return sc, ok
}

// NextScheduleIndex returns the lowest unused schedule index.
func (s *Simulator) NextScheduleIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := 0
	for {
		if _, ok := s.state.Schedules[idx]; !ok {
			return idx
		}
		idx++
	}
}

// UpdateSchedule applies fn to the entry at index, returning false if
// no such entry exists. Used by the control channel's partial edits
// (days, time window, enable toggle).
func (s *Simulator) UpdateSchedule(index int, fn func(*Schedule)) bool {
	s.mu.Lock()
	sc, ok := s.state.Schedules[index]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(&sc)
	sc.Index = index
	s.state.Schedules[index] = sc
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindScheduleChanged,
		Data:   map[string]any{"index": index},
	})
	s.BroadcastSchedule(sc)
	return true
}
