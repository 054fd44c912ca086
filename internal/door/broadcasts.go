package door

import (
	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// broadcast hands a message to the wired Broadcaster, if any.
func (s *Simulator) broadcast(msg protocol.Message) {
	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()
	if bc != nil {
		bc.Broadcast(msg)
	}
}

// broadcastDoorStatus pushes a phase transition to every peer and onto
// the event bus.
func (s *Simulator) broadcastDoorStatus(phase Phase) {
	msg := protocol.NewReply(protocol.CmdGetDoorStatus)
	msg[protocol.FieldDoorStatus] = string(phase)
	s.broadcast(msg)
	s.bus.Publish(events.Event{
		Source: events.SourceDoor,
		Kind:   events.KindDoorStatus,
		Data:   map[string]any{"phase": string(phase)},
	})
}

// BroadcastDoorStatus pushes the current phase.
func (s *Simulator) BroadcastDoorStatus() {
	s.mu.Lock()
	phase := s.state.DoorStatus
	s.mu.Unlock()
	s.broadcastDoorStatus(phase)
}

// BroadcastSettings pushes the full settings block.
func (s *Simulator) BroadcastSettings() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetSettings)
	msg[protocol.FieldSettings] = st.SettingsMap()
	s.broadcast(msg)
}

// BroadcastBattery pushes the battery status trio. The reported
// percentage is zero when no battery is installed.
func (s *Simulator) BroadcastBattery() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetDoorBattery)
	msg[protocol.FieldBatteryPercent] = st.ReportedBatteryPercent()
	msg[protocol.FieldBatteryPresent] = protocol.Bool01(st.BatteryPresent)
	msg[protocol.FieldACPresent] = protocol.Bool01(st.ACPresent)
	s.broadcast(msg)
	s.bus.Publish(events.Event{
		Source: events.SourceBattery,
		Kind:   events.KindBattery,
		Data: map[string]any{
			"percent":    st.ReportedBatteryPercent(),
			"present":    st.BatteryPresent,
			"ac_present": st.ACPresent,
		},
	})
}

// BroadcastHWInfo pushes the firmware and hardware identity block.
func (s *Simulator) BroadcastHWInfo() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetHWInfo)
	msg[protocol.FieldFWInfo] = map[string]any{
		protocol.FieldFWMajor:    st.FWMajor,
		protocol.FieldFWMinor:    st.FWMinor,
		protocol.FieldFWPatch:    st.FWPatch,
		protocol.FieldHWVersion:  st.HWVersion,
		protocol.FieldHWRevision: st.HWRevision,
	}
	s.broadcast(msg)
}

// BroadcastStats pushes the lifetime counters.
func (s *Simulator) BroadcastStats() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetDoorOpenStats)
	msg[protocol.FieldTotalOpenCycles] = st.TotalOpenCycles
	msg[protocol.FieldTotalAutoRetracts] = st.TotalAutoRetracts
	s.broadcast(msg)
}

// BroadcastSchedules pushes the full schedule list.
func (s *Simulator) BroadcastSchedules() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetScheduleList)
	msg[protocol.FieldSchedules] = st.ScheduleList()
	s.broadcast(msg)
}

// BroadcastSchedule pushes a single schedule add or update.
func (s *Simulator) BroadcastSchedule(sc Schedule) {
	msg := protocol.NewReply(protocol.CmdSetSchedule)
	msg[protocol.FieldSchedule] = sc.WireMap()
	s.broadcast(msg)
}

// BroadcastScheduleDelete pushes a schedule deletion.
func (s *Simulator) BroadcastScheduleDelete(index int) {
	msg := protocol.NewReply(protocol.CmdDeleteSchedule)
	msg[protocol.FieldIndex] = index
	s.broadcast(msg)
}

// BroadcastNotifications pushes the notification flags with the query
// tag.
func (s *Simulator) BroadcastNotifications() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdGetNotifications)
	msg[protocol.FieldNotifications] = st.NotificationsMap()
	s.broadcast(msg)
}

// BroadcastNotificationSettings pushes the notification flags with the
// setter tag, as emitted after a SET_NOTIFICATIONS.
func (s *Simulator) BroadcastNotificationSettings() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdSetNotifications)
	msg[protocol.FieldNotifications] = st.NotificationsMap()
	s.broadcast(msg)
}

// BroadcastHoldTime pushes the hold time in centiseconds with the
// setter tag.
func (s *Simulator) BroadcastHoldTime() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdSetHoldTime)
	msg[protocol.FieldHoldTime] = st.HoldTimeCentiseconds()
	s.broadcast(msg)
}

// BroadcastTimezone pushes the timezone with the setter tag.
func (s *Simulator) BroadcastTimezone() {
	st := s.Snapshot()
	msg := protocol.NewReply(protocol.CmdSetTimezone)
	msg[protocol.FieldTZ] = st.Timezone
	s.broadcast(msg)
}

// BroadcastPower pushes a power toggle with the matching ENABLE or
// DISABLE tag, carrying only that flag.
func (s *Simulator) BroadcastPower(enabled bool) {
	cmd := protocol.CmdPowerOff
	if enabled {
		cmd = protocol.CmdPowerOn
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldPower] = protocol.Bool01(enabled)
	s.broadcast(msg)
}

// BroadcastAuto pushes an auto (schedule mode) toggle.
func (s *Simulator) BroadcastAuto(enabled bool) {
	cmd := protocol.CmdDisableAuto
	if enabled {
		cmd = protocol.CmdEnableAuto
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldAuto] = protocol.Bool01(enabled)
	s.broadcast(msg)
}

// BroadcastInside pushes an inside sensor enable toggle.
func (s *Simulator) BroadcastInside(enabled bool) {
	cmd := protocol.CmdDisableInside
	if enabled {
		cmd = protocol.CmdEnableInside
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldInside] = protocol.Bool01(enabled)
	s.broadcast(msg)
}

// BroadcastOutside pushes an outside sensor enable toggle.
func (s *Simulator) BroadcastOutside(enabled bool) {
	cmd := protocol.CmdDisableOutside
	if enabled {
		cmd = protocol.CmdEnableOutside
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldOutside] = protocol.Bool01(enabled)
	s.broadcast(msg)
}

// BroadcastSafetyLock pushes a safety lock toggle. Like the device,
// the flag rides in a one-entry settings block.
func (s *Simulator) BroadcastSafetyLock(enabled bool) {
	cmd := protocol.CmdDisableSafetyLock
	if enabled {
		cmd = protocol.CmdEnableSafetyLock
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldSettings] = map[string]any{
		protocol.FieldSafetyLock: protocol.Bool01(enabled),
	}
	s.broadcast(msg)
}

// BroadcastCmdLockout pushes a command lockout toggle.
func (s *Simulator) BroadcastCmdLockout(enabled bool) {
	cmd := protocol.CmdDisableCmdLockout
	if enabled {
		cmd = protocol.CmdEnableCmdLockout
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldSettings] = map[string]any{
		protocol.FieldCmdLockout: protocol.Bool01(enabled),
	}
	s.broadcast(msg)
}

// BroadcastAutoretract pushes an auto-retract toggle.
func (s *Simulator) BroadcastAutoretract(enabled bool) {
	cmd := protocol.CmdDisableAutoretract
	if enabled {
		cmd = protocol.CmdEnableAutoretract
	}
	msg := protocol.NewReply(cmd)
	msg[protocol.FieldSettings] = map[string]any{
		protocol.FieldAutoretract: protocol.Bool01(enabled),
	}
	s.broadcast(msg)
}

// BroadcastAll pushes the complete device state: status, settings,
// battery, identity, counters, schedules, and notifications.
func (s *Simulator) BroadcastAll() {
	s.BroadcastDoorStatus()
	s.BroadcastSettings()
	s.BroadcastBattery()
	s.BroadcastHWInfo()
	s.BroadcastStats()
	s.BroadcastSchedules()
	s.BroadcastNotifications()
}
