package server

import (
	"fmt"
	"log/slog"

	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// handlerFunc executes one wire command and produces the reply.
type handlerFunc func(req protocol.Message) protocol.Message

// Registry maps command tags to handlers. It is built eagerly at
// startup; there is no runtime registration.
type Registry struct {
	sim      *door.Simulator
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// NewRegistry builds the command table over the given simulator.
func NewRegistry(sim *door.Simulator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sim:    sim,
		logger: logger,
	}
	r.handlers = map[string]handlerFunc{
		protocol.CmdGetDoorStatus:    r.getDoorStatus,
		protocol.CmdGetSettings:      r.getSettings,
		protocol.CmdGetDoorBattery:   r.getBattery,
		protocol.CmdGetDoorOpenStats: r.getStats,
		protocol.CmdGetHWInfo:        r.getHWInfo,

		protocol.CmdOpen:        r.doorCommand(protocol.CmdOpen, func() { sim.OpenDoor(false) }),
		protocol.CmdOpenAndHold: r.doorCommand(protocol.CmdOpenAndHold, func() { sim.OpenDoor(true) }),
		protocol.CmdClose:       r.doorCommand(protocol.CmdClose, sim.CloseDoor),

		protocol.CmdPowerOn:  r.toggle(protocol.CmdPowerOn, protocol.FieldPower, sim.SetPower, true),
		protocol.CmdPowerOff: r.toggle(protocol.CmdPowerOff, protocol.FieldPower, sim.SetPower, false),

		protocol.CmdEnableInside:   r.toggle(protocol.CmdEnableInside, protocol.FieldInside, sim.SetInsideEnabled, true),
		protocol.CmdDisableInside:  r.toggle(protocol.CmdDisableInside, protocol.FieldInside, sim.SetInsideEnabled, false),
		protocol.CmdEnableOutside:  r.toggle(protocol.CmdEnableOutside, protocol.FieldOutside, sim.SetOutsideEnabled, true),
		protocol.CmdDisableOutside: r.toggle(protocol.CmdDisableOutside, protocol.FieldOutside, sim.SetOutsideEnabled, false),
		protocol.CmdEnableAuto:     r.toggle(protocol.CmdEnableAuto, protocol.FieldAuto, sim.SetAuto, true),
		protocol.CmdDisableAuto:    r.toggle(protocol.CmdDisableAuto, protocol.FieldAuto, sim.SetAuto, false),

		protocol.CmdEnableSafetyLock:   r.settingsToggle(protocol.CmdEnableSafetyLock, protocol.FieldSafetyLock, sim.SetSafetyLock, true),
		protocol.CmdDisableSafetyLock:  r.settingsToggle(protocol.CmdDisableSafetyLock, protocol.FieldSafetyLock, sim.SetSafetyLock, false),
		protocol.CmdEnableCmdLockout:   r.settingsToggle(protocol.CmdEnableCmdLockout, protocol.FieldCmdLockout, sim.SetCmdLockout, true),
		protocol.CmdDisableCmdLockout:  r.settingsToggle(protocol.CmdDisableCmdLockout, protocol.FieldCmdLockout, sim.SetCmdLockout, false),
		protocol.CmdEnableAutoretract:  r.settingsToggle(protocol.CmdEnableAutoretract, protocol.FieldAutoretract, sim.SetAutoretract, true),
		protocol.CmdDisableAutoretract: r.settingsToggle(protocol.CmdDisableAutoretract, protocol.FieldAutoretract, sim.SetAutoretract, false),

		protocol.CmdGetHoldTime: r.getHoldTime,
		protocol.CmdSetHoldTime: r.setHoldTime,
		protocol.CmdGetTimezone: r.getTimezone,
		protocol.CmdSetTimezone: r.setTimezone,

		protocol.CmdGetNotifications: r.getNotifications,
		protocol.CmdSetNotifications: r.setNotifications,

		protocol.CmdGetScheduleList: r.getScheduleList,
		protocol.CmdGetSchedule:     r.getSchedule,
		protocol.CmdSetSchedule:     r.setSchedule,
		protocol.CmdDeleteSchedule:  r.deleteSchedule,
	}
	return r
}

// Dispatch classifies an inbound message and runs its handler. Every
// message yields exactly one reply; the inbound msgId, when present,
// is echoed onto it.
func (r *Registry) Dispatch(req protocol.Message) protocol.Message {
	var reply protocol.Message

	if token, ok := req[protocol.KeyPing]; ok {
		reply = protocol.NewReply(protocol.CmdPong)
		reply[protocol.KeyPong] = token
	} else {
		tag, ok := commandTag(req)
		if !ok {
			reply = protocol.NewFailure("UNKNOWN", "message carries no CMD or CONFIG key")
		} else if h, found := r.handlers[tag]; found {
			reply = h(req)
		} else {
			r.logger.Info("unknown command", "cmd", tag)
			reply = protocol.NewFailure(tag, fmt.Sprintf("unknown command %q", tag))
		}
	}

	if id, ok := req[protocol.FieldMsgID]; ok {
		reply[protocol.FieldMsgID] = id
	}
	return reply
}

// commandTag extracts the command string from either carrier key. The
// firmware's clients use CMD and CONFIG interchangeably, so both are
// accepted.
func commandTag(req protocol.Message) (string, bool) {
	for _, key := range []string{protocol.KeyCommand, protocol.KeyConfig} {
		if v, ok := req[key]; ok {
			if tag, ok := v.(string); ok && tag != "" {
				return tag, true
			}
		}
	}
	return "", false
}

// ---------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------

func (r *Registry) getDoorStatus(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetDoorStatus)
	reply[protocol.FieldDoorStatus] = string(r.sim.Snapshot().DoorStatus)
	return reply
}

func (r *Registry) getSettings(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetSettings)
	reply[protocol.FieldSettings] = r.sim.Snapshot().SettingsMap()
	return reply
}

func (r *Registry) getBattery(protocol.Message) protocol.Message {
	st := r.sim.Snapshot()
	reply := protocol.NewReply(protocol.CmdGetDoorBattery)
	reply[protocol.FieldBatteryPercent] = st.ReportedBatteryPercent()
	reply[protocol.FieldBatteryPresent] = protocol.Bool01(st.BatteryPresent)
	reply[protocol.FieldACPresent] = protocol.Bool01(st.ACPresent)
	return reply
}

func (r *Registry) getStats(protocol.Message) protocol.Message {
	st := r.sim.Snapshot()
	reply := protocol.NewReply(protocol.CmdGetDoorOpenStats)
	reply[protocol.FieldTotalOpenCycles] = st.TotalOpenCycles
	reply[protocol.FieldTotalAutoRetracts] = st.TotalAutoRetracts
	return reply
}

func (r *Registry) getHWInfo(protocol.Message) protocol.Message {
	st := r.sim.Snapshot()
	reply := protocol.NewReply(protocol.CmdGetHWInfo)
	reply[protocol.FieldFWInfo] = map[string]any{
		protocol.FieldFWMajor:    st.FWMajor,
		protocol.FieldFWMinor:    st.FWMinor,
		protocol.FieldFWPatch:    st.FWPatch,
		protocol.FieldHWVersion:  st.HWVersion,
		protocol.FieldHWRevision: st.HWRevision,
	}
	return reply
}

// ---------------------------------------------------------------------
// Door actuation
// ---------------------------------------------------------------------

// doorCommand wraps OPEN/OPEN_AND_HOLD/CLOSE with the preconditions a
// phone-issued motion command must pass: power on and no command
// lockout.
func (r *Registry) doorCommand(cmd string, run func()) handlerFunc {
	return func(protocol.Message) protocol.Message {
		st := r.sim.Snapshot()
		if !st.Power {
			return protocol.NewFailure(cmd, "door power is off")
		}
		if st.CmdLockout {
			return protocol.NewFailure(cmd, "command lockout is engaged")
		}
		run()
		reply := protocol.NewReply(cmd)
		reply[protocol.FieldDoorStatus] = string(r.sim.Snapshot().DoorStatus)
		return reply
	}
}

// ---------------------------------------------------------------------
// Setting toggles
// ---------------------------------------------------------------------

// toggle builds a handler for the ENABLE/DISABLE pairs whose replies
// carry the flag as a top-level field.
func (r *Registry) toggle(cmd, field string, set func(bool), value bool) handlerFunc {
	return func(protocol.Message) protocol.Message {
		set(value)
		reply := protocol.NewReply(cmd)
		reply[field] = protocol.Bool01(value)
		return reply
	}
}

// settingsToggle builds a handler for the pairs whose replies carry
// the flag inside a one-entry settings block, like the device does for
// safety lock, command lockout, and auto-retract.
func (r *Registry) settingsToggle(cmd, field string, set func(bool), value bool) handlerFunc {
	return func(protocol.Message) protocol.Message {
		set(value)
		reply := protocol.NewReply(cmd)
		reply[protocol.FieldSettings] = map[string]any{
			field: protocol.Bool01(value),
		}
		return reply
	}
}

// ---------------------------------------------------------------------
// Scalar settings
// ---------------------------------------------------------------------

func (r *Registry) getHoldTime(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetHoldTime)
	reply[protocol.FieldHoldTime] = r.sim.Snapshot().HoldTimeCentiseconds()
	return reply
}

func (r *Registry) setHoldTime(req protocol.Message) protocol.Message {
	cs, reason := intArg(req, protocol.FieldHoldTime)
	if reason != "" {
		return protocol.NewFailure(protocol.CmdSetHoldTime, reason)
	}
	if cs < 0 {
		return protocol.NewFailure(protocol.CmdSetHoldTime,
			fmt.Sprintf("%s must not be negative", protocol.FieldHoldTime))
	}
	r.sim.SetHoldTime(float64(cs) / 100)
	reply := protocol.NewReply(protocol.CmdSetHoldTime)
	reply[protocol.FieldHoldTime] = cs
	return reply
}

func (r *Registry) getTimezone(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetTimezone)
	reply[protocol.FieldTZ] = r.sim.Snapshot().Timezone
	return reply
}

func (r *Registry) setTimezone(req protocol.Message) protocol.Message {
	tz, reason := stringArg(req, protocol.FieldTZ)
	if reason != "" {
		return protocol.NewFailure(protocol.CmdSetTimezone, reason)
	}
	r.sim.SetTimezone(tz)
	reply := protocol.NewReply(protocol.CmdSetTimezone)
	reply[protocol.FieldTZ] = tz
	return reply
}

// ---------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------

func (r *Registry) getNotifications(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetNotifications)
	reply[protocol.FieldNotifications] = r.sim.Snapshot().NotificationsMap()
	return reply
}

// setNotifications merges the provided flags over the current ones, so
// a client may send the full set or a partial update.
func (r *Registry) setNotifications(req protocol.Message) protocol.Message {
	n := r.sim.Notifications()
	// Some clients nest the flags under "notifications", others put
	// them top-level; accept both.
	fields := req
	if nested, ok := req[protocol.FieldNotifications].(map[string]any); ok {
		fields = nested
	}
	if v, ok := fields[protocol.FieldNotifyInsideOn]; ok {
		n.InsideOn = protocol.Is01True(v)
	}
	if v, ok := fields[protocol.FieldNotifyInsideOff]; ok {
		n.InsideOff = protocol.Is01True(v)
	}
	if v, ok := fields[protocol.FieldNotifyOutsideOn]; ok {
		n.OutsideOn = protocol.Is01True(v)
	}
	if v, ok := fields[protocol.FieldNotifyOutsideOff]; ok {
		n.OutsideOff = protocol.Is01True(v)
	}
	if v, ok := fields[protocol.FieldNotifyLowBattery]; ok {
		n.LowBattery = protocol.Is01True(v)
	}
	r.sim.SetNotifications(n)

	reply := protocol.NewReply(protocol.CmdSetNotifications)
	reply[protocol.FieldNotifications] = r.sim.Snapshot().NotificationsMap()
	return reply
}

// ---------------------------------------------------------------------
// Schedules
// ---------------------------------------------------------------------

func (r *Registry) getScheduleList(protocol.Message) protocol.Message {
	reply := protocol.NewReply(protocol.CmdGetScheduleList)
	reply[protocol.FieldSchedules] = r.sim.Snapshot().ScheduleList()
	return reply
}

func (r *Registry) getSchedule(req protocol.Message) protocol.Message {
	index, reason := intArg(req, protocol.FieldIndex)
	if reason != "" {
		return protocol.NewFailure(protocol.CmdGetSchedule, reason)
	}
	sc, ok := r.sim.GetSchedule(index)
	if !ok {
		return protocol.NewFailure(protocol.CmdGetSchedule,
			fmt.Sprintf("no schedule at index %d", index))
	}
	reply := protocol.NewReply(protocol.CmdGetSchedule)
	reply[protocol.FieldSchedule] = sc.WireMap()
	return reply
}

func (r *Registry) setSchedule(req protocol.Message) protocol.Message {
	// The entry may arrive nested under "schedule" or with its fields
	// flat on the command object.
	fields := map[string]any(req)
	if nested, ok := req[protocol.FieldSchedule].(map[string]any); ok {
		fields = nested
	}
	sc, err := door.ScheduleFromWire(fields)
	if err != nil {
		return protocol.NewFailure(protocol.CmdSetSchedule, err.Error())
	}
	r.sim.AddSchedule(sc)

	reply := protocol.NewReply(protocol.CmdSetSchedule)
	reply[protocol.FieldSchedule] = sc.WireMap()
	return reply
}

func (r *Registry) deleteSchedule(req protocol.Message) protocol.Message {
	index, reason := intArg(req, protocol.FieldIndex)
	if reason != "" {
		return protocol.NewFailure(protocol.CmdDeleteSchedule, reason)
	}
	// Deleting a missing index is still a success, matching the device.
	r.sim.RemoveSchedule(index)
	reply := protocol.NewReply(protocol.CmdDeleteSchedule)
	reply[protocol.FieldIndex] = index
	return reply
}

// ---------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------

// intArg reads a required integer argument. JSON numbers decode as
// float64; fractional values are rejected.
func intArg(req protocol.Message, field string) (int, string) {
	v, ok := req[field]
	if !ok {
		return 0, fmt.Sprintf("missing required argument %q", field)
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Sprintf("argument %q must be an integer", field)
	}
	return int(f), ""
}

// stringArg reads a required non-empty string argument.
func stringArg(req protocol.Message, field string) (string, string) {
	v, ok := req[field]
	if !ok {
		return "", fmt.Sprintf("missing required argument %q", field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Sprintf("argument %q must be a non-empty string", field)
	}
	return s, ""
}
