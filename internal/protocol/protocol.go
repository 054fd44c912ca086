// Package protocol defines the Power Pet Door wire protocol: the
// command tags, field names, and value conventions shared by the phone
// app and the door, plus the framer that splits a TCP byte stream into
// individual JSON messages.
//
// Messages are bare JSON objects concatenated with no delimiter or
// length prefix. Every door-originated message carries
// direction="door-to-phone" and success as the string "true" or
// "false". Boolean settings travel as "1"/"0" strings; hold time
// travels as integer centiseconds.
package protocol

// Carrier and envelope keys.
const (
	KeyPing    = "PING"
	KeyPong    = "PONG"
	KeyCommand = "CMD"
	KeyConfig  = "CONFIG"

	FieldMsgID     = "msgId"
	FieldDirection = "direction"
	FieldSuccess   = "success"
	FieldReason    = "reason"
)

// Direction and success values.
const (
	DoorToPhone  = "door-to-phone"
	SuccessTrue  = "true"
	SuccessFalse = "false"
)

// Command tags.
const (
	CmdPong = "PONG"

	CmdGetDoorStatus    = "GET_DOOR_STATUS"
	CmdGetSettings      = "GET_SETTINGS"
	CmdGetDoorBattery   = "GET_DOOR_BATTERY"
	CmdGetDoorOpenStats = "GET_DOOR_OPEN_STATS"
	CmdGetHWInfo        = "GET_HW_INFO"

	CmdOpen        = "OPEN"
	CmdOpenAndHold = "OPEN_AND_HOLD"
	CmdClose       = "CLOSE"

	CmdPowerOn  = "POWER_ON"
	CmdPowerOff = "POWER_OFF"

	CmdEnableInside   = "ENABLE_INSIDE"
	CmdDisableInside  = "DISABLE_INSIDE"
	CmdEnableOutside  = "ENABLE_OUTSIDE"
	CmdDisableOutside = "DISABLE_OUTSIDE"
	CmdEnableAuto     = "ENABLE_AUTO"
	CmdDisableAuto    = "DISABLE_AUTO"

	CmdEnableSafetyLock   = "ENABLE_OUTSIDE_SENSOR_SAFETY_LOCK"
	CmdDisableSafetyLock  = "DISABLE_OUTSIDE_SENSOR_SAFETY_LOCK"
	CmdEnableCmdLockout   = "ENABLE_CMD_LOCKOUT"
	CmdDisableCmdLockout  = "DISABLE_CMD_LOCKOUT"
	CmdEnableAutoretract  = "ENABLE_AUTORETRACT"
	CmdDisableAutoretract = "DISABLE_AUTORETRACT"

	CmdGetHoldTime = "GET_HOLD_TIME"
	CmdSetHoldTime = "SET_HOLD_TIME"
	CmdGetTimezone = "GET_TIMEZONE"
	CmdSetTimezone = "SET_TIMEZONE"

	CmdGetNotifications = "GET_NOTIFICATIONS"
	CmdSetNotifications = "SET_NOTIFICATIONS"

	CmdGetScheduleList = "GET_SCHEDULE_LIST"
	CmdGetSchedule     = "GET_SCHEDULE"
	CmdSetSchedule     = "SET_SCHEDULE"
	CmdDeleteSchedule  = "DELETE_SCHEDULE"

	NotifyLowBattery = "LOW_BATTERY"
)

// Payload field names.
const (
	FieldDoorStatus = "doorStatus"
	FieldSettings   = "settings"

	FieldPower       = "power"
	FieldInside      = "inside"
	FieldOutside     = "outside"
	FieldAuto        = "auto"
	FieldSafetyLock  = "outsideSensorSafetyLock"
	FieldCmdLockout  = "cmdLockout"
	FieldAutoretract = "autoRetract"

	FieldTZ       = "tz"
	FieldHoldTime = "holdTime"

	FieldSensorTriggerVoltage      = "sensorTriggerVoltage"
	FieldSleepSensorTriggerVoltage = "sleepSensorTriggerVoltage"

	FieldBatteryPercent = "batteryPercent"
	FieldBatteryPresent = "batteryPresent"
	FieldACPresent      = "acPresent"

	FieldTotalOpenCycles   = "totalOpenCycles"
	FieldTotalAutoRetracts = "totalAutoRetracts"

	FieldFWInfo     = "fwInfo"
	FieldFWMajor    = "fwMajor"
	FieldFWMinor    = "fwMinor"
	FieldFWPatch    = "fwPatch"
	FieldHWVersion  = "hwVersion"
	FieldHWRevision = "hwRevision"

	FieldSchedules  = "schedules"
	FieldSchedule   = "schedule"
	FieldIndex      = "index"
	FieldEnabled    = "enabled"
	FieldDaysOfWeek = "daysOfWeek"

	FieldInStartTime  = "inStartTime"
	FieldInEndTime    = "inEndTime"
	FieldOutStartTime = "outStartTime"
	FieldOutEndTime   = "outEndTime"
	FieldHour         = "hour"
	FieldMin          = "min"

	FieldNotifications = "notifications"

	FieldNotifyInsideOn   = "sensorOnIndoorNotifications"
	FieldNotifyInsideOff  = "sensorOffIndoorNotifications"
	FieldNotifyOutsideOn  = "sensorOnOutdoorNotifications"
	FieldNotifyOutsideOff = "sensorOffOutdoorNotifications"
	FieldNotifyLowBattery = "lowBatteryNotifications"
)
