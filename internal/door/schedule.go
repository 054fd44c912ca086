package door

import (
	"fmt"
	"time"

	"github.com/nugget/petdoor-sim/internal/protocol"
)

// Schedule is one door schedule entry. Each entry gates one or both
// sensors for a set of weekdays and a daily time window. A window
// whose start is after its end wraps across midnight.
//
// The day mask is indexed [Sun, Mon, Tue, Wed, Thu, Fri, Sat], the
// protocol's ordering, not Go's time.Weekday (which happens to agree)
// nor the original firmware tooling's Mon-first convention.
type Schedule struct {
	Index   int
	Enabled bool
	// Days is the seven-element mask, Sun=0 .. Sat=6.
	Days [7]bool
	// Inside and Outside select which sensor(s) this entry applies to.
	Inside  bool
	Outside bool

	StartHour int
	StartMin  int
	EndHour   int
	EndMin    int
}

// WireMap renders the entry in protocol form. The unused sensor's time
// objects are present as zero times, matching the device.
func (sc Schedule) WireMap() map[string]any {
	days := make([]int, 7)
	for i, on := range sc.Days {
		if on {
			days[i] = 1
		}
	}

	zero := map[string]any{protocol.FieldHour: 0, protocol.FieldMin: 0}
	start := map[string]any{protocol.FieldHour: sc.StartHour, protocol.FieldMin: sc.StartMin}
	end := map[string]any{protocol.FieldHour: sc.EndHour, protocol.FieldMin: sc.EndMin}

	out := map[string]any{
		protocol.FieldIndex:        sc.Index,
		protocol.FieldEnabled:      protocol.Bool01(sc.Enabled),
		protocol.FieldDaysOfWeek:   days,
		protocol.FieldInside:       sc.Inside,
		protocol.FieldOutside:      sc.Outside,
		protocol.FieldInStartTime:  zero,
		protocol.FieldInEndTime:    zero,
		protocol.FieldOutStartTime: zero,
		protocol.FieldOutEndTime:   zero,
	}
	if sc.Inside {
		out[protocol.FieldInStartTime] = start
		out[protocol.FieldInEndTime] = end
	}
	if sc.Outside {
		out[protocol.FieldOutStartTime] = start
		out[protocol.FieldOutEndTime] = end
	}
	return out
}

// ScheduleFromWire parses a schedule entry from decoded JSON fields.
// The day mask may be a seven-element list or a legacy bitmask integer
// with bit i set for day i counted from Sunday.
func ScheduleFromWire(fields map[string]any) (Schedule, error) {
	sc := Schedule{Enabled: true}

	idx, ok := fields[protocol.FieldIndex]
	if !ok {
		return sc, fmt.Errorf("schedule is missing %q", protocol.FieldIndex)
	}
	idxF, ok := idx.(float64)
	if !ok || idxF != float64(int(idxF)) || idxF < 0 {
		return sc, fmt.Errorf("schedule %s must be a non-negative integer", protocol.FieldIndex)
	}
	sc.Index = int(idxF)

	if v, ok := fields[protocol.FieldEnabled]; ok {
		sc.Enabled = protocol.Is01True(v)
	}
	sc.Inside = protocol.Is01True(fields[protocol.FieldInside])
	sc.Outside = protocol.Is01True(fields[protocol.FieldOutside])

	days, err := parseDayMask(fields[protocol.FieldDaysOfWeek])
	if err != nil {
		return sc, err
	}
	sc.Days = days

	// The window times live under whichever sensor prefix applies;
	// when both sensors are selected the inside pair wins, matching
	// the device's single shared window per entry.
	startKey, endKey := protocol.FieldOutStartTime, protocol.FieldOutEndTime
	if sc.Inside {
		startKey, endKey = protocol.FieldInStartTime, protocol.FieldInEndTime
	}
	sc.StartHour, sc.StartMin, err = parseTimeOfDay(fields[startKey], startKey)
	if err != nil {
		return sc, err
	}
	sc.EndHour, sc.EndMin, err = parseTimeOfDay(fields[endKey], endKey)
	if err != nil {
		return sc, err
	}
	return sc, nil
}

func parseDayMask(v any) ([7]bool, error) {
	var days [7]bool
	switch t := v.(type) {
	case nil:
		// Absent means every day, the device default.
		for i := range days {
			days[i] = true
		}
	case float64:
		// Legacy bitmask, bit 0 = Sunday.
		mask := int(t)
		if mask < 0 || mask > 0x7f {
			return days, fmt.Errorf("%s bitmask %d out of range", protocol.FieldDaysOfWeek, mask)
		}
		for i := range days {
			days[i] = mask&(1<<i) != 0
		}
	case []any:
		if len(t) != 7 {
			return days, fmt.Errorf("%s must have 7 elements, got %d", protocol.FieldDaysOfWeek, len(t))
		}
		for i, e := range t {
			days[i] = protocol.Is01True(e)
		}
	default:
		return days, fmt.Errorf("%s must be a 7-element list or bitmask", protocol.FieldDaysOfWeek)
	}
	return days, nil
}

func parseTimeOfDay(v any, field string) (hour, min int, err error) {
	if v == nil {
		return 0, 0, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, 0, fmt.Errorf("%s must be an object with hour and min", field)
	}
	h, _ := obj[protocol.FieldHour].(float64)
	m, _ := obj[protocol.FieldMin].(float64)
	hour, min = int(h), int(m)
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("%s %02d:%02d out of range", field, hour, min)
	}
	return hour, min, nil
}

// AppliesTo reports whether the entry gates the given sensor.
func (sc Schedule) AppliesTo(sensor Sensor) bool {
	switch sensor {
	case SensorInside:
		return sc.Inside
	case SensorOutside:
		return sc.Outside
	}
	return false
}

// ActiveOn reports whether the entry is enabled on the given weekday.
func (sc Schedule) ActiveOn(day time.Weekday) bool {
	if !sc.Enabled {
		return false
	}
	return sc.Days[int(day)]
}

// AllowsAt reports whether a trigger of the given sensor is permitted
// at the local time t. Windows are half-open [start, end); a window
// with start > end wraps across midnight.
func (sc Schedule) AllowsAt(sensor Sensor, t time.Time) bool {
	if !sc.AppliesTo(sensor) {
		return false
	}
	if !sc.ActiveOn(t.Weekday()) {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	start := sc.StartHour*60 + sc.StartMin
	end := sc.EndHour*60 + sc.EndMin

	if start <= end {
		return start <= now && now < end
	}
	return now >= start || now < end
}
