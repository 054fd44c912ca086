// Package control implements the simulator's control channel: a
// line-oriented TCP listener that dispatches the operator command
// surface (a superset of the wire commands) and streams log events to
// its clients. The terminal front end and the ctl proxy both speak
// this protocol.
package control

import (
	"fmt"
	"strconv"
	"strings"
)

// ArgKind tags the parse rule for one positional argument.
type ArgKind int

// Argument kinds. Each maps to one parse rule in Parse.
const (
	ArgString ArgKind = iota
	ArgInt
	ArgFloat
	ArgBoolToggle
	ArgChoice
	ArgTimeRange
	ArgDayMask
)

// ArgSpec describes one positional argument of a control command.
type ArgSpec struct {
	Name     string
	Kind     ArgKind
	Required bool

	// Min and Max bound ArgInt values (inclusive).
	Min, Max int
	// MinF and MaxF bound ArgFloat values (inclusive).
	MinF, MaxF float64
	// Choices enumerates the legal ArgChoice tokens.
	Choices []string
}

// Usage renders the argument for usage strings.
func (s ArgSpec) Usage() string {
	name := s.Name
	if s.Kind == ArgChoice {
		name = strings.Join(s.Choices, "|")
	}
	if s.Required {
		return "<" + name + ">"
	}
	return "[" + name + "]"
}

// Value is one parsed argument. Present reports whether the token was
// supplied at all; optional arguments that were omitted have Present
// false and zero values.
type Value struct {
	Present bool

	Str   string
	Int   int
	Float float64
	Bool  bool

	// Time window from ArgTimeRange: start hour/min, end hour/min.
	StartHour, StartMin int
	EndHour, EndMin     int

	// Days from ArgDayMask, indexed Sun=0 .. Sat=6.
	Days [7]bool
}

// dayNames orders the mask tokens to match the protocol's Sun-first
// indexing.
var dayNames = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// dayPresets are shorthand masks accepted wherever a day list is.
var dayPresets = map[string][7]bool{
	"all":      {true, true, true, true, true, true, true},
	"weekdays": {false, true, true, true, true, true, false},
	"weekends": {true, false, false, false, false, false, true},
}

// Parse converts one token according to spec.
func Parse(token string, spec ArgSpec) (Value, error) {
	v := Value{Present: true}
	switch spec.Kind {
	case ArgString:
		if token == "" {
			return v, fmt.Errorf("%s must not be empty", spec.Name)
		}
		v.Str = token

	case ArgInt:
		n, err := strconv.Atoi(token)
		if err != nil {
			return v, fmt.Errorf("%s must be an integer, got %q", spec.Name, token)
		}
		if spec.Min != 0 || spec.Max != 0 {
			if n < spec.Min || n > spec.Max {
				return v, fmt.Errorf("%s must be between %d and %d", spec.Name, spec.Min, spec.Max)
			}
		}
		v.Int = n

	case ArgFloat:
		f, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return v, fmt.Errorf("%s must be a number, got %q", spec.Name, token)
		}
		if spec.MinF != 0 || spec.MaxF != 0 {
			if f < spec.MinF || f > spec.MaxF {
				return v, fmt.Errorf("%s must be between %g and %g", spec.Name, spec.MinF, spec.MaxF)
			}
		}
		v.Float = f

	case ArgBoolToggle:
		switch strings.ToLower(token) {
		case "on", "true", "1", "yes":
			v.Bool = true
		case "off", "false", "0", "no":
			v.Bool = false
		default:
			return v, fmt.Errorf("%s must be on or off, got %q", spec.Name, token)
		}

	case ArgChoice:
		lower := strings.ToLower(token)
		for _, c := range spec.Choices {
			if lower == c {
				v.Str = c
				return v, nil
			}
		}
		return v, fmt.Errorf("%s must be one of %s, got %q",
			spec.Name, strings.Join(spec.Choices, ", "), token)

	case ArgTimeRange:
		start, end, ok := strings.Cut(token, "-")
		if !ok {
			return v, fmt.Errorf("%s must be <start>-<end>, got %q", spec.Name, token)
		}
		var err error
		v.StartHour, v.StartMin, err = parseClock(start)
		if err != nil {
			return v, fmt.Errorf("%s: %w", spec.Name, err)
		}
		v.EndHour, v.EndMin, err = parseClock(end)
		if err != nil {
			return v, fmt.Errorf("%s: %w", spec.Name, err)
		}

	case ArgDayMask:
		days, err := parseDays(token)
		if err != nil {
			return v, fmt.Errorf("%s: %w", spec.Name, err)
		}
		v.Days = days
	}
	return v, nil
}

// parseClock parses "H:MM" (or "H.MM", or a bare hour).
func parseClock(s string) (hour, min int, err error) {
	s = strings.ReplaceAll(s, ".", ":")
	hs, ms, hasMin := strings.Cut(s, ":")
	hour, err = strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	if hasMin {
		min, err = strconv.Atoi(strings.TrimSpace(ms))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid time %q", s)
		}
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hour, min, nil
}

// parseDays parses a preset name or a comma list of day abbreviations.
func parseDays(s string) ([7]bool, error) {
	var days [7]bool
	s = strings.ToLower(strings.TrimSpace(s))
	if preset, ok := dayPresets[s]; ok {
		return preset, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 3 {
			part = part[:3]
		}
		found := false
		for i, name := range dayNames {
			if part == name {
				days[i] = true
				found = true
				break
			}
		}
		if !found {
			return days, fmt.Errorf("unknown day %q", part)
		}
	}
	return days, nil
}

// formatDays renders a mask for status output.
func formatDays(days [7]bool) string {
	for name, preset := range dayPresets {
		if days == preset {
			if name == "all" {
				return "all days"
			}
			return name
		}
	}
	var active []string
	for i, on := range days {
		if on {
			active = append(active, dayNames[i])
		}
	}
	if len(active) == 0 {
		return "none"
	}
	return strings.Join(active, ", ")
}
