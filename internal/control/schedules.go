package control

import (
	"fmt"
	"strings"

	"github.com/nugget/petdoor-sim/internal/door"
)

// registerScheduleCommands wires the schedule subcommand tree:
// list (bare), add, del, on, off, days, time.
func (h *Handler) registerScheduleCommands() {
	sim := h.sim
	indexArg := ArgSpec{Name: "index", Kind: ArgInt, Required: true, Min: 0, Max: 1 << 20}

	sched := &Command{
		Name: "schedule", Aliases: []string{"sched"},
		Description: "Show or manage schedules",
		Category:    "schedules",
		Run: func([]Value) Result {
			st := sim.Snapshot()
			if len(st.Schedules) == 0 {
				return ok("No schedules configured")
			}
			lines := []string{"Schedules:"}
			for _, entry := range st.ScheduleList() {
				idx := entry["index"].(int)
				sc, _ := sim.GetSchedule(idx)
				lines = append(lines, formatSchedule(sc))
			}
			return ok("%s", strings.Join(lines, "\n"))
		},
		Sub: map[string]*Command{},
	}

	addSub := func(c *Command) {
		sched.Sub[c.Name] = c
		for _, a := range c.Aliases {
			sched.Sub[a] = c
		}
	}

	addSub(&Command{
		Name:        "add",
		Description: "Add a schedule entry",
		Args: []ArgSpec{
			{
				Name: "sensor", Kind: ArgChoice, Required: true,
				Choices: []string{"inside", "outside", "both"},
			},
			{Name: "start-end", Kind: ArgTimeRange, Required: true},
			{Name: "days", Kind: ArgDayMask},
		},
		Run: func(args []Value) Result {
			days := dayPresets["all"]
			if args[2].Present {
				days = args[2].Days
			}
			sc := door.Schedule{
				Index:     sim.NextScheduleIndex(),
				Enabled:   true,
				Days:      days,
				Inside:    args[0].Str == "inside" || args[0].Str == "both",
				Outside:   args[0].Str == "outside" || args[0].Str == "both",
				StartHour: args[1].StartHour,
				StartMin:  args[1].StartMin,
				EndHour:   args[1].EndHour,
				EndMin:    args[1].EndMin,
			}
			sim.AddSchedule(sc)
			return ok("Added schedule #%d: %s sensor, %s, %02d:%02d-%02d:%02d",
				sc.Index, args[0].Str, formatDays(days),
				sc.StartHour, sc.StartMin, sc.EndHour, sc.EndMin)
		},
	})

	addSub(&Command{
		Name: "del", Aliases: []string{"delete", "rm", "remove"},
		Description: "Delete a schedule by index",
		Args:        []ArgSpec{indexArg},
		Run: func(args []Value) Result {
			idx := args[0].Int
			if _, found := sim.GetSchedule(idx); !found {
				return fail("Schedule #%d not found", idx)
			}
			sim.RemoveSchedule(idx)
			return ok("Deleted schedule #%d", idx)
		},
	})

	addSub(&Command{
		Name: "on", Aliases: []string{"enable"},
		Description: "Enable a schedule",
		Args:        []ArgSpec{indexArg},
		Run: func(args []Value) Result {
			if !sim.UpdateSchedule(args[0].Int, func(sc *door.Schedule) { sc.Enabled = true }) {
				return fail("Schedule #%d not found", args[0].Int)
			}
			return ok("Schedule #%d enabled", args[0].Int)
		},
	})

	addSub(&Command{
		Name: "off", Aliases: []string{"disable"},
		Description: "Disable a schedule",
		Args:        []ArgSpec{indexArg},
		Run: func(args []Value) Result {
			if !sim.UpdateSchedule(args[0].Int, func(sc *door.Schedule) { sc.Enabled = false }) {
				return fail("Schedule #%d not found", args[0].Int)
			}
			return ok("Schedule #%d disabled", args[0].Int)
		},
	})

	addSub(&Command{
		Name:        "days",
		Description: "Set a schedule's day mask",
		Args: []ArgSpec{
			indexArg,
			{Name: "days", Kind: ArgDayMask, Required: true},
		},
		Run: func(args []Value) Result {
			days := args[1].Days
			if !sim.UpdateSchedule(args[0].Int, func(sc *door.Schedule) { sc.Days = days }) {
				return fail("Schedule #%d not found", args[0].Int)
			}
			return ok("Schedule #%d days: %s", args[0].Int, formatDays(days))
		},
	})

	addSub(&Command{
		Name:        "time",
		Description: "Set a schedule's time window",
		Args: []ArgSpec{
			indexArg,
			{Name: "start-end", Kind: ArgTimeRange, Required: true},
		},
		Run: func(args []Value) Result {
			w := args[1]
			found := sim.UpdateSchedule(args[0].Int, func(sc *door.Schedule) {
				sc.StartHour, sc.StartMin = w.StartHour, w.StartMin
				sc.EndHour, sc.EndMin = w.EndHour, w.EndMin
			})
			if !found {
				return fail("Schedule #%d not found", args[0].Int)
			}
			return ok("Schedule #%d time: %02d:%02d-%02d:%02d",
				args[0].Int, w.StartHour, w.StartMin, w.EndHour, w.EndMin)
		},
	})

	h.register(sched)
}

// formatSchedule renders one entry for the schedule listing.
func formatSchedule(sc door.Schedule) string {
	var sensor string
	switch {
	case sc.Inside && sc.Outside:
		sensor = "inside+outside"
	case sc.Inside:
		sensor = "inside"
	case sc.Outside:
		sensor = "outside"
	default:
		sensor = "none"
	}
	status := "enabled"
	if !sc.Enabled {
		status = "disabled"
	}
	return fmt.Sprintf("  #%d: %s sensor, %s, %02d:%02d-%02d:%02d (%s)",
		sc.Index, sensor, formatDays(sc.Days),
		sc.StartHour, sc.StartMin, sc.EndHour, sc.EndMin, status)
}
