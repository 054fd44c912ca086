package control

import (
	"fmt"
	"strings"
)

// registerInfoCommands wires status and help.
func (h *Handler) registerInfoCommands() {
	sim := h.sim

	h.register(&Command{
		Name: "status", Aliases: []string{"?", "state"},
		Description: "Show current simulator state",
		Category:    "info",
		Run: func([]Value) Result {
			st := sim.Snapshot()
			indexes := make([]int, 0, len(st.Schedules))
			for _, entry := range st.ScheduleList() {
				indexes = append(indexes, entry["index"].(int))
			}
			lines := []string{
				"Current State:",
				fmt.Sprintf("  Door: %s", st.DoorStatus),
				fmt.Sprintf("  Power: %s", onWord(st.Power)),
				fmt.Sprintf("  Auto (schedule): %s", onWord(st.Auto)),
				fmt.Sprintf("  Inside sensor: %s", enabledWord(st.InsideEnabled)),
				fmt.Sprintf("  Outside sensor: %s", enabledWord(st.OutsideEnabled)),
				fmt.Sprintf("  Safety lock: %s", onWord(st.SafetyLock)),
				fmt.Sprintf("  Command lockout: %s", onWord(st.CmdLockout)),
				fmt.Sprintf("  Auto-retract: %s", onWord(st.Autoretract)),
				fmt.Sprintf("  Hold time: %gs", st.HoldTime),
				fmt.Sprintf("  Battery: %d%%", st.ReportedBatteryPercent()),
				fmt.Sprintf("  Pet in doorway: %s", yesNo(st.PetInDoorway)),
				fmt.Sprintf("  Schedules: %v", indexes),
				fmt.Sprintf("  Open cycles: %d", st.TotalOpenCycles),
				fmt.Sprintf("  Auto-retracts: %d", st.TotalAutoRetracts),
			}
			return ok("%s", strings.Join(lines, "\n"))
		},
	})

	h.register(&Command{
		Name:        "help",
		Description: "Show available commands",
		Category:    "info",
		Run: func([]Value) Result {
			return ok("%s", h.Help())
		},
	})
}

func enabledWord(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// Help renders the command list grouped by category, in the order the
// categories are conventionally shown.
func (h *Handler) Help() string {
	order := []struct{ key, title string }{
		{"door", "Door Operations"},
		{"simulation", "Simulation"},
		{"buttons", "Physical Buttons"},
		{"settings", "Settings"},
		{"schedules", "Schedules"},
		{"info", "Info"},
		{"control", "Control"},
	}

	byCat := make(map[string][]*Command)
	for _, c := range h.ordered {
		byCat[c.Category] = append(byCat[c.Category], c)
	}

	lines := []string{"Commands:"}
	for _, cat := range order {
		cmds := byCat[cat.key]
		if len(cmds) == 0 {
			continue
		}
		lines = append(lines, "", cat.title+":")
		for _, c := range cmds {
			aliasStr := ""
			if len(c.Aliases) > 0 {
				aliasStr = " (" + strings.Join(c.Aliases, ", ") + ")"
			}
			lines = append(lines, fmt.Sprintf("  %s%s - %s", c.Usage(), aliasStr, c.Description))
		}
	}
	return strings.Join(lines, "\n")
}
