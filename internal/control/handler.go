package control

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/nugget/petdoor-sim/internal/door"
)

// Result is the outcome of one control command.
type Result struct {
	OK      bool
	Message string
}

func ok(format string, args ...any) Result {
	return Result{OK: true, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// Command is one entry in the static control command table. Commands
// either run directly or fan out into a subcommand tree.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Category    string
	Args        []ArgSpec
	Run         func(args []Value) Result
	Sub         map[string]*Command
}

// Usage renders the command's argument summary.
func (c *Command) Usage() string {
	parts := []string{c.Name}
	for _, a := range c.Args {
		parts = append(parts, a.Usage())
	}
	return strings.Join(parts, " ")
}

// Handler owns the command table over one simulator. The table is
// built once at construction; there is no runtime registration.
type Handler struct {
	sim    *door.Simulator
	logger *slog.Logger
	stop   func()

	commands map[string]*Command
	ordered  []*Command
}

// NewHandler builds the control command surface. stop is invoked by
// the shutdown command.
func NewHandler(sim *door.Simulator, logger *slog.Logger, stop func()) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		sim:      sim,
		logger:   logger,
		stop:     stop,
		commands: make(map[string]*Command),
	}
	h.buildTable()
	return h
}

// register indexes a command under its name and aliases.
func (h *Handler) register(c *Command) {
	h.ordered = append(h.ordered, c)
	h.commands[c.Name] = c
	for _, a := range c.Aliases {
		h.commands[a] = c
	}
}

// Execute parses and runs one command line.
func (h *Handler) Execute(line string) Result {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return fail("empty command")
	}

	cmd, found := h.commands[strings.ToLower(tokens[0])]
	if !found {
		return fail("unknown command: %s (try 'help')", tokens[0])
	}
	tokens = tokens[1:]
	path := cmd.Name

	// Walk the subcommand tree as far as the tokens lead.
	for len(cmd.Sub) > 0 && len(tokens) > 0 {
		sub, found := cmd.Sub[strings.ToLower(tokens[0])]
		if !found {
			if cmd.Run != nil {
				break
			}
			return fail("unknown %s subcommand: %s (available: %s)",
				path, tokens[0], subNames(cmd))
		}
		cmd = sub
		path += " " + sub.Name
		tokens = tokens[1:]
	}

	if cmd.Run == nil {
		return fail("usage: %s <%s>", path, subNames(cmd))
	}

	// Parse positional arguments against the spec list.
	args := make([]Value, len(cmd.Args))
	for i, spec := range cmd.Args {
		if i < len(tokens) {
			v, err := Parse(tokens[i], spec)
			if err != nil {
				return fail("%v\nusage: %s", err, cmd.Usage())
			}
			args[i] = v
		} else if spec.Required {
			return fail("missing required argument: %s\nusage: %s", spec.Name, cmd.Usage())
		}
	}

	return cmd.Run(args)
}

func subNames(c *Command) string {
	seen := make(map[string]bool)
	var names []string
	for _, sub := range c.Sub {
		if !seen[sub.Name] {
			seen[sub.Name] = true
			names = append(names, sub.Name)
		}
	}
	// Stable order for error messages.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return strings.Join(names, ", ")
}

// onOff resolves an optional on/off argument against the current
// value: absent toggles, present sets.
func onOff(arg Value, current bool) bool {
	if !arg.Present {
		return !current
	}
	return arg.Bool
}

func onWord(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// buildTable registers the whole command surface.
func (h *Handler) buildTable() {
	sim := h.sim
	toggleArg := []ArgSpec{{Name: "on|off", Kind: ArgBoolToggle}}

	// --- Door operations ---
	h.register(&Command{
		Name: "inside", Aliases: []string{"i"},
		Description: "Trigger inside sensor (pet going out)",
		Category:    "door",
		Run: func([]Value) Result {
			sim.TriggerSensor(door.SensorInside)
			return ok("Inside sensor triggered (pet going out)")
		},
	})
	h.register(&Command{
		Name: "outside", Aliases: []string{"o"},
		Description: "Trigger outside sensor (pet coming in)",
		Category:    "door",
		Run: func([]Value) Result {
			sim.TriggerSensor(door.SensorOutside)
			return ok("Outside sensor triggered (pet coming in)")
		},
	})
	h.register(&Command{
		Name: "close", Aliases: []string{"c"},
		Description: "Close the door",
		Category:    "door",
		Run: func([]Value) Result {
			sim.CloseDoor()
			return ok("Closing door")
		},
	})
	h.register(&Command{
		Name: "hold", Aliases: []string{"h", "open"},
		Description: "Open and hold the door",
		Category:    "door",
		Run: func([]Value) Result {
			sim.OpenDoor(true)
			return ok("Opening and holding")
		},
	})

	// --- Simulation events ---
	h.register(&Command{
		Name: "obstruction", Aliases: []string{"x"},
		Description: "Simulate obstruction (triggers auto-retract)",
		Category:    "simulation",
		Run: func([]Value) Result {
			sim.SimulateObstruction()
			return ok("Simulating obstruction")
		},
	})
	h.register(&Command{
		Name: "pet", Aliases: []string{"d"},
		Description: "Toggle pet in doorway",
		Category:    "simulation",
		Run: func([]Value) Result {
			present := !sim.Snapshot().PetInDoorway
			sim.SetPetInDoorway(present)
			if present {
				return ok("Pet in doorway: present")
			}
			return ok("Pet in doorway: gone")
		},
	})

	// --- Physical buttons ---
	h.register(&Command{
		Name: "power", Aliases: []string{"p"},
		Description: "Toggle or set power",
		Category:    "buttons",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().Power)
			sim.SetPower(v)
			return ok("Power: %s", onWord(v))
		},
	})
	h.register(&Command{
		Name: "auto", Aliases: []string{"m"},
		Description: "Toggle or set auto/schedule mode",
		Category:    "buttons",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().Auto)
			sim.SetAuto(v)
			return ok("Auto (schedule): %s", onWord(v))
		},
	})
	h.register(&Command{
		Name: "inside_enable", Aliases: []string{"n"},
		Description: "Toggle or set inside sensor enable",
		Category:    "buttons",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().InsideEnabled)
			sim.SetInsideEnabled(v)
			if v {
				return ok("Inside sensor: enabled")
			}
			return ok("Inside sensor: disabled")
		},
	})
	h.register(&Command{
		Name: "outside_enable", Aliases: []string{"u"},
		Description: "Toggle or set outside sensor enable",
		Category:    "buttons",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().OutsideEnabled)
			sim.SetOutsideEnabled(v)
			if v {
				return ok("Outside sensor: enabled")
			}
			return ok("Outside sensor: disabled")
		},
	})

	// --- Settings ---
	h.register(&Command{
		Name: "safety", Aliases: []string{"s"},
		Description: "Toggle or set outside sensor safety lock",
		Category:    "settings",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().SafetyLock)
			sim.SetSafetyLock(v)
			return ok("Safety lock: %s", onWord(v))
		},
	})
	h.register(&Command{
		Name: "lockout", Aliases: []string{"l"},
		Description: "Toggle or set command lockout",
		Category:    "settings",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().CmdLockout)
			sim.SetCmdLockout(v)
			return ok("Command lockout: %s", onWord(v))
		},
	})
	h.register(&Command{
		Name: "autoretract", Aliases: []string{"a"},
		Description: "Toggle or set auto-retract",
		Category:    "settings",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().Autoretract)
			sim.SetAutoretract(v)
			return ok("Auto-retract: %s", onWord(v))
		},
	})
	h.register(&Command{
		Name: "holdtime", Aliases: []string{"t"},
		Description: "Set hold time in seconds",
		Category:    "settings",
		Args: []ArgSpec{{
			Name: "seconds", Kind: ArgFloat, Required: true,
			MinF: 0, MaxF: 3600,
		}},
		Run: func(args []Value) Result {
			sim.SetHoldTime(args[0].Float)
			return ok("Hold time set to %gs", args[0].Float)
		},
	})
	h.register(&Command{
		Name: "battery", Aliases: []string{"b"},
		Description: "Set battery level (random if no value)",
		Category:    "settings",
		Args: []ArgSpec{{
			Name: "percent", Kind: ArgInt, Min: 0, Max: 100,
		}},
		Run: func(args []Value) Result {
			pct := args[0].Int
			if !args[0].Present {
				pct = 10 + rand.Intn(91)
			}
			sim.SetBattery(pct)
			return ok("Battery set to %d%%", pct)
		},
	})
	h.register(&Command{
		Name:        "ac",
		Description: "Toggle or set AC power presence",
		Category:    "settings",
		Args:        toggleArg,
		Run: func(args []Value) Result {
			v := onOff(args[0], sim.Snapshot().ACPresent)
			sim.SetACPresent(v)
			if v {
				return ok("AC: connected")
			}
			return ok("AC: disconnected")
		},
	})
	h.register(&Command{
		Name:        "timezone",
		Description: "Set the device timezone",
		Category:    "settings",
		Args: []ArgSpec{{
			Name: "tz", Kind: ArgString, Required: true,
		}},
		Run: func(args []Value) Result {
			sim.SetTimezone(args[0].Str)
			return ok("Timezone set to %s", args[0].Str)
		},
	})
	h.register(&Command{
		Name:        "notify",
		Description: "Set a notification flag",
		Category:    "settings",
		Args: []ArgSpec{
			{
				Name: "flag", Kind: ArgChoice, Required: true,
				Choices: []string{"inside_on", "inside_off", "outside_on", "outside_off", "low_battery"},
			},
			{Name: "on|off", Kind: ArgBoolToggle, Required: true},
		},
		Run: func(args []Value) Result {
			n := sim.Notifications()
			switch args[0].Str {
			case "inside_on":
				n.InsideOn = args[1].Bool
			case "inside_off":
				n.InsideOff = args[1].Bool
			case "outside_on":
				n.OutsideOn = args[1].Bool
			case "outside_off":
				n.OutsideOff = args[1].Bool
			case "low_battery":
				n.LowBattery = args[1].Bool
			}
			sim.SetNotifications(n)
			return ok("Notification %s: %s", args[0].Str, onWord(args[1].Bool))
		},
	})

	h.registerScheduleCommands()
	h.registerInfoCommands()

	// --- Broadcast ---
	h.register(&Command{
		Name: "broadcast", Aliases: []string{"bc"},
		Description: "Push a state broadcast to all wire peers",
		Category:    "control",
		Args: []ArgSpec{{
			Name: "kind", Kind: ArgChoice, Required: true,
			Choices: []string{
				"status", "settings", "battery", "hwinfo", "stats",
				"schedules", "notifications", "holdtime", "timezone", "all",
			},
		}},
		Run: func(args []Value) Result {
			switch args[0].Str {
			case "status":
				sim.BroadcastDoorStatus()
			case "settings":
				sim.BroadcastSettings()
			case "battery":
				sim.BroadcastBattery()
			case "hwinfo":
				sim.BroadcastHWInfo()
			case "stats":
				sim.BroadcastStats()
			case "schedules":
				sim.BroadcastSchedules()
			case "notifications":
				sim.BroadcastNotifications()
			case "holdtime":
				sim.BroadcastHoldTime()
			case "timezone":
				sim.BroadcastTimezone()
			case "all":
				sim.BroadcastAll()
			}
			return ok("Broadcast sent: %s", args[0].Str)
		},
	})

	// --- Control ---
	h.register(&Command{
		Name: "shutdown", Aliases: []string{"q", "quit", "exit"},
		Description: "Shut down the simulator",
		Category:    "control",
		Run: func([]Value) Result {
			if h.stop != nil {
				h.stop()
			}
			return ok("Shutting down...")
		},
	})
}
