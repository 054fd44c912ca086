// Package main is the entry point for the Power Pet Door simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/petdoor-sim/internal/buildinfo"
	"github.com/nugget/petdoor-sim/internal/config"
	"github.com/nugget/petdoor-sim/internal/connwatch"
	"github.com/nugget/petdoor-sim/internal/control"
	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/mqtt"
	"github.com/nugget/petdoor-sim/internal/server"
	"github.com/nugget/petdoor-sim/internal/web"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file")
	host := flag.String("host", "", "wire protocol bind address (overrides config)")
	port := flag.Int("port", 0, "wire protocol port (overrides config)")
	controlPort := flag.Int("control-port", -1, "control channel port, 0 disables (overrides config)")
	fwVersion := flag.String("fw", "", "firmware version override (major.minor.patch)")
	hwVersion := flag.String("hw", "", "hardware version override (ver.rev)")
	flag.Parse()

	// Handle subcommands
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			// Fall through to serve below.
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	runServe(serveOptions{
		configPath:  *configPath,
		host:        *host,
		port:        *port,
		controlPort: *controlPort,
		fwVersion:   *fwVersion,
		hwVersion:   *hwVersion,
	})
}

type serveOptions struct {
	configPath  string
	host        string
	port        int
	controlPort int
	fwVersion   string
	hwVersion   string
}

func runServe(opts serveOptions) {
	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load config; missing file means defaults.
	cfgPath, err := config.FindConfig(opts.configPath)
	if err != nil {
		bootLogger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			bootLogger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
	}
	applyFlagOverrides(cfg, opts)

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		bootLogger.Error("log level", "error", err)
		os.Exit(1)
	}

	// The event bus carries operational events to the control log
	// stream, the web event socket, and the MQTT publisher. Log
	// records are mirrored onto it next to the stdout text handler.
	bus := events.New()
	logger := slog.New(config.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}),
		events.NewLogHandler(bus, level),
	))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String())

	state, err := stateFromConfig(cfg, opts)
	if err != nil {
		logger.Error("invalid override", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sim := door.New(state, logger, bus)

	srv := server.New(cfg.Listen.Address, cfg.Listen.Port, sim, bus, logger)
	sim.SetBroadcaster(srv.Hub())

	sim.Start(ctx)
	if err := srv.Start(ctx); err != nil {
		logger.Error("wire server", "error", err)
		os.Exit(1)
	}

	var ctl *control.Server
	if cfg.Control.Port > 0 {
		handler := control.NewHandler(sim, logger, stop)
		ctl = control.New(cfg.Control.Address, cfg.Control.Port, handler, bus, logger)
		if err := ctl.Start(ctx); err != nil {
			logger.Error("control server", "error", err)
			os.Exit(1)
		}
	}

	var webSrv *web.Server
	if cfg.Web.Enabled {
		webSrv = web.NewServer(cfg.Web.Address, cfg.Web.Port, sim, bus, logger)
		if err := webSrv.Start(ctx); err != nil {
			logger.Error("web server", "error", err)
			os.Exit(1)
		}
	}

	var pub *mqtt.Publisher
	var brokerWatch *connwatch.Watcher
	if cfg.MQTT.Enabled {
		pub = mqtt.New(cfg.MQTT, sim, bus, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher", "error", err)
			}
		}()
		brokerWatch = connwatch.Watch(ctx, connwatch.Config{
			Name:   "mqtt",
			Probe:  pub.AwaitConnection,
			Logger: logger,
		})
	}

	// Run until a signal or a control-channel shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}
	stop()

	// Teardown order: stop accepting and close peers first, then the
	// auxiliary surfaces, then the background activities.
	srv.Stop()
	if ctl != nil {
		ctl.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if webSrv != nil {
		webSrv.Stop(shutdownCtx)
	}
	if brokerWatch != nil {
		brokerWatch.Stop()
	}
	if pub != nil {
		if err := pub.Stop(shutdownCtx); err != nil {
			logger.Debug("mqtt stop", "error", err)
		}
	}
	sim.Stop()
	logger.Info("goodbye")
}

// applyFlagOverrides layers the CLI flags over the loaded config.
func applyFlagOverrides(cfg *config.Config, opts serveOptions) {
	if opts.host != "" {
		cfg.Listen.Address = opts.host
	}
	if opts.port > 0 {
		cfg.Listen.Port = opts.port
	}
	if opts.controlPort >= 0 {
		cfg.Control.Port = opts.controlPort
	}
}

// stateFromConfig builds the door's initial state from the config file
// and the version override flags.
func stateFromConfig(cfg *config.Config, opts serveOptions) (door.State, error) {
	st := door.DefaultState()

	if cfg.Door.Timezone != "" {
		st.Timezone = cfg.Door.Timezone
	}
	if cfg.Door.HoldTimeSec > 0 {
		st.HoldTime = cfg.Door.HoldTimeSec
	}
	if cfg.Door.Autoretract != nil {
		st.Autoretract = *cfg.Door.Autoretract
	}

	t := cfg.Door.Timing
	if t.RiseTimeSec > 0 {
		st.Timing.RiseTime = secToDuration(t.RiseTimeSec)
	}
	if t.SlowingTimeSec > 0 {
		st.Timing.SlowingTime = secToDuration(t.SlowingTimeSec)
	}
	if t.ClosingTopTimeSec > 0 {
		st.Timing.ClosingTopTime = secToDuration(t.ClosingTopTimeSec)
	}
	if t.ClosingMidTimeSec > 0 {
		st.Timing.ClosingMidTime = secToDuration(t.ClosingMidTimeSec)
	}

	b := cfg.Battery
	if b.Percent != nil {
		st.BatteryPercent = *b.Percent
	}
	if b.Present != nil {
		st.BatteryPresent = *b.Present
	}
	if b.ACPresent != nil {
		st.ACPresent = *b.ACPresent
	}
	if b.ChargeRate != nil {
		st.Battery.ChargeRate = *b.ChargeRate
	}
	if b.DischargeRate != nil {
		st.Battery.DischargeRate = *b.DischargeRate
	}
	if b.UpdateIntervalSec > 0 {
		st.Battery.UpdateInterval = secToDuration(b.UpdateIntervalSec)
	}

	if cfg.Firmware != (config.FirmwareConfig{}) {
		st.FWMajor = cfg.Firmware.Major
		st.FWMinor = cfg.Firmware.Minor
		st.FWPatch = cfg.Firmware.Patch
	}
	if cfg.Hardware != (config.HardwareConfig{}) {
		st.HWVersion = cfg.Hardware.Version
		st.HWRevision = cfg.Hardware.Revision
	}

	if opts.fwVersion != "" {
		var major, minor, patch int
		if _, err := fmt.Sscanf(opts.fwVersion, "%d.%d.%d", &major, &minor, &patch); err != nil {
			return st, fmt.Errorf("firmware version %q: want major.minor.patch", opts.fwVersion)
		}
		st.FWMajor, st.FWMinor, st.FWPatch = major, minor, patch
	}
	if opts.hwVersion != "" {
		var ver, rev int
		if _, err := fmt.Sscanf(opts.hwVersion, "%d.%d", &ver, &rev); err != nil {
			return st, fmt.Errorf("hardware version %q: want ver.rev", opts.hwVersion)
		}
		st.HWVersion, st.HWRevision = ver, rev
	}

	return st, nil
}

func secToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
