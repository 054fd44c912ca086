package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/petdoor-sim/internal/config"
	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/events"
)

// StateSource provides the door state for sensor publishing. The door
// Simulator satisfies it; the indirection keeps this package testable
// without a motion engine.
type StateSource interface {
	Snapshot() door.State
}

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and pushes door sensor states both on bus
// events and on a periodic tick.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	source StateSource
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. A nil logger is replaced
// with [slog.Default]; a nil source causes Start to return an error.
func New(cfg config.MQTTConfig, source StateSource, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.DeviceName),
		source: source,
		bus:    bus,
		logger: logger,
	}
}

// Start connects to the MQTT broker and blocks until ctx is
// cancelled. On every (re-)connect it publishes discovery configs and
// a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	if p.source == nil {
		return fmt.Errorf("mqtt publisher: source must not be nil")
	}

	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			p.publishDiscovery(publishCtx, cm)
			p.publishAvailability(publishCtx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "petdoor-sim-" + uuid.NewString()[:8],
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish
	// loop; a timeout is logged but not fatal because autopaho keeps
	// retrying in the background.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "petdoor/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	id := p.device.Identifiers[0]
	return []sensorDef{
		{
			entitySuffix: "door_status",
			config: SensorConfig{
				Name:              "Door Status",
				ObjectID:          "door_status",
				HasEntityName:     true,
				UniqueID:          id + "_door_status",
				StateTopic:        p.stateTopic("door_status"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:door",
			},
		},
		{
			entitySuffix: "battery",
			config: SensorConfig{
				Name:              "Battery",
				ObjectID:          "battery",
				HasEntityName:     true,
				UniqueID:          id + "_battery",
				StateTopic:        p.stateTopic("battery"),
				AvailabilityTopic: avail,
				Device:            p.device,
				DeviceClass:       "battery",
				UnitOfMeasurement: "%",
				StateClass:        "measurement",
			},
		},
		{
			entitySuffix: "open_cycles",
			config: SensorConfig{
				Name:              "Open Cycles",
				ObjectID:          "open_cycles",
				HasEntityName:     true,
				UniqueID:          id + "_open_cycles",
				StateTopic:        p.stateTopic("open_cycles"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:counter",
				StateClass:        "total_increasing",
			},
		},
		{
			entitySuffix: "auto_retracts",
			config: SensorConfig{
				Name:              "Auto Retracts",
				ObjectID:          "auto_retracts",
				HasEntityName:     true,
				UniqueID:          id + "_auto_retracts",
				StateTopic:        p.stateTopic("auto_retracts"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:arrow-u-up-left",
				StateClass:        "total_increasing",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State publishing ---

// runLoop republishes states on door events from the bus and on a
// periodic interval, until ctx is cancelled.
func (p *Publisher) runLoop(ctx context.Context) {
	const minInterval = 5 * time.Second
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		p.logger.Warn("mqtt publish interval non-positive; using minimum",
			"configured_seconds", p.cfg.PublishIntervalSec,
			"minimum", minInterval.String())
		interval = minInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var ch <-chan events.Event
	if p.bus != nil {
		ch = p.bus.Subscribe(64)
		defer p.bus.Unsubscribe(ch)
	}

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		case evt, okCh := <-ch:
			if !okCh {
				ch = nil
				continue
			}
			switch evt.Kind {
			case events.KindDoorStatus, events.KindBattery, events.KindStats:
				p.publishStates(ctx)
			}
		}
	}
}

// States returns the entity -> state mapping published to the broker.
func (p *Publisher) States() map[string]string {
	st := p.source.Snapshot()
	return map[string]string{
		"door_status":   string(st.DoorStatus),
		"battery":       strconv.Itoa(st.ReportedBatteryPercent()),
		"open_cycles":   strconv.Itoa(st.TotalOpenCycles),
		"auto_retracts": strconv.Itoa(st.TotalAutoRetracts),
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := p.States()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}
