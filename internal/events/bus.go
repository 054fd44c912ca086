// Package events provides a publish/subscribe event bus for
// operational observability. Events flow from components (door engine,
// battery ticker, wire server, log handler) to subscribers (the
// control channel log stream, the web event socket, the MQTT
// publisher). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceDoor identifies events from the door motion engine.
	SourceDoor = "door"
	// SourceBattery identifies events from the battery ticker.
	SourceBattery = "battery"
	// SourceServer identifies events from the wire protocol server.
	SourceServer = "server"
	// SourceControl identifies events from the control channel.
	SourceControl = "control"
	// SourceLog identifies formatted log records mirrored onto the bus.
	SourceLog = "log"
)

// Kind constants describe the type of event within a source.
const (
	// KindDoorStatus signals a motion phase transition.
	// Data: phase.
	KindDoorStatus = "door_status"
	// KindBattery signals a battery level or power-source change.
	// Data: percent, present, ac_present.
	KindBattery = "battery"
	// KindLowBattery signals a downward crossing of the low-battery
	// threshold. Data: percent.
	KindLowBattery = "low_battery"
	// KindSettingChanged signals a single setting toggle or value
	// change. Data: setting, value.
	KindSettingChanged = "setting_changed"
	// KindSensor signals a sensor activation, deactivation, or
	// dropped trigger. Data: sensor, active and/or dropped.
	KindSensor = "sensor"
	// KindScheduleChanged signals a schedule add, update, or delete.
	// Data: index, deleted.
	KindScheduleChanged = "schedule_changed"
	// KindStats signals a counter increment.
	// Data: open_cycles, auto_retracts.
	KindStats = "stats"

	// KindPeerConnected signals a new wire protocol connection.
	// Data: peer_id, remote_addr.
	KindPeerConnected = "peer_connected"
	// KindPeerDisconnected signals a wire protocol disconnect.
	// Data: peer_id, remote_addr.
	KindPeerDisconnected = "peer_disconnected"

	// KindLogLine carries one formatted log line.
	// Data: line.
	KindLogLine = "log_line"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
