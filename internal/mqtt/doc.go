// Package mqtt publishes Home Assistant MQTT discovery messages and
// sensor state updates so the simulated door appears as a native HA
// device with availability tracking, mirroring how the real door's
// integration surfaces it.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects. States are
// re-published on door events from the bus and on a periodic tick.
package mqtt
