// Package publish forwards decoded messages to Kafka.
//
// Each channel has its own topic, <prefix>.<channel>, and records are keyed
// by instrument code so one instrument stays on one partition and keeps its
// order. Values are JSON envelopes; every record carries an event-id header
// that consumers can use to drop redeliveries.
package publish
