// Package mqtt mirrors Hearth's operational events to an MQTT broker
// so home dashboards can follow what the assistant is doing.
//
// Every bus event is published as JSON to
// <topic_prefix>/events/<source>/<kind>. A handful of daily counters
// (tokens, requests, digests sent) are announced to Home Assistant via
// MQTT discovery and refreshed on a fixed interval. Availability is
// tracked with a retained "online" birth message and an "offline" will.
package mqtt
