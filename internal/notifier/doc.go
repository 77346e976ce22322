// Package notifier is the sink for due alarms.
//
// Every due alarm is published on the event bus as alarm.triggered (hosts
// such as the WebSocket stream pick it up there) and, when the pipeline is
// enabled, queued once per delivery channel.
//
// # Pipeline
//
// Bounded queue, worker pool, token-bucket rate limit, jittered exponential
// retry, and dedup of (channel, alarm id, fire time) inside a window. Dedup
// state can be mirrored to storage so a restart does not resend.
//
// # Channels
//
// A Deliverer sends one Message. Built in: log, webhook (JSON POST) and
// telegram.
package notifier
