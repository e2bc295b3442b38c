// Package realtime maintains the two live server connections: the raw
// socket that streams update events, and the event bus used for room
// membership, comments and direct notifications.
//
// Both transports reconnect on their own with jittered backoff and feed one
// shared handler registry, so consumers subscribe once and never care which
// wire an event arrived on. Outbound bus operations are emit-and-forget: a
// join or comment issued while disconnected is dropped, and the desired room
// set is replayed after every reconnect.
package realtime
