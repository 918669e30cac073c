// Package realtime owns the persistent event channel to the backend.
//
// A [Manager] keeps one websocket connection per session and moves through an explicit state machine:
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//
// Room membership is a set. Every Connecting -> Connected transition sends exactly one
// production.join per room, so a reconnect restores the client's scopes without duplicating them.
//
// Inbound frames are decoded once, at the boundary, through a table that maps each event name to its
// payload type (see [Decode]). Handlers receive the typed value; [Subscribe] narrows it further to a
// single payload type. Frames are read by a single goroutine per connection, so handlers for one
// connection run in delivery order and each fires at most once per frame.
package realtime
