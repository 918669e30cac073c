// Package intercom coordinates push-to-talk floors, alerts and call signaling for one production.
//
// Talk, as seen by this client:
//
//	Idle -> Broadcasting -> Idle
//	Idle -> PrivateTalk  -> Idle
//
// A broadcast cannot start while this client holds a private floor or while another member holds a
// private floor addressed to it. Stop always returns to Idle, whether or not the server acknowledged
// the start.
//
// Alerts, as seen by a receiver:
//
//	NoAlert -> AlertActive -> NoAlert
//
// A new alert replaces the active one. Only [Coordinator.Acknowledge] with a kind from the closed set
// ends AlertActive; [Coordinator.Reply] sends conversational text and leaves the alert active.
package intercom
