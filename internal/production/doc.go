// Package production merges the HTTP snapshot of a production with the deltas pushed over the event
// channel into one live [models.ProductionState] per production.
//
// Two sources race: the snapshot fetched on first access and the telemetry, connection and tally
// deltas that may arrive before or after it. The arbitration rule:
//
//   - with no local state, or a snapshot reporting isConnected, the snapshot seeds the full state
//   - otherwise the snapshot only fills telemetry fields no delta has reported yet and never lowers
//     the connection flag
//
// Deltas merge field by field. A substantive telemetry delta marks the production connected; only an
// explicit production.connection event can mark it disconnected. Events for productions that are not
// being watched are dropped.
package production
