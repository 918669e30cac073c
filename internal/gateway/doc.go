// Package gateway implements the request gateway every HTTP call of the client goes through.
//
// # Authentication
//
// Each request carries the bearer token of the [auth.Store] session. A 401 response starts (or joins)
// a token refresh: exactly one POST to the refresh endpoint is in flight per gateway, and every request
// that hits a 401 meanwhile parks in a FIFO queue. When the refresh settles the queue is released in
// order; each parked request replays once with the new token, or fails with [shared.ErrSessionExpired]
// when the refresh failed. A failed refresh also clears the session and runs the OnLogout hooks.
//
// A request is retried at most once. A 401 on the replay is returned to the caller as an [*APIError].
//
// Requests to the auth endpoints themselves (login, refresh, logout) never enter the refresh path.
//
// # Payloads
//
// JSON objects with a "data" member are unwrapped to that member before decoding. Error bodies are
// normalized to a single [*APIError] message; NestJS-style validation arrays are joined with ", ".
package gateway
