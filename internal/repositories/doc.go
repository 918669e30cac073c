// Package repositories implements SQLite persistence for the client session.
//
// Key Implementations:
//   - [SessionRepository] : the access token and user ([auth.Persister]) plus backend cookies
//     holding the refresh credential ([auth.CookiePersister])
//
// The session table holds at most one row; saving replaces it.
package repositories
