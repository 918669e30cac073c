// Package server exposes a local, read-only HTTP view of the live production state.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers method-qualified [http.ServeMux] patterns, so path
// wildcards such as {id} are available through [http.Request.PathValue].
//
// # Status Handler
//
// [StatusHandler] serves JSON snapshots of what this client currently knows:
//
//   - GET /productions/{id}/state    : merged production state from the aggregator
//   - GET /productions/{id}/presence : roster from the presence tracker
//   - GET /productions/{id}/intercom : talk floors, active alert and acknowledgment history
//
// Nothing here calls the backend; a production the client does not watch answers 404.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
