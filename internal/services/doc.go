// Package services implements typed clients for the backend REST surface on top of the request gateway.
//
// Every service takes a [Requester], normally a [gateway.Gateway], so bearer attachment, the single
// flight refresh and error normalization apply uniformly:
//
//   - [AuthService]: login, logout and the current user
//   - [ProductionService]: state snapshots and engine commands
//   - [ChatService]: chat history
//   - [AutomationService]: rule CRUD, manual trigger and the execution log
//   - [HardwareService]: peripheral input mappings
//   - [WebhookService]: outbound notification targets
//   - [SocialService]: audience message moderation
//   - [APIService]: raw passthrough used by the CLI
//
// # Error Handling
//
// Failures surface as [*gateway.APIError] with a single human readable message. An irrecoverable
// refresh wraps [shared.ErrSessionExpired].
//
// # Optimistic Updates
//
// [Optimistic] wraps a value that the UI mutates ahead of the server: it snapshots the prior value,
// applies a predicted one, then commits the server's answer or restores the snapshot on failure.
package services
