// Package models defines the domain entities shared by the cuedeck client packages.
//
// The package contains three categories of types:
//
// 1. Live state: process-local values rebuilt from snapshots and the event stream
//   - [ProductionState] : merged per-production view (connection flag, engine telemetry, tally)
//   - [EngineTelemetry] : partial telemetry of one broadcast engine; nil fields mean "unknown"
//   - [PresenceMember] : one entry of a production roster
//   - [TalkSession], [Alert], [AckRecord], [ChatMessage] : intercom and chat values
//
// 2. REST payloads: resources managed through the request gateway
//   - [Rule], [ExecutionLog] : automation rules and their execution log
//   - [HardwareMapping], [Webhook], [SocialMessage]
//
// 3. Identity: [User], carried inside the client session.
//
// Telemetry merges are field-wise: [EngineTelemetry.Merge] only overwrites fields present in the delta,
// so merge(merge(s, d1), d2) keeps every field of d1 that d2 does not carry.
package models
