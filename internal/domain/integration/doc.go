// Package integration contains the Integration bounded context.
// This context keeps internal records consistent with external identity
// and project-management providers.
//
// Key concepts:
//   - ProviderClient: Port interface for connecting to external providers (Jira, Entra)
//   - ExternalEntity: Immutable snapshot of one provider entity at fetch time
//   - InternalRecord: Aggregate holding the internally owned copy and its link state
//   - LinkIntent: Value object capturing everything a link commit writes, consumed atomically
//   - SyncRun: Aggregate driving one synchronization pass, retained as audit trail
//   - SyncTask: Durable queue item requesting a sync pass over a stream
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
