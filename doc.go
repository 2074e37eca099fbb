// Package session provides the client side session and trust
// synchronization core: it decides whether the running principal is
// authenticated, what their current trust score is, and which capabilities
// their role grants, and keeps that view in step with a remote trust service.
//
// Session lifecycle:
//   - Machine owns the single authoritative Session value. States move from
//     initializing to authenticated or unauthenticated; authenticated and
//     degraded alternate while trust sync fails and recovers; logout or any
//     unauthorized response returns to unauthenticated.
//   - Every login, registration, restore and logout starts a new generation.
//     Asynchronous results (trust sync, principal refresh, in-flight logins)
//     carry the generation they started under and are dropped when it no
//     longer matches.
//
// Trust synchronization:
//   - TrustSynchronizer fetches assessments on a fixed cadence owned by a
//     Scheduler bound to the authenticated epoch, plus on demand through
//     Machine.ForceTrustSync. Concurrent callers share one fetch.
//   - Failed syncs degrade the session without surfacing errors; a rejected
//     token logs the session out.
//
// RBAC:
//   - Evaluator maps a Role to capabilities through a static table. Decisions
//     depend on the role only, never on trust score or timing.
//
// Collaborators:
//   - AuthGateway, KeyLoader and CredentialStore are supplied by the caller.
//     MemoryCredentialStore and repository.CredentialStore are provided.
//   - ActivitySink receives best-effort events for every transition; see the
//     activitymap package to normalize them for audit pipelines.
package session
