// Package engine orchestrates pakmux operations end to end.
//
// # Overview
//
// The engine is the only component that sequences an operation across
// the transaction journal, the process lock, the privilege arbiter,
// the backend registry, and the recovery table. A mutating operation
// moves through a fixed pipeline:
//
//  1. Guard - refuse to start while an interrupted transaction from a
//     previous run still needs recovery
//  2. Decide - obtain one immutable privilege grant for the whole
//     operation
//  3. Lock - serialize against other pakmux processes on this host
//  4. Begin - open a journal transaction that outlives a crash
//  5. Execute - walk the backend chain per step, recording one effect
//     per successful mutating call
//  6. Commit - persist the transaction, then release the lock
//
// Any step failure triggers a controlled rollback of every effect
// recorded so far, and the returned error carries the rollback report.
// Read-only operations skip the journal, the lock, and the privilege
// arbiter entirely and fan out across all available backends.
//
// # Backend chain
//
// Candidate backends are tried in priority order. The first backend
// returning anything other than "not found" determines the step's
// result, with one exception: a recoverable partial failure consults
// the recovery table, applies at most one remediation, retries the
// same backend once, and only then falls through to the next backend.
//
// # Errors
//
// Failures surface as *Error values classified by Kind, each kind
// carrying a fixed process exit code. ExitCode maps any error chain to
// the code the process should exit with.
//
// The engine never prints. Progress, backend invocations, rollbacks,
// and recovery attempts are published as events for the caller to
// render.
package engine
