// Package txn implements the write-ahead transaction journal and the
// cross-process lock that together make mutating operations atomic.
//
// Every mutating operation runs inside a Transaction. The journal writes
// a Pending record before the first effect executes, appends each Effect
// durably as it happens, and moves the record to a terminal status
// (committed, rolled_back, failed) at the end. Records are TOML files,
// one per transaction, updated by temp-file write plus atomic rename so
// a crash can never leave a torn record.
//
// Rollback inverts effects in reverse order and keeps going past
// individual inversion failures; the RollbackReport names every effect
// left applied. Recover, run at startup, rolls back any Pending records
// a crashed process left behind.
//
// The Lock serializes mutating operations across processes: one lock
// file created exclusively, a bounded wait with fsnotify wakeup, and
// reclaim of locks that are both old and owned by dead processes.
// Read-only operations do not take the lock.
package txn
