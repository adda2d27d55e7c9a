// Package queue implements the shared work queue that worker processes drain.
//
// A queue is a set of work item records plus a lock namespace keyed by the
// same item ids. Records are written once by the supervisor (Seed) and then
// advanced by whichever worker wins the claim for them:
//
//	pending -> claimed -> completed | failed
//
// Mutual exclusion never relies on reading a status field. A worker first
// creates the item's lock with an atomic create-if-absent primitive supplied
// by the Backend; only the process that created the lock may move the item
// from pending to claimed. Completion writes the terminal status and removes
// the lock again.
//
// Three backends implement the primitive: a directory of JSON records with
// O_EXCL lock files (the default), a SQLite database whose lock table primary
// key rejects duplicates, and Redis with SETNX lock keys. Open picks one from
// a location string so every process of a run can reach the same queue.
//
// Abandoned claims (a worker dying between Claim and Complete) are not
// reclaimed: the item stays claimed for the rest of the run and is reported by
// Progress.
package queue
