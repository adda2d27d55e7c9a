// Package worker drains a shared queue: claim an item, hand its payload to a
// processor, record the outcome, repeat until nothing is claimable. Several
// loops, usually in separate processes, run against one queue at once and
// coordinate only through it.
package worker
