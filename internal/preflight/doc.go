// Package preflight provides readiness checks for the paths and programs a
// run depends on.
//
// The supervisor runs CheckStore before seeding so a read-only or missing
// store root fails fast instead of inside every worker. The CLI "config
// validate" command runs RunAll to report every check at once.
package preflight
