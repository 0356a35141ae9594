// Package schedulertest provides deterministic test doubles for the
// scheduler package: a manually advanced clock, and a host that records
// flush requests, and only flushes when told to.
package schedulertest
