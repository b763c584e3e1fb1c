// Package schedule runs the periodic sweeps (daily expiry and reminder,
// monthly usage purge) in-process on fixed UTC schedules.
//
// Sweeps are also exposed over authenticated HTTP endpoints for external
// orchestrators; both entry points call the same idempotent operations, so
// double-triggering is harmless.
package schedule
