// Package usage maintains per-user, per-feature counters on UTC calendar
// month boundaries.
//
// Recording is decoupled from checking: the access gate reads the counter
// without mutating it, and the caller records usage explicitly after the
// gated action succeeds. The increment itself is a single atomic
// upsert-increment at the storage engine, so concurrent requests from the
// same user cannot lose updates.
package usage
