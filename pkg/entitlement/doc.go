// Package entitlement resolves a user record into the effective tier,
// per-feature limits, and premium flag used by the access gate.
//
// Resolution replaces the ad hoc null-coalescing the platform's older
// handlers used: the canonical field is subscription.tier, with the legacy
// subscription.plan alias and the legacy top-level isPremium boolean honored
// in that documented order.
package entitlement
