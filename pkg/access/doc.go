// Package access implements the plan-enforcement gate: given an
// authenticated user id and a feature key, it decides whether the action may
// proceed right now and why.
//
// The gate reconciles lapsed subscriptions lazily before resolving
// entitlements, so a user whose paid period ended a minute ago is judged on
// free-tier limits even if the daily expiry sweep has not run yet. It never
// increments usage; charging quota is an explicit follow-up call the caller
// makes after the gated action succeeds.
package access
