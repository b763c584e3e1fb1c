// Package subscription owns the user's billing state: the subscription
// sub-document embedded in the user record, the append-only billing history,
// the lifecycle state machine over (tier, status), and the webhook
// reconciler that applies payment-provider events to that state.
//
// # State model
//
// A user cycles between free and paid indefinitely:
//
//	free -> active (checkout) -> cancelled (stops auto-renew, access until
//	expiry) -> expired -> free limits
//
// Expiry is eventually consistent: a lapsed record is downgraded either by
// the scheduled ExpireSweep or lazily by the access gate's ReconcileExpiry,
// whichever touches the user first. Both paths funnel through the same
// conditional store update, so they are idempotent per user and safe to race.
//
// # Writers
//
// Three independent writers mutate subscription state: the webhook
// reconciler, the scheduled sweeps, and user-initiated cancellation. The
// UserStore contract requires targeted field updates with predicates in the
// storage filter, never whole-document overwrites, so concurrent writers
// cannot clobber each other's unrelated fields.
//
// # Idempotency
//
// Payment providers deliver webhooks at least once. Replays are absorbed by
// three layers: a processed-event id check, a conditional expiry-extension
// guard on activation, and a billing-reference guard on history appends.
package subscription
