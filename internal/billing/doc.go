// Package billing owns the subscription lifecycle for Ancestorii accounts:
// plan resolution, Stripe checkout and portal session creation, webhook
// event verification, and reconciliation of processor events into the
// local subscription record that backs entitlement checks.
//
// The local record is a projection of processor state. It is written only
// by the webhook reconciler (and the customer-id upsert during checkout
// initiation) and read by the entitlement gate. Webhook delivery is
// at-least-once and unordered, so every reconciliation branch is an
// idempotent single-statement write keyed by a stable external id.
package billing
