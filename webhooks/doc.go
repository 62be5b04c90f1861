// Package webhooks authenticates inbound provider webhooks and runs them
// through the acceptance pipeline:
// rate limit -> verify -> replay admit -> normalize -> persist -> dispatch.
//
// Verification is a fixed table of schemes, one per provider. The tenant of
// a delivery is the owner of the first secret that verifies it.
package webhooks
