// Package revocation invalidates tokens ahead of their natural expiry.
//
// Spent access tokens are blacklisted in Redis for exactly their remaining
// lifetime, so the denylist never outgrows the set of tokens that would
// still verify. Bulk invalidation by user or by token family delegates to
// the session store.
package revocation
