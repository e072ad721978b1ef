// Package session persists one record per live refresh token, keyed by the
// token's jti, in Redis.
//
// The store maintains two secondary indexes per record: the set of live
// jtis per user (logout-all) and per token family (family-wide revocation).
// Rotation is a single Lua compare-and-swap script that consumes the parent
// jti and installs the child atomically; under concurrent rotation of the
// same token exactly one caller wins and the rest observe not-found, which
// is the reuse-detection signal.
package session
