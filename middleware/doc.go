// Package middleware exposes HTTP middleware adapters built on top of
// eduauth.Gateway validation.
//
// # Guards
//
//   - [Guard] — reads the Authorization header, validates the access token
//     (signature, expiry, blacklist), and injects the result into the
//     request context.
//   - [RequireActor] — restricts a route to one actor type.
//   - [RequireRole] — restricts a route to one role.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gateway calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// Gateway.Validate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the Gateway).
//   - Access Redis (the Gateway handles I/O).
//   - Make authorization decisions beyond pass/reject from Gateway.Validate.
package middleware
