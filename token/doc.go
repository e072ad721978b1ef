// Package token issues and verifies the access and refresh tokens used by
// the eduauth gateway.
//
// Access tokens are short-lived JWTs carrying the actor type, role, and
// session binding. Refresh tokens are longer-lived JWTs carrying a unique
// token id (jti) and a token-family id (fid); the family id links every
// token descended from one login so that the whole lineage can be revoked
// at once. The codec is pure: it performs cryptographic operations and
// clock reads only, never I/O.
package token
