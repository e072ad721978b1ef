// Package httpapi exposes the session lifecycle over HTTP, one route group
// per registered actor type. It owns the wire contract only: request and
// response shapes, status mapping, and context propagation. All
// authentication decisions are delegated to the gateway.
//
// Failure responses never distinguish why a credential or token was
// rejected; the caller sees 401 for every rejection, 429 for throttling,
// and 503 when the backing store is unreachable.
package httpapi
