// Package eduauth is the authentication session core of the eduk6 backend.
//
// It implements refresh-token rotation with reuse detection for multiple
// actor types (admin, teacher, ...) behind one generic [Gateway]. Each
// refresh token is single-use: rotating it atomically consumes the parent
// and issues a child under the same token family. Presenting an
// already-consumed token is treated as evidence of theft and revokes the
// entire family, forcing a fresh login.
//
// Sessions and the access-token blacklist live in Redis; actor-specific
// credential checks and claims are injected per [Actor], never duplicated
// per actor type. Build a gateway with [New]:
//
//	gw, err := eduauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithActor(eduauth.Actor{Name: "teacher", Credentials: verifier, Claims: claims}).
//		Build()
package eduauth
