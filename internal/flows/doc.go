// Package flows contains the login, refresh, and logout protocol logic as
// dependency-injected flow functions, keeping the root package free of
// branching per failure mode. Each flow returns a result struct with a
// failure-kind enum that the gateway maps to its public error surface,
// metrics, and audit events.
package flows
