// Package securekit is the account security and threat monitoring core for
// credential-gated mobile and client applications. It guards sign-in with
// lockout and rate limiting, issues and verifies second-factor codes
// (time-based codes, backup codes, out-of-band codes), keeps sensitive local
// state in an expiring authenticated-encryption store, and continuously
// evaluates behavioral and device signals to raise graded security alerts
// with automatic protective responses.
//
// The package is designed for concurrent workloads: Engine methods are safe
// to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// securekit is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([IdentityProvider], [DeviceSource],
// [CodeTransport]), and value types. Record persistence lives in the store
// sub-package; everything else stays unexported.
//
// The hosted identity provider, delivery transports, and device sensors are
// collaborators injected at build time — securekit never performs credential
// checks, sends messages, or reads hardware itself.
//
// # Failure philosophy
//
// Every mechanism fails toward denying access, never toward silently
// granting it: unreadable records read as absent, a locked identifier never
// reaches the identity provider, and a monitoring failure is logged through
// the event pipeline rather than allowed to block the authentication flow it
// protects.
package securekit
