// Package store implements the keyed expiring record store that backs all
// securekit security state: lockout counters, session records, second-factor
// credentials, out-of-band codes, and security alerts.
//
// Records are namespaced, independently expirable, and optionally sealed with
// an authenticated-encryption codec before they reach the backend. The store
// fails closed on reads: a record that cannot be parsed or decrypted is
// evicted and treated as absent rather than surfaced as an error, and a
// record whose expiry has passed is logically absent even if the backend
// still holds its bytes.
//
// The backend is pluggable through [Backend]; [RedisBackend] is the shipped
// implementation. Backend TTLs are set as a storage-hygiene hint only — the
// record's own expiry timestamp, checked against the store clock at read
// time, is authoritative.
package store
