// Package licensing implements the license token lifecycle and validation
// engine: the state machine that decides CREATE vs REFRESH vs ACTIVE vs
// REJECT for a token request, the two-tier entitlement cache with
// asynchronous refresh-ahead, the policy validator that encodes the
// entitlement rules, and the orchestrator tying them together.
//
// The engine holds no durable state of its own. The directory repository is
// the system of record; everything here is a TTL-bounded cache over it.
// Failure classes are kept distinct end to end: crypto failures, token
// protocol failures, policy failures, and directory outages each produce a
// distinct client-visible outcome code.
package licensing
