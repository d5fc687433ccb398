// Package testutil provides fixtures and deterministic helpers for tests:
// a controllable clock, predictable token generators and mock stores
// preloaded with the demo client and resource owner.
package testutil
