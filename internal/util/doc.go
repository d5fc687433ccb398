// Package util contains helpers used internally across packages.
//
//   - SafeTruncate: prefix of a credential for log lines
//   - HashKey: digest used to index credentials in shared key spaces
package util
