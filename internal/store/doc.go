// Package store holds the latest successfully fetched image. It is the only
// state shared between the refresh loop (single writer) and the HTTP handlers
// (many readers), and it never exposes a partially replaced value.
package store
