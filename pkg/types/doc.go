// Package types defines the entity model, collection schemas, the local
// key-value and identity interfaces, sync metadata, and standard errors for
// the Stockroom inventory store.
// See docs/ARCHITECTURE § Main Interface.
package types
