package types

import (
	"context"
	"time"
)

// KV is the namespaced local key-value store that backs every piece of
// persisted state. Values are UTF-8 text.
type KV interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set writes value under key, durably, before returning.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key succeeds.
	Delete(key string) error
	// Keys lists keys with the given prefix in lexical order.
	Keys(prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Key layout within the KV namespace.
const (
	KeyNamespace        = "stockroom/"
	KeyCollectionPrefix = KeyNamespace + "collection/"
	KeyCounterPrefix    = KeyNamespace + "counter/"
	KeyDirty            = KeyNamespace + "dirty"
	KeySyncRecord       = KeyNamespace + "sync"
	KeyBinding          = KeyNamespace + "binding"
	KeyCredential       = KeyNamespace + "credential"
)

// PreservedKeys are never touched by a collection reset.
var PreservedKeys = []string{KeyBinding, KeyCredential, KeySyncRecord}

// CollectionKey returns the KV key holding a collection's entities.
func CollectionKey(collection string) string { return KeyCollectionPrefix + collection }

// CounterKey returns the KV key holding a collection's identifier counter.
func CounterKey(collection string) string { return KeyCounterPrefix + collection }

// Identity describes the user behind the current credential.
type Identity struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	IsAnonymous  bool   `json:"isAnonymous"`
}

// IdentityProvider supplies the identity descriptor for the active
// credential. Obtaining the credential itself happens elsewhere.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Binding links the local store to a remote spreadsheet.
type Binding struct {
	DocumentID          string `json:"documentId"`
	DocumentDisplayName string `json:"documentDisplayName"`
	AccessCredentialRef string `json:"accessCredentialRef,omitempty"`
}

// IsZero reports whether the binding is unset.
func (b Binding) IsZero() bool { return b.DocumentID == "" }

// Sync statuses.
const (
	SyncNever   = "never"
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// SyncRecord describes the most recent synchronization attempt.
type SyncRecord struct {
	LastSyncTimestamp   *time.Time `json:"lastSyncTimestamp,omitempty"`
	LastSyncStatus      string     `json:"lastSyncStatus"`
	LastError           string     `json:"lastError,omitempty"`
	AttemptID           string     `json:"attemptId,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	Written             []string   `json:"written,omitempty"`
}

// NeverSynced is the record of a binding that has not synced yet.
func NeverSynced() SyncRecord {
	return SyncRecord{LastSyncStatus: SyncNever}
}
