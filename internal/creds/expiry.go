// Package creds resolves and refreshes the credentials the signers consume.
// Each store is a lock-protected holder of the currently valid snapshot;
// reads may trigger a blocking refresh when the snapshot is near expiry.
package creds

import (
	"errors"
	"fmt"
	"time"
)

// DefaultThreshold is the lead time before actual expiry at which a
// credential is proactively refreshed.
const DefaultThreshold = 5 * time.Minute

// expired reports whether a credential with the given expiry should be
// refreshed now. A zero expiry never expires.
func expired(now, expires time.Time, threshold time.Duration) bool {
	if expires.IsZero() {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return now.After(expires.Add(-threshold))
}

// ErrNoSource is returned when no source in the resolution chain yields a
// usable credential.
var ErrNoSource = errors.New("creds: no credential source yielded a usable key")

// RefreshError wraps a failure to re-resolve a credential. The store keeps
// its previous snapshot; a later request may retry the refresh.
type RefreshError struct {
	Source string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("creds: refreshing credentials from %s: %v", e.Source, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
