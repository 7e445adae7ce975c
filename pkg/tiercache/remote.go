package tiercache

// remote.go declares the L2 (remote cache) collaborator interface. Its
// implementation — the wire protocol, connection pooling, eviction policy
// of the remote store itself — is explicitly out of scope (spec.md §1);
// the core only dictates the contract it calls through. The repository
// ships no implementation of it; the tests use an in-memory double.
//
// © 2025 tiercache authors. MIT License.

import (
	"context"
	"time"
)

// Remote is the L2 collaborator: an optional remote key-value store sitting
// between L1 and the database origin. Implementations must be safe for
// concurrent use.
type Remote[K comparable] interface {
	// GetRaw fetches the raw serialised bytes for key, if present.
	GetRaw(ctx context.Context, key K) (data []byte, found bool, err error)

	// GetRawEx behaves like GetRaw but also refreshes the remote entry's
	// TTL on a hit, used to extend the lifetime of frequently read data.
	GetRawEx(ctx context.Context, key K, ttl time.Duration) (data []byte, found bool, err error)

	// SetRaw stores data for key with the given TTL (zero means no
	// expiration on the remote side, if the backend supports that).
	SetRaw(ctx context.Context, key K, data []byte, ttl time.Duration) error

	// Invalidate removes key from the remote store. Called asynchronously
	// by Cache.Invalidate — the L1 removal is synchronous, the L2 one is
	// not (spec.md §4.8).
	Invalidate(ctx context.Context, key K) error
}
