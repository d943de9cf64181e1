// Package storage declares the document store contract shared by the
// jsondb, memorystorage and postgresdb adapters.
package storage

import "context"

type DocumentStore interface {
	// SetDocument stores body (JSON encoded) under collection/key, replacing
	// any previous document.
	SetDocument(ctx context.Context, collection, key string, body any) error

	// GetDocument decodes the document at collection/key into dst and
	// reports whether it exists.
	GetDocument(ctx context.Context, collection, key string, dst any) (bool, error)

	Ping(ctx context.Context) error

	Close() error
}
