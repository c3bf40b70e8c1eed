package control

import (
	"context"

	"github.com/lalithlochan/beacon/internal/statestore"
)

// StorageResponder answers the worker's bridge requests from the device
// storage: the page side's credential fallback and persisted seen-id set.
type StorageResponder struct {
	store *statestore.Store
}

func NewStorageResponder(store *statestore.Store) *StorageResponder {
	return &StorageResponder{store: store}
}

func (r *StorageResponder) Token(ctx context.Context) (string, error) {
	return r.store.TokenFallback(ctx)
}

func (r *StorageResponder) SeenIDs(ctx context.Context) ([]string, error) {
	return r.store.SeenIDs(ctx)
}
