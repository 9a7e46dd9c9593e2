// Package vectorstore defines the engines that back typed collections.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"policyrag/internal/domain"
)

// Engine opens named collections on one backing store.
type Engine interface {
	Collection(ctx context.Context, name string) (domain.Collection, error)
	Close() error
}

// ErrDuplicateID is returned when an id is added twice to the same collection.
var ErrDuplicateID = errors.New("duplicate id")

// ValidateAdd checks the arguments of Collection.Add.
func ValidateAdd(ids, documents []string, metadatas []domain.Metadata) error {
	if len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("ids, documents and metadatas length mismatch (%d, %d, %d)", len(ids), len(documents), len(metadatas))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return errors.New("empty id")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
