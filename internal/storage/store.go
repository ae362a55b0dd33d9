// Package storage persists domain documents. Every record is a JSON document
// addressed by (collection, id) and tagged with an owner for per-user listing.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no document exists.
var ErrNotFound = errors.New("document not found")

const (
	CollectionOpportunities = "opportunities"
	CollectionTrades        = "trades"
	CollectionUserConfigs   = "user_configurations"
	CollectionStrategies    = "strategy_configurations"
	CollectionAIProfiles    = "ai_profiles"
	CollectionCredentials   = "api_credentials"
)

// Store is the document persistence contract. An empty owner in List
// matches every owner.
type Store interface {
	Upsert(ctx context.Context, collection, id, owner string, doc any) error
	Get(ctx context.Context, collection, id string, dest any) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection, owner string) ([]json.RawMessage, error)
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
