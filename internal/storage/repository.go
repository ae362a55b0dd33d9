package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/irfndi/tradepilot/internal/models"
)

// Repository gives typed access to the domain collections on top of a Store.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying document store.
func (r *Repository) Store() Store {
	return r.store
}

func (r *Repository) SaveOpportunity(ctx context.Context, opp *models.Opportunity) error {
	return r.store.Upsert(ctx, CollectionOpportunities, opp.ID, opp.UserID, opp)
}

func (r *Repository) GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error) {
	var opp models.Opportunity
	if err := r.store.Get(ctx, CollectionOpportunities, id, &opp); err != nil {
		return nil, err
	}
	return &opp, nil
}

// ListOpportunities returns matching opportunities oldest first.
func (r *Repository) ListOpportunities(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, error) {
	raws, err := r.store.List(ctx, CollectionOpportunities, filter.UserID)
	if err != nil {
		return nil, err
	}
	all, err := decodeAll[models.Opportunity](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opportunities: %w", err)
	}

	out := all[:0]
	for i := range all {
		if filter.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return r.store.Upsert(ctx, CollectionTrades, trade.ID, trade.UserID, trade)
}

func (r *Repository) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	if err := r.store.Get(ctx, CollectionTrades, id, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

// FindTrades returns trades matching filter, most recently opened first.
func (r *Repository) FindTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error) {
	raws, err := r.store.List(ctx, CollectionTrades, filter.UserID)
	if err != nil {
		return nil, err
	}
	all, err := decodeAll[models.Trade](raws)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}

	out := all[:0]
	for i := range all {
		if filter.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (r *Repository) GetUserConfig(ctx context.Context, userID string) (*models.UserConfiguration, error) {
	var cfg models.UserConfiguration
	if err := r.store.Get(ctx, CollectionUserConfigs, userID, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Repository) SaveUserConfig(ctx context.Context, cfg *models.UserConfiguration) error {
	return r.store.Upsert(ctx, CollectionUserConfigs, cfg.UserID, cfg.UserID, cfg)
}

func (r *Repository) GetStrategy(ctx context.Context, id string) (*models.TradingStrategyConfig, error) {
	var s models.TradingStrategyConfig
	if err := r.store.Get(ctx, CollectionStrategies, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) SaveStrategy(ctx context.Context, s *models.TradingStrategyConfig) error {
	return r.store.Upsert(ctx, CollectionStrategies, s.ID, s.UserID, s)
}

func (r *Repository) ListStrategies(ctx context.Context, userID string) ([]models.TradingStrategyConfig, error) {
	raws, err := r.store.List(ctx, CollectionStrategies, userID)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.TradingStrategyConfig](raws)
}

func (r *Repository) GetAIProfile(ctx context.Context, id string) (*models.AIProfile, error) {
	var p models.AIProfile
	if err := r.store.Get(ctx, CollectionAIProfiles, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) SaveAIProfile(ctx context.Context, p *models.AIProfile) error {
	return r.store.Upsert(ctx, CollectionAIProfiles, p.ID, "", p)
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
