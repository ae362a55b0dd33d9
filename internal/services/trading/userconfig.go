package trading

import (
	"context"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/distributedlock"
	"github.com/irfndi/tradepilot/internal/services/risk"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Defaults seed the configuration of users that have none stored.
type Defaults struct {
	QuoteAsset              string
	Exchange                string
	CredentialLabel         string
	RiskProfile             models.RiskProfile
	MaxConcurrentOperations int
	MaxRealTrades           int
}

func DefaultsFromConfig(trading config.TradingConfig, exchangeName string) Defaults {
	return Defaults{
		QuoteAsset:      trading.QuoteAsset,
		Exchange:        exchangeName,
		CredentialLabel: trading.CredentialLabel,
		RiskProfile: models.RiskProfile{
			PerTradeCapitalRiskPct: decimal.NewFromFloat(trading.PerTradeRiskPct),
			DailyCapitalRiskPct:    decimal.NewFromFloat(trading.DailyRiskPct),
		},
		MaxConcurrentOperations: trading.MaxConcurrentOperations,
		MaxRealTrades:           trading.MaxRealTrades,
	}
}

// RealTradingStatus is the read view served by the status endpoint.
type RealTradingStatus struct {
	UserID                  string          `json:"user_id"`
	Active                  bool            `json:"real_trading_mode_active"`
	DailyCapitalRiskedUSD   decimal.Decimal `json:"daily_capital_risked_usd"`
	LastDailyReset          string          `json:"last_daily_reset"`
	RealTradesExecutedCount int             `json:"real_trades_executed_count"`
	MaxRealTrades           int             `json:"max_real_trades"`
	MaxConcurrentOperations int             `json:"max_concurrent_operations"`
	OpenRealTrades          int             `json:"open_real_trades"`
	LimitReached            bool            `json:"limit_reached"`
}

// UserConfigService owns UserConfiguration records. Writers hold the
// per-user lock.
type UserConfigService struct {
	repo     *storage.Repository
	resolver credentials.Resolver
	locker   distributedlock.Locker
	defaults Defaults
	logger   *zap.Logger
	now      func() time.Time
}

func NewUserConfigService(repo *storage.Repository, resolver credentials.Resolver, locker distributedlock.Locker, defaults Defaults, logger *zap.Logger) *UserConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserConfigService{
		repo:     repo,
		resolver: resolver,
		locker:   locker,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the stored configuration or a fresh one built from defaults.
func (s *UserConfigService) Get(ctx context.Context, userID string) (*models.UserConfiguration, error) {
	cfg, err := s.repo.GetUserConfig(ctx, userID)
	if err == nil {
		return cfg, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}
	return &models.UserConfiguration{
		UserID:          userID,
		QuoteAsset:      s.defaults.QuoteAsset,
		Exchange:        s.defaults.Exchange,
		CredentialLabel: s.defaults.CredentialLabel,
		RiskProfile:     s.defaults.RiskProfile,
		RealTrading: models.RealTradingSettings{
			MaxConcurrentOperations: s.defaults.MaxConcurrentOperations,
			MaxRealTrades:           s.defaults.MaxRealTrades,
		},
	}, nil
}

// Save persists cfg. Callers outside the engine must hold the user lock.
func (s *UserConfigService) Save(ctx context.Context, cfg *models.UserConfiguration) error {
	cfg.UpdatedAt = s.now().UTC()
	return s.repo.SaveUserConfig(ctx, cfg)
}

func (s *UserConfigService) RealTradingStatus(ctx context.Context, userID string) (*RealTradingStatus, error) {
	cfg, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings := cfg.RealTrading
	risk.ResetIfStale(&settings, s.now())

	open, err := s.repo.FindTrades(ctx, models.TradeFilter{
		UserID:         userID,
		Mode:           models.TradeModeReal,
		PositionStatus: models.PositionStatusOpen,
	})
	if err != nil {
		return nil, err
	}

	return &RealTradingStatus{
		UserID:                  userID,
		Active:                  settings.RealTradingModeActive,
		DailyCapitalRiskedUSD:   settings.DailyCapitalRiskedUSD,
		LastDailyReset:          settings.LastDailyReset,
		RealTradesExecutedCount: settings.RealTradesExecutedCount,
		MaxRealTrades:           settings.MaxRealTrades,
		MaxConcurrentOperations: settings.MaxConcurrentOperations,
		OpenRealTrades:          len(open),
		LimitReached:            risk.LifetimeLimitReached(settings),
	}, nil
}

// ActivateRealTrading turns real mode on once the user's exchange
// credentials resolve and the lifetime trade limit is not exhausted.
func (s *UserConfigService) ActivateRealTrading(ctx context.Context, userID string) (*RealTradingStatus, error) {
	if err := s.update(ctx, userID, func(cfg *models.UserConfiguration) error {
		if _, err := s.resolver.Resolve(ctx, userID, cfg.Exchange, cfg.CredentialLabel); err != nil {
			return err
		}
		if risk.LifetimeLimitReached(cfg.RealTrading) {
			return apperror.RealTradeLimit("max real trades reached (%d)", cfg.RealTrading.MaxRealTrades)
		}
		cfg.RealTrading.RealTradingModeActive = true
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Real trading activated", zap.String("user_id", userID))
	return s.RealTradingStatus(ctx, userID)
}

func (s *UserConfigService) DeactivateRealTrading(ctx context.Context, userID string) (*RealTradingStatus, error) {
	if err := s.update(ctx, userID, func(cfg *models.UserConfiguration) error {
		cfg.RealTrading.RealTradingModeActive = false
		return nil
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Real trading deactivated", zap.String("user_id", userID))
	return s.RealTradingStatus(ctx, userID)
}

func (s *UserConfigService) update(ctx context.Context, userID string, mutate func(*models.UserConfiguration) error) error {
	release, err := s.locker.Acquire(ctx, distributedlock.UserKey(userID))
	if err != nil {
		return err
	}
	defer release()

	cfg, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	return s.Save(ctx, cfg)
}
