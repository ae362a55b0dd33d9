package opportunity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/distributedlock"
	"github.com/irfndi/tradepilot/internal/storage"
	"go.uber.org/zap"
)

type Analyzer interface {
	Analyze(ctx context.Context, opp *models.Opportunity, strategy *models.TradingStrategyConfig, profile *models.AIProfile) (*models.AIAnalysisResult, error)
	ResolveThresholds(profile *models.AIProfile) (paper, live float64)
}

type TradeExecutor interface {
	ExecutePaperTrade(ctx context.Context, opportunityID string) (*models.Trade, error)
	ExecuteTradeFromConfirmedOpportunity(ctx context.Context, opportunityID string) (*models.Trade, error)
}

// EventPublisher receives lifecycle events. Publishing is best effort and
// never fails the operation.
type EventPublisher interface {
	PublishOpportunity(ctx context.Context, opp *models.Opportunity) error
	PublishTrade(ctx context.Context, trade *models.Trade) error
}

type UserConfigs interface {
	Get(ctx context.Context, userID string) (*models.UserConfiguration, error)
}

// ConfirmRequest is the body of a real-trade confirmation.
type ConfirmRequest struct {
	OpportunityID string `json:"opportunity_id" binding:"required"`
	UserID        string `json:"user_id" binding:"required"`
}

type Config struct {
	// TTL is the lifetime given to opportunities created without a deadline.
	TTL              time.Duration
	DefaultProfileID string
}

type Service struct {
	repo     *storage.Repository
	analyzer Analyzer
	engine   TradeExecutor
	users    UserConfigs
	locker   distributedlock.Locker
	events   EventPublisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo *storage.Repository,
	analyzer Analyzer,
	engine TradeExecutor,
	users UserConfigs,
	locker distributedlock.Locker,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		analyzer: analyzer,
		engine:   engine,
		users:    users,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetEventPublisher enables lifecycle events; nil disables them.
func (s *Service) SetEventPublisher(events EventPublisher) {
	s.events = events
}

func (s *Service) publish(ctx context.Context, opp *models.Opportunity, trade *models.Trade) {
	if s.events == nil {
		return
	}
	if trade != nil {
		if err := s.events.PublishTrade(ctx, trade); err != nil {
			s.logger.Warn("Failed to publish trade event", zap.String("trade_id", trade.ID), zap.Error(err))
		}
	}
	if opp != nil {
		if err := s.events.PublishOpportunity(ctx, opp); err != nil {
			s.logger.Warn("Failed to publish opportunity event", zap.String("opportunity_id", opp.ID), zap.Error(err))
		}
	}
}

// Create validates and stores a new opportunity in state NEW.
func (s *Service) Create(ctx context.Context, opp *models.Opportunity) (*models.Opportunity, error) {
	if opp.UserID == "" {
		return nil, apperror.Validation("user_id is required")
	}
	if strings.TrimSpace(opp.Symbol) == "" {
		return nil, apperror.Validation("symbol is required")
	}
	dir := opp.InitialSignal.Direction
	if dir != models.SignalDirectionBuy && dir != models.SignalDirectionSell {
		return nil, apperror.Validation("invalid signal direction %q", dir)
	}
	if opp.SourceType == "" {
		opp.SourceType = models.SourceTypeManual
	}

	now := s.now().UTC()
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}
	opp.Symbol = exchange.NormalizeSymbol(opp.Symbol)
	opp.Status = models.OpportunityStatusNew
	opp.AIAnalysis = nil
	opp.TradeIDs = nil
	opp.CreatedAt = now
	opp.UpdatedAt = now
	if opp.ExpiresAt == nil && s.cfg.TTL > 0 {
		exp := now.Add(s.cfg.TTL)
		opp.ExpiresAt = &exp
	}

	if err := s.repo.SaveOpportunity(ctx, opp); err != nil {
		return nil, fmt.Errorf("failed to save opportunity: %w", err)
	}
	s.logger.Info("Opportunity created",
		zap.String("opportunity_id", opp.ID),
		zap.String("user_id", opp.UserID),
		zap.String("symbol", opp.Symbol),
		zap.String("source", string(opp.SourceType)))
	s.publish(ctx, opp, nil)
	return opp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Opportunity, error) {
	opp, err := s.repo.GetOpportunity(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apperror.NotFound("opportunity %s not found", id)
		}
		return nil, err
	}
	return opp, nil
}

func (s *Service) List(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, error) {
	return s.repo.ListOpportunities(ctx, filter)
}

// transition moves opp to status and persists it.
func (s *Service) transition(ctx context.Context, opp *models.Opportunity, to models.OpportunityStatus, reason string) error {
	if !CanTransition(opp.Status, to) {
		return apperror.InvalidState("opportunity %s cannot move from %s to %s", opp.ID, opp.Status, to)
	}
	opp.Status = to
	opp.StatusReason = reason
	opp.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveOpportunity(ctx, opp); err != nil {
		return err
	}
	s.publish(ctx, opp, nil)
	return nil
}

// withUser runs fn on a freshly loaded opportunity under its user's lock.
func (s *Service) withUser(ctx context.Context, id string, fn func(opp *models.Opportunity) error) (*models.Opportunity, error) {
	opp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, distributedlock.UserKey(opp.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	if opp, err = s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := fn(opp); err != nil {
		return opp, err
	}
	return opp, nil
}

func (s *Service) loadStrategy(ctx context.Context, opp *models.Opportunity) (*models.TradingStrategyConfig, error) {
	strategy, err := s.repo.GetStrategy(ctx, opp.StrategyID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apperror.NotFound("strategy %s not found", opp.StrategyID)
		}
		return nil, err
	}
	if strategy.UserID != "" && strategy.UserID != opp.UserID {
		return nil, apperror.Forbidden("strategy %s belongs to another user", strategy.ID)
	}
	return strategy, nil
}

func (s *Service) loadProfile(ctx context.Context, strategy *models.TradingStrategyConfig) (*models.AIProfile, error) {
	id := strategy.AIProfileID
	if id == "" {
		id = s.cfg.DefaultProfileID
	}
	if id == "" {
		return nil, nil
	}
	profile, err := s.repo.GetAIProfile(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			s.logger.Debug("AI profile not found, using defaults", zap.String("profile_id", id))
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

// Analyze runs AI analysis on a NEW (or previously failed) opportunity and
// applies the decision: pending real confirmation, automatic paper trade,
// or rejection.
func (s *Service) Analyze(ctx context.Context, id string) (*models.Opportunity, error) {
	var strategy *models.TradingStrategyConfig
	opp, err := s.withUser(ctx, id, func(opp *models.Opportunity) error {
		if opp.Status != models.OpportunityStatusNew && opp.Status != models.OpportunityStatusAnalysisFailed {
			return apperror.InvalidState("opportunity %s is %s and cannot be analysed", opp.ID, opp.Status)
		}
		if opp.Expired(s.now()) {
			if err := s.transition(ctx, opp, models.OpportunityStatusExpired, "expired before analysis"); err != nil {
				return err
			}
			return apperror.InvalidState("opportunity %s has expired", opp.ID)
		}
		var err error
		if strategy, err = s.loadStrategy(ctx, opp); err != nil {
			return err
		}
		return s.transition(ctx, opp, models.OpportunityStatusUnderAnalysis, "")
	})
	if err != nil {
		return opp, err
	}

	log := s.logger.With(zap.String("opportunity_id", opp.ID), zap.String("user_id", opp.UserID))

	profile, err := s.loadProfile(ctx, strategy)
	if err != nil {
		return s.abandonAnalysis(ctx, opp, err)
	}
	result, err := s.analyzer.Analyze(ctx, opp, strategy, profile)
	if err != nil {
		log.Warn("Opportunity analysis failed", zap.Error(err))
		return s.abandonAnalysis(ctx, opp, err)
	}

	// The decision runs under the lock on the stored copy; a concurrent
	// writer may have moved the opportunity while the model was running.
	toPaper := false
	opp, err = s.withUser(ctx, id, func(fresh *models.Opportunity) error {
		if fresh.Status != models.OpportunityStatusUnderAnalysis {
			return apperror.InvalidState("opportunity %s moved to %s during analysis", fresh.ID, fresh.Status)
		}
		ucfg, err := s.users.Get(ctx, fresh.UserID)
		if err != nil {
			return s.failAnalysis(ctx, fresh, err)
		}

		fresh.AIAnalysis = result
		if err := s.transition(ctx, fresh, models.OpportunityStatusAnalyzed, ""); err != nil {
			return err
		}

		paper, live := s.analyzer.ResolveThresholds(profile)
		actionable := result.SuggestedAction.IsActionable()
		switch {
		case actionable && result.Confidence >= live && ucfg.RealTrading.RealTradingModeActive && strategy.RealActive:
			log.Info("Opportunity awaiting real confirmation", zap.Float64("confidence", result.Confidence))
			return s.transition(ctx, fresh, models.OpportunityStatusPendingUserConfirmationReal,
				fmt.Sprintf("confidence %.2f meets real threshold %.2f", result.Confidence, live))
		case actionable && result.Confidence >= paper && strategy.PaperActive:
			toPaper = true
			return nil
		default:
			reason := rejectionReason(result, actionable, paper, strategy)
			log.Info("Opportunity rejected", zap.String("reason", reason))
			return s.transition(ctx, fresh, models.OpportunityStatusRejected, reason)
		}
	})
	if err != nil || !toPaper {
		return opp, err
	}

	// The engine takes the user lock itself and re-checks ANALYZED.
	trade, err := s.engine.ExecutePaperTrade(ctx, opp.ID)
	if err != nil {
		log.Warn("Paper execution failed", zap.Error(err))
		s.rejectIf(ctx, opp.ID, models.OpportunityStatusAnalyzed, "paper execution failed: "+err.Error())
		return s.reload(ctx, opp), err
	}
	converted := s.reload(ctx, opp)
	s.publish(ctx, converted, trade)
	return converted, nil
}

func rejectionReason(result *models.AIAnalysisResult, actionable bool, paper float64, strategy *models.TradingStrategyConfig) string {
	switch {
	case !actionable:
		return fmt.Sprintf("suggested action %s is not actionable", result.SuggestedAction)
	case result.Confidence < paper:
		return fmt.Sprintf("confidence %.2f below paper threshold %.2f", result.Confidence, paper)
	case !strategy.PaperActive:
		return "strategy is not active for paper trading"
	default:
		return "no execution path enabled"
	}
}

func (s *Service) failAnalysis(ctx context.Context, opp *models.Opportunity, cause error) error {
	if err := s.transition(ctx, opp, models.OpportunityStatusAnalysisFailed, cause.Error()); err != nil {
		s.logger.Error("Failed to record analysis failure", zap.String("opportunity_id", opp.ID), zap.Error(err))
	}
	return cause
}

// abandonAnalysis records cause as ANALYSIS_FAILED if the opportunity is
// still under analysis, and returns cause.
func (s *Service) abandonAnalysis(ctx context.Context, opp *models.Opportunity, cause error) (*models.Opportunity, error) {
	fresh, err := s.withUser(ctx, opp.ID, func(fresh *models.Opportunity) error {
		if fresh.Status != models.OpportunityStatusUnderAnalysis {
			return nil
		}
		return s.failAnalysis(ctx, fresh, cause)
	})
	if fresh == nil {
		s.logger.Error("Failed to reload opportunity after analysis failure", zap.String("opportunity_id", opp.ID), zap.Error(err))
		return opp, cause
	}
	return fresh, cause
}

func (s *Service) reload(ctx context.Context, opp *models.Opportunity) *models.Opportunity {
	fresh, err := s.Get(ctx, opp.ID)
	if err != nil {
		return opp
	}
	return fresh
}

// rejectIf marks the opportunity REJECTED only if it is still in state from.
func (s *Service) rejectIf(ctx context.Context, id string, from models.OpportunityStatus, reason string) {
	_, err := s.withUser(ctx, id, func(opp *models.Opportunity) error {
		if opp.Status != from {
			return nil
		}
		return s.transition(ctx, opp, models.OpportunityStatusRejected, reason)
	})
	if err != nil {
		s.logger.Error("Failed to reject opportunity", zap.String("opportunity_id", id), zap.Error(err))
	}
}

// ConfirmReal records the user's confirmation of a pending real trade and
// executes it. pathID comes from the URL, actorUserID from authentication.
func (s *Service) ConfirmReal(ctx context.Context, pathID string, req ConfirmRequest, actorUserID string) (*models.Trade, error) {
	if pathID != req.OpportunityID {
		return nil, apperror.Validation("opportunity id in path (%s) does not match body (%s)", pathID, req.OpportunityID)
	}
	if actorUserID == "" || actorUserID != req.UserID {
		return nil, apperror.Forbidden("cannot confirm opportunities for another user")
	}

	_, err := s.withUser(ctx, pathID, func(opp *models.Opportunity) error {
		if opp.UserID != req.UserID {
			return apperror.Forbidden("opportunity %s belongs to another user", opp.ID)
		}
		if opp.Status != models.OpportunityStatusPendingUserConfirmationReal {
			return apperror.InvalidState("opportunity %s is %s, not awaiting confirmation", opp.ID, opp.Status)
		}
		if opp.Expired(s.now()) {
			if err := s.transition(ctx, opp, models.OpportunityStatusExpired, "expired before confirmation"); err != nil {
				return err
			}
			return apperror.InvalidState("opportunity %s has expired", opp.ID)
		}
		ucfg, err := s.users.Get(ctx, opp.UserID)
		if err != nil {
			return err
		}
		if !ucfg.RealTrading.RealTradingModeActive {
			return apperror.Forbidden("real trading mode is not active")
		}
		return s.transition(ctx, opp, models.OpportunityStatusConfirmed, "confirmed by user")
	})
	if err != nil {
		return nil, err
	}

	trade, err := s.engine.ExecuteTradeFromConfirmedOpportunity(ctx, pathID)
	if err != nil {
		if !apperror.HasKind(err, apperror.KindReconciliation) && !apperror.HasKind(err, apperror.KindInvalidState) {
			s.rejectIf(ctx, pathID, models.OpportunityStatusConfirmed, "real execution failed: "+err.Error())
		}
		return nil, err
	}
	if opp, err := s.Get(ctx, pathID); err == nil {
		s.publish(ctx, opp, trade)
	}
	return trade, nil
}

// ExpireStale moves every open opportunity whose deadline passed to EXPIRED
// and returns how many changed.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.ListOpportunities(ctx, models.OpportunityFilter{Statuses: expirable})
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for i := range candidates {
		if !candidates[i].Expired(now) {
			continue
		}
		_, err := s.withUser(ctx, candidates[i].ID, func(opp *models.Opportunity) error {
			if !opp.Expired(now) || !CanTransition(opp.Status, models.OpportunityStatusExpired) {
				return nil
			}
			if err := s.transition(ctx, opp, models.OpportunityStatusExpired, "expired"); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if expired > 0 {
		s.logger.Info("Expired stale opportunities", zap.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}
