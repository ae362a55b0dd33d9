package opportunity

import (
	"context"
	"errors"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/workerpool"
	"github.com/irfndi/tradepilot/internal/storage"
	"go.uber.org/zap"
)

// SignalDetector turns a strategy's evaluation on one symbol into a new
// opportunity, or nil when there is no signal.
type SignalDetector interface {
	Detect(ctx context.Context, userID string, cfg *models.TradingStrategyConfig, symbol string) (*models.Opportunity, error)
}

// Scanner drives the periodic pipeline: detect signals for active
// strategies, then analyse every NEW opportunity on the worker pool.
type Scanner struct {
	service  *Service
	repo     *storage.Repository
	detector SignalDetector
	pool     *workerpool.Pool
	logger   *zap.Logger
}

func NewScanner(service *Service, repo *storage.Repository, detector SignalDetector, pool *workerpool.Pool, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{service: service, repo: repo, detector: detector, pool: pool, logger: logger}
}

// ScanSummary reports one pass.
type ScanSummary struct {
	Analyzed int
	Failed   int
}

// AnalyzeNew analyses all NEW opportunities concurrently.
func (s *Scanner) AnalyzeNew(ctx context.Context) (ScanSummary, error) {
	pending, err := s.repo.ListOpportunities(ctx, models.OpportunityFilter{
		Statuses: []models.OpportunityStatus{models.OpportunityStatusNew},
	})
	if err != nil {
		return ScanSummary{}, err
	}
	if len(pending) == 0 {
		return ScanSummary{}, nil
	}

	tasks := make([]workerpool.Task, len(pending))
	for i := range pending {
		id := pending[i].ID
		tasks[i] = workerpool.Task{
			ID: id,
			Execute: func(context.Context) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				_, err := s.service.Analyze(ctx, id)
				return err
			},
		}
	}

	var summary ScanSummary
	for _, r := range s.pool.RunAll(ctx, tasks) {
		if r.Error != nil {
			summary.Failed++
			s.logger.Warn("Opportunity analysis failed",
				zap.String("opportunity_id", r.TaskID),
				zap.Error(r.Error))
			continue
		}
		summary.Analyzed++
	}
	s.logger.Info("Opportunity scan finished",
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// DetectSignals evaluates every active strategy on the symbols listed in
// its "symbols" parameter and returns the opportunities created.
func (s *Scanner) DetectSignals(ctx context.Context) (int, error) {
	if s.detector == nil {
		return 0, nil
	}
	strategies, err := s.repo.ListStrategies(ctx, "")
	if err != nil {
		return 0, err
	}

	var (
		created int
		errs    []error
	)
	for i := range strategies {
		cfg := &strategies[i]
		if (!cfg.PaperActive && !cfg.RealActive) || cfg.UserID == "" {
			continue
		}
		for _, symbol := range symbols(cfg.Parameters) {
			opp, err := s.detector.Detect(ctx, cfg.UserID, cfg, symbol)
			if err != nil {
				errs = append(errs, err)
				s.logger.Warn("Signal detection failed",
					zap.String("strategy_id", cfg.ID),
					zap.String("symbol", symbol),
					zap.Error(err))
				continue
			}
			if opp != nil {
				created++
			}
		}
	}
	return created, errors.Join(errs...)
}

func symbols(params map[string]any) []string {
	switch v := params["symbols"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
