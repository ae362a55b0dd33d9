package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/services/opportunity"
)

const (
	JobDetectSignals        = "detect_signals"
	JobScanNewOpportunities = "scan_new_opportunities"
	JobExpireOpportunities  = "expire_opportunities"
)

type Scanner interface {
	DetectSignals(ctx context.Context) (int, error)
	AnalyzeNew(ctx context.Context) (opportunity.ScanSummary, error)
}

type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// RegisterPipeline adds the opportunity pipeline jobs using the specs in cfg.
func RegisterPipeline(s *Scheduler, cfg config.SchedulerConfig, scanner Scanner, expirer Expirer) error {
	jobs := []struct {
		name string
		spec string
		job  Job
	}{
		{JobDetectSignals, cfg.DetectSpec, func(ctx context.Context) error {
			_, err := scanner.DetectSignals(ctx)
			return err
		}},
		{JobScanNewOpportunities, cfg.ScanSpec, func(ctx context.Context) error {
			_, err := scanner.AnalyzeNew(ctx)
			return err
		}},
		{JobExpireOpportunities, cfg.ExpirySpec, func(ctx context.Context) error {
			_, err := expirer.ExpireStale(ctx, time.Now().UTC())
			return err
		}},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return fmt.Errorf("failed to register pipeline: %w", err)
		}
	}
	return nil
}
