package services

import (
	"context"
	"time"

	"ticketintel/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler 定时执行 SLA 评估与标签建议重算
type Scheduler struct {
	sla                *SLAService
	suggestions        *SuggestionService
	slaInterval        time.Duration
	suggestionInterval time.Duration
	onlyOpen           bool
	logger             *logrus.Logger
}

// NewScheduler 间隔为 0 的任务不调度
func NewScheduler(sla *SLAService, suggestions *SuggestionService, cfg config.EngineConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		sla:                sla,
		suggestions:        suggestions,
		slaInterval:        cfg.SLA.Interval,
		suggestionInterval: cfg.Suggestions.Interval,
		onlyOpen:           cfg.Suggestions.OnlyOpen,
		logger:             logger,
	}
}

// Run 阻塞直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.sla != nil && s.slaInterval > 0 {
		g.Go(func() error {
			s.sla.StartMonitor(ctx, s.slaInterval)
			return nil
		})
	}
	if s.suggestions != nil && s.suggestionInterval > 0 {
		g.Go(func() error {
			s.runSuggestions(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runSuggestions(ctx context.Context) {
	s.logger.Info("Starting suggestion recompute schedule")

	ticker := time.NewTicker(s.suggestionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Suggestion recompute schedule stopped")
			return
		case <-ticker.C:
			_, err := s.suggestions.Recompute(ctx, RecomputeOptions{OnlyOpen: s.onlyOpen})
			switch {
			case err == nil, ctx.Err() != nil:
			case IsKind(err, KindInvalidState):
				s.logger.Infof("Skipping scheduled recompute: %v", err)
			default:
				s.logger.Errorf("Scheduled recompute failed: %v", err)
			}
		}
	}
}
