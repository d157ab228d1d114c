package service

import (
	"context"
	"log/slog"

	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

// RuleStatsStore is the persistence contract for counter updates.
type RuleStatsStore interface {
	ApplyRunStats(ctx context.Context, id string, stats models.RunStats) error
}

// Stats is the statistics accumulator: one durable counter update per run,
// invoked by whichever path executed it (CDC or manual), so a single run is
// never counted twice. A persistence failure here is logged and absorbed;
// accounting must never take the pipeline down.
type Stats struct {
	store  RuleStatsStore
	logger *slog.Logger
}

func NewStats(store RuleStatsStore, logger *slog.Logger) *Stats {
	return &Stats{store: store, logger: logger}
}

// RecordRun persists the run outcome on the rule and mirrors it into the
// Prometheus counters.
func (s *Stats) RecordRun(ctx context.Context, rule models.SyncRule, stats models.RunStats) {
	if stats.Attempted == 0 {
		return
	}

	if err := s.store.ApplyRunStats(ctx, rule.ID, stats); err != nil {
		s.logger.Error("Failed to persist run statistics",
			"rule_id", rule.ID,
			"table", rule.TableName,
			"error", err,
		)
	}

	origin := string(stats.Origin)
	metrics.RecordsDelivered.WithLabelValues("success", rule.TableName, origin).Add(float64(stats.Succeeded))
	metrics.RecordsDelivered.WithLabelValues("failed", rule.TableName, origin).Add(float64(stats.Failed))
}
