package resolution

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"socialpredict-amm/config"
	"socialpredict-amm/logger"
)

// Runner paces payout batches so a large market does not monopolise the
// database.
type Runner struct {
	svc       *Service
	limiter   *rate.Limiter
	batchSize int
	log       *zap.Logger
}

// NewRunner builds a Runner from the payout settings.
func NewRunner(svc *Service, cfg config.PayoutConfig, log *zap.Logger) *Runner {
	return &Runner{
		svc:       svc,
		limiter:   rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1),
		batchSize: cfg.BatchSize,
		log:       logger.OrNop(log),
	}
}

// Payout pays the winners of a resolved market at the configured pace.
func (r *Runner) Payout(ctx context.Context, marketID int64, outcome string) (*PayoutSummary, error) {
	r.log.Info("starting payout",
		zap.Int64("market_id", marketID),
		zap.String("outcome", outcome),
		zap.Int("batch_size", r.batchSize))
	return r.svc.payout(ctx, marketID, outcome, r.batchSize, r.limiter.Wait)
}

// ResolveAndPayout marks the market resolved and pays it out. If the
// payout stops part way, Payout can be run again to finish it.
func (r *Runner) ResolveAndPayout(ctx context.Context, marketID int64, outcome string) (*PayoutSummary, error) {
	if _, err := r.svc.MarkResolved(ctx, marketID, outcome); err != nil {
		return nil, err
	}
	return r.Payout(ctx, marketID, outcome)
}
