package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredCanceller interface {
	CancelExpired(ctx context.Context, limit int) (int, error)
}

// runExpirySweeper cancels pending orders past their payment window every
// interval until ctx is done. A full batch is followed immediately by
// another sweep.
func runExpirySweeper(ctx context.Context, lg *zap.Logger, orders expiredCanceller, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for ctx.Err() == nil {
			n, err := orders.CancelExpired(ctx, batch)
			if err != nil {
				if ctx.Err() == nil {
					lg.Warn("Expiry sweep failed", zap.Int("cancelled", n), zap.Error(err))
				}
				break
			}
			if n > 0 {
				lg.Info("Cancelled expired orders", zap.Int("count", n))
			}
			if n < batch {
				break
			}
		}
	}
}
