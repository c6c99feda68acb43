package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/t59688/btx/internal/models"
)

const sweepBatchSize = 50

// Sweeper periodically fails artworks that have been processing for
// too long, usually because the server died mid-generation, and
// refunds their cost.
type Sweeper struct {
	artworks ArtworkStore
	styles   StyleStore
	ledger   Ledger
	interval time.Duration
	stallAge time.Duration
	log      *slog.Logger
}

func NewSweeper(artworks ArtworkStore, styles StyleStore, ledger Ledger, interval, stallAge time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if stallAge <= 0 {
		stallAge = 30 * time.Minute
	}
	return &Sweeper{
		artworks: artworks,
		styles:   styles,
		ledger:   ledger,
		interval: interval,
		stallAge: stallAge,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every stalled processing artwork it can find. Each
// failure goes through the same conditional transition as the live
// pipeline, so a sweep racing a slow completion is harmless.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.stallAge)
	stalled, err := s.artworks.ListStalledProcessing(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.log.Error("listing stalled artworks failed", "error", err)
		return
	}
	if len(stalled) == 0 {
		return
	}
	s.log.Info("sweeping stalled artworks", "count", len(stalled), "cutoff", cutoff)

	for i := range stalled {
		art := &stalled[i]
		cost := 0
		style, err := s.styles.Get(ctx, art.StyleID)
		if err != nil {
			s.log.Warn("loading style for stalled artwork failed", "artwork_id", art.ID, "error", err)
		} else if style != nil {
			cost = style.CreditsCost
		}

		won, err := s.artworks.MarkFailed(ctx, art.ID, "生成超时，已自动取消")
		if err != nil {
			s.log.Error("failing stalled artwork failed", "artwork_id", art.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		if cost > 0 {
			relatedID := art.ID
			if _, err := s.ledger.Adjust(ctx, art.UserID, cost, models.CreditRefund, "生成超时退款", &relatedID); err != nil {
				s.log.Error("refund for stalled artwork failed", "artwork_id", art.ID, "user_id", art.UserID, "error", err)
			}
		}
	}
}
