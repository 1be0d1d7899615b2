package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/drift"
)

// Archive is the read side of the historical bucket.
type Archive interface {
	SettlePnl(ctx context.Context, programID solana.PublicKey, user solana.PublicKey, daysBack int) ([]drift.SettlePnlRecord, error)
}

// Backfiller pulls archive days for a set of users and lands them in the
// store, skipping days already covered by stored rows.
type Backfiller struct {
	archive Archive
	store   *Store
	logger  *slog.Logger
}

func NewBackfiller(archive Archive, store *Store, logger *slog.Logger) *Backfiller {
	return &Backfiller{archive: archive, store: store, logger: logger}
}

// Run backfills up to maxDays of settle-pnl rows per user. When the store
// already holds rows for a user, only the gap since the newest stored ts is
// fetched.
func (b *Backfiller) Run(ctx context.Context, programID solana.PublicKey, users []solana.PublicKey, maxDays int) error {
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}

		daysBack := maxDays
		latest, err := b.store.LatestSettlePnlTs(ctx, user.String())
		if err != nil {
			return err
		}
		if latest > 0 {
			gap := int(time.Since(time.Unix(latest, 0)).Hours()/24) + 1
			if gap < daysBack {
				daysBack = gap
			}
		}

		records, err := b.archive.SettlePnl(ctx, programID, user, daysBack)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", user, err)
		}
		if err := b.store.UpsertSettlePnlRecords(ctx, records); err != nil {
			return fmt.Errorf("store rows for %s: %w", user, err)
		}
		b.logger.Info("backfilled settle pnl",
			"user", user, "days", daysBack, "rows", len(records))
	}
	return nil
}
