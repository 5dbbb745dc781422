package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AggregatorOptions tunes the stats drain loop.
type AggregatorOptions struct {
	// CursorKey names this consumer's watermark. Only one active
	// consumer may drain a given key at a time.
	CursorKey string
	// BatchSize bounds events per drain pass.
	BatchSize int
	// PollInterval is the idle wait between drain passes in Run.
	PollInterval time.Duration
	// PoisonRetries bounds apply attempts before an event is skipped.
	PoisonRetries int
	// LeaderboardSize bounds entries per leaderboard snapshot.
	LeaderboardSize int
}

// Aggregator drains the append-only stat-event log into denormalized item
// counters, daily rollups, and leaderboard snapshots, resuming from a
// persisted cursor. It is the only writer of the counters it owns.
type Aggregator struct {
	store  Store
	logger *slog.Logger
	opts   AggregatorOptions
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store, logger *slog.Logger, opts AggregatorOptions) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CursorKey == "" {
		opts.CursorKey = "live"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PoisonRetries <= 0 {
		opts.PoisonRetries = 3
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = 50
	}
	return &Aggregator{store: store, logger: logger, opts: opts}
}

// DrainOnce consumes one batch of unprocessed events in occurredAt order.
// Each event's counter delta, processed mark, and cursor advance are one
// atomic store operation, so a crash mid-batch re-processes at most the
// in-flight event and never skips one. A poison event is retried a
// bounded number of times, then skipped so the drain keeps moving.
func (a *Aggregator) DrainOnce(ctx context.Context) (int, error) {
	events, err := a.store.ListUnprocessedEvents(ctx, a.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed events: %w", err)
	}

	processed := 0
	for _, ev := range events {
		var applyErr error
		for attempt := 0; attempt < a.opts.PoisonRetries; attempt++ {
			if applyErr = a.store.ApplyStatEvent(ctx, ev, a.opts.CursorKey); applyErr == nil {
				break
			}
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
		}
		if applyErr != nil {
			a.logger.Error("poison stat event skipped",
				"event", ev.ID, "item", ev.ItemID, "kind", ev.Kind, "err", applyErr)
			if err := a.store.SkipStatEvent(ctx, ev, a.opts.CursorKey); err != nil {
				return processed, fmt.Errorf("skip event %d: %w", ev.ID, err)
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// Run polls for events until ctx is cancelled, draining repeatedly while
// work remains and rolling up the previous UTC day when due.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			n, err := a.DrainOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("stat drain failed", "err", err)
				break
			}
			if n == 0 {
				break
			}
		}
		if err := a.RollupDue(ctx, time.Now().UTC()); err != nil {
			a.logger.Error("daily rollup failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

const rollupCursorKey = "rollup"

// maxRollupCatchUpDays bounds how far back a single RollupDue call will
// reach after downtime. Older gaps are left for an explicit Backfill.
const maxRollupCatchUpDays = 30

// RollupDue rolls up every completed UTC day the guard cursor has not
// covered yet, from the day after the cursor through yesterday. The
// cursor advances after each day so an interrupted catch-up resumes
// where it stopped.
func (a *Aggregator) RollupDue(ctx context.Context, now time.Time) error {
	target := now.AddDate(0, 0, -1)

	from := target
	if cur, err := a.store.GetCursor(ctx, rollupCursorKey); err == nil {
		if DayOf(cur.Position) >= DayOf(target) {
			return nil
		}
		from = cur.Position.AddDate(0, 0, 1)
	}
	if oldest := target.AddDate(0, 0, -(maxRollupCatchUpDays - 1)); from.Before(oldest) {
		from = oldest
	}

	for d := from; DayOf(d) <= DayOf(target); d = d.AddDate(0, 0, 1) {
		if err := a.RollupDay(ctx, DayOf(d)); err != nil {
			return err
		}
		if err := a.store.SetCursor(ctx, &StatCursor{
			Key:       rollupCursorKey,
			Position:  d,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// RollupDay folds the day's download/install deltas into per-item daily
// rows. The upsert replaces, so re-running a day is idempotent.
func (a *Aggregator) RollupDay(ctx context.Context, day int) error {
	totals, err := a.store.AggregateDay(ctx, day)
	if err != nil {
		return fmt.Errorf("aggregate day %d: %w", day, err)
	}
	now := time.Now().UTC()
	for _, t := range totals {
		if err := a.store.UpsertDailyStat(ctx, &DailyStat{
			ItemID:    t.ItemID,
			Day:       day,
			Downloads: t.Downloads,
			Installs:  t.Installs,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("upsert daily stat for %s: %w", t.ItemID, err)
		}
	}
	a.logger.Info("daily rollup complete", "day", day, "items", len(totals))
	return nil
}

// GenerateLeaderboard computes a ranked snapshot from a range of daily
// rollups. Leaderboards are a cache over the rollups and regenerate
// idempotently.
func (a *Aggregator) GenerateLeaderboard(ctx context.Context, kind string, startDay, endDay int) (*Leaderboard, error) {
	rows, err := a.store.ListDailyRange(ctx, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("list daily range: %w", err)
	}

	byItem := make(map[uuid.UUID]*LeaderboardEntry)
	for _, r := range rows {
		e := byItem[r.ItemID]
		if e == nil {
			e = &LeaderboardEntry{ItemID: r.ItemID}
			byItem[r.ItemID] = e
		}
		e.Downloads += r.Downloads
		e.Installs += r.Installs
		e.Score += r.Downloads + r.Installs
	}

	entries := make([]LeaderboardEntry, 0, len(byItem))
	for _, e := range byItem {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ItemID.String() < entries[j].ItemID.String()
	})
	if len(entries) > a.opts.LeaderboardSize {
		entries = entries[:a.opts.LeaderboardSize]
	}

	lb := &Leaderboard{
		ID:            uuid.New(),
		Kind:          kind,
		GeneratedAt:   time.Now().UTC(),
		RangeStartDay: startDay,
		RangeEndDay:   endDay,
		Entries:       entries,
	}
	if err := a.store.SaveLeaderboard(ctx, lb); err != nil {
		return nil, fmt.Errorf("save leaderboard: %w", err)
	}
	return lb, nil
}

// Backfill recomputes item counters from the full processed event log
// under its own cursor/doneAt record, independent of the live drain's
// watermark. Unprocessed events are left to the live drain so the two
// consumers never apply the same delta twice.
func (a *Aggregator) Backfill(ctx context.Context, key string) error {
	state, err := a.store.GetBackfillState(ctx, key)
	if err == nil && state.DoneAt != nil {
		return nil
	}

	totals := make(map[uuid.UUID]*StatTotals)
	var cursor int64
	for {
		events, err := a.store.ListEventsAfter(ctx, cursor, a.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list events after %d: %w", cursor, err)
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			cursor = ev.ID
			if ev.ProcessedAt == nil {
				continue
			}
			t := totals[ev.ItemID]
			if t == nil {
				t = &StatTotals{}
				totals[ev.ItemID] = t
			}
			applyDelta(t, ev.Kind, ev.Delta)
		}
		if err := a.store.SetBackfillState(ctx, &BackfillState{
			Key:       key,
			Cursor:    cursor,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("persist backfill cursor: %w", err)
		}
	}

	for itemID, t := range totals {
		if err := a.store.SetItemCounters(ctx, itemID, *t); err != nil {
			return fmt.Errorf("set counters for %s: %w", itemID, err)
		}
	}

	done := time.Now().UTC()
	if err := a.store.SetBackfillState(ctx, &BackfillState{
		Key:       key,
		Cursor:    cursor,
		DoneAt:    &done,
		UpdatedAt: done,
	}); err != nil {
		return fmt.Errorf("mark backfill done: %w", err)
	}
	a.logger.Info("backfill complete", "key", key, "items", len(totals), "cursor", cursor)
	return nil
}

// CheckConsistency compares an item's live counters with the sum of its
// processed event deltas. Drift surfaces as ErrInconsistent for
// operators; the fix is re-running a backfill, never a user-facing error.
func (a *Aggregator) CheckConsistency(ctx context.Context, itemID uuid.UUID) error {
	totals, err := a.store.SumItemEventDeltas(ctx, itemID)
	if err != nil {
		return err
	}
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.StatsDownloads != totals.Downloads ||
		item.StatsStars != totals.Stars ||
		item.StatsInstalls != totals.Installs ||
		item.StatsComments != totals.Comments {
		return fmt.Errorf("%w: item %s counters (%d,%d,%d,%d) != event sums (%d,%d,%d,%d)",
			ErrInconsistent, itemID,
			item.StatsDownloads, item.StatsStars, item.StatsInstalls, item.StatsComments,
			totals.Downloads, totals.Stars, totals.Installs, totals.Comments)
	}
	return nil
}

// applyDelta maps an event kind onto the counter it moves.
func applyDelta(t *StatTotals, kind StatEventKind, delta int64) {
	switch kind {
	case StatDownload:
		t.Downloads += delta
	case StatStar, StatUnstar:
		t.Stars += delta
	case StatInstallAdd, StatInstallRemove:
		t.Installs += delta
	case StatComment, StatCommentRemove:
		t.Comments += delta
	}
}
