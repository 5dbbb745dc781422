package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry"
	memorystore "github.com/skillhub/registry/pkg/registry/repo/memory"
)

func seedItem(t *testing.T, store *memorystore.Store, slug string) *registry.Item {
	t.Helper()
	now := time.Now().UTC()
	item := &registry.Item{
		ID:               uuid.New(),
		Kind:             registry.ItemKindSkill,
		Slug:             slug,
		DisplayName:      slug,
		OwnerID:          uuid.New(),
		Tags:             map[string]uuid.UUID{},
		ModerationStatus: registry.ModerationActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func appendEvent(t *testing.T, store *memorystore.Store, itemID uuid.UUID, kind registry.StatEventKind, delta int64, at time.Time) *registry.StatEvent {
	t.Helper()
	ev := &registry.StatEvent{ItemID: itemID, Kind: kind, Delta: delta, OccurredAt: at}
	require.NoError(t, store.AppendStatEvent(context.Background(), ev))
	return ev
}

func TestDrainOnceAppliesCounters(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")
	now := time.Now().UTC()

	appendEvent(t, store, item.ID, registry.StatDownload, 1, now)
	appendEvent(t, store, item.ID, registry.StatDownload, 1, now.Add(time.Millisecond))
	appendEvent(t, store, item.ID, registry.StatStar, 1, now.Add(2*time.Millisecond))
	appendEvent(t, store, item.ID, registry.StatInstallAdd, 1, now.Add(3*time.Millisecond))

	n, err := agg.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.StatsDownloads)
	assert.Equal(t, int64(1), got.StatsStars)
	assert.Equal(t, int64(1), got.StatsInstalls)

	// The cursor advanced to the last applied event.
	cur, err := store.GetCursor(ctx, "live")
	require.NoError(t, err)
	assert.False(t, cur.Position.Before(now))

	// Nothing left to drain.
	n, err = agg.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainOnceSkipsPoisonEvent(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{PoisonRetries: 2})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")
	now := time.Now().UTC()

	appendEvent(t, store, item.ID, registry.StatEventKind("bogus"), 1, now)
	appendEvent(t, store, item.ID, registry.StatDownload, 1, now.Add(time.Millisecond))

	n, err := agg.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The poison event is marked processed so it never blocks the drain,
	// and the good event behind it was still applied.
	remaining, err := store.ListUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.StatsDownloads)
}

func TestStarsNeverGoNegative(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")
	now := time.Now().UTC()

	appendEvent(t, store, item.ID, registry.StatUnstar, -1, now)

	_, err := agg.DrainOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Zero(t, got.StatsStars)
}

func TestRollupDayIdempotent(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	day := registry.DayOf(at)
	appendEvent(t, store, item.ID, registry.StatDownload, 1, at)
	appendEvent(t, store, item.ID, registry.StatDownload, 1, at.Add(time.Hour))
	appendEvent(t, store, item.ID, registry.StatInstallAdd, 1, at.Add(2*time.Hour))
	// A star event on the same day does not contribute to the rollup.
	appendEvent(t, store, item.ID, registry.StatStar, 1, at.Add(3*time.Hour))

	require.NoError(t, agg.RollupDay(ctx, day))
	require.NoError(t, agg.RollupDay(ctx, day))

	rows, err := store.ListDailyRange(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, item.ID, rows[0].ItemID)
	assert.Equal(t, int64(2), rows[0].Downloads)
	assert.Equal(t, int64(1), rows[0].Installs)
}

func TestRollupDueRunsOncePerDay(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")

	now := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	appendEvent(t, store, item.ID, registry.StatDownload, 1, yesterday)

	require.NoError(t, agg.RollupDue(ctx, now))
	rows, err := store.ListDailyRange(ctx, registry.DayOf(yesterday), registry.DayOf(yesterday))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// More events arriving after the day was rolled do not re-open it
	// within the same day.
	appendEvent(t, store, item.ID, registry.StatDownload, 5, yesterday.Add(time.Hour))
	require.NoError(t, agg.RollupDue(ctx, now.Add(time.Hour)))

	rows, err = store.ListDailyRange(ctx, registry.DayOf(yesterday), registry.DayOf(yesterday))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Downloads)
}

func TestRollupDueCatchesUpMissedDays(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")

	// The aggregator last ran three days ago, then was down for two days.
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	lastRolled := now.AddDate(0, 0, -4)
	require.NoError(t, store.SetCursor(ctx, &registry.StatCursor{
		Key:       "rollup",
		Position:  lastRolled,
		UpdatedAt: lastRolled,
	}))

	twoDaysAgo := now.AddDate(0, 0, -2)
	yesterday := now.AddDate(0, 0, -1)
	appendEvent(t, store, item.ID, registry.StatDownload, 3, twoDaysAgo)
	appendEvent(t, store, item.ID, registry.StatDownload, 2, yesterday)

	require.NoError(t, agg.RollupDue(ctx, now))

	// Both missed days were rolled, not just yesterday.
	rows, err := store.ListDailyRange(ctx, registry.DayOf(twoDaysAgo), registry.DayOf(yesterday))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byDay := map[int]int64{}
	for _, r := range rows {
		byDay[r.Day] = r.Downloads
	}
	assert.Equal(t, int64(3), byDay[registry.DayOf(twoDaysAgo)])
	assert.Equal(t, int64(2), byDay[registry.DayOf(yesterday)])

	// The cursor caught up to yesterday; a re-run is a no-op.
	cur, err := store.GetCursor(ctx, "rollup")
	require.NoError(t, err)
	assert.Equal(t, registry.DayOf(yesterday), registry.DayOf(cur.Position))
	require.NoError(t, agg.RollupDue(ctx, now))
	rows, err = store.ListDailyRange(ctx, registry.DayOf(twoDaysAgo), registry.DayOf(yesterday))
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestGenerateLeaderboard(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{LeaderboardSize: 2})
	ctx := context.Background()

	first := seedItem(t, store, "first")
	second := seedItem(t, store, "second")
	third := seedItem(t, store, "third")

	day1 := 20260301
	day2 := 20260302
	upsert := func(itemID uuid.UUID, day int, downloads, installs int64) {
		require.NoError(t, store.UpsertDailyStat(ctx, &registry.DailyStat{
			ItemID:    itemID,
			Day:       day,
			Downloads: downloads,
			Installs:  installs,
			UpdatedAt: time.Now().UTC(),
		}))
	}
	upsert(first.ID, day1, 10, 2)
	upsert(first.ID, day2, 5, 0)
	upsert(second.ID, day1, 3, 1)
	upsert(third.ID, day2, 1, 0)

	lb, err := agg.GenerateLeaderboard(ctx, string(registry.ItemKindSkill), day1, day2)
	require.NoError(t, err)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, first.ID, lb.Entries[0].ItemID)
	assert.Equal(t, int64(17), lb.Entries[0].Score)
	assert.Equal(t, int64(15), lb.Entries[0].Downloads)
	assert.Equal(t, second.ID, lb.Entries[1].ItemID)
	assert.Equal(t, int64(4), lb.Entries[1].Score)

	saved, err := store.GetLatestLeaderboard(ctx, string(registry.ItemKindSkill))
	require.NoError(t, err)
	assert.Equal(t, lb.ID, saved.ID)
}

func TestBackfillRecomputesCounters(t *testing.T) {
	store := memorystore.New()
	agg := registry.NewAggregator(store, nil, registry.AggregatorOptions{BatchSize: 2})
	ctx := context.Background()
	item := seedItem(t, store, "pdf-tools")
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		appendEvent(t, store, item.ID, registry.StatDownload, 1, now.Add(time.Duration(i)*time.Millisecond))
	}
	_, err := agg.DrainOnce(ctx)
	require.NoError(t, err)
	_, err = agg.DrainOnce(ctx)
	require.NoError(t, err)
	_, err = agg.DrainOnce(ctx)
	require.NoError(t, err)

	// An event the live drain has not consumed yet must not be counted
	// by the backfill, or the later drain would double-apply it.
	pending := appendEvent(t, store, item.ID, registry.StatDownload, 1, now.Add(time.Second))

	// Simulate drift.
	require.NoError(t, store.SetItemCounters(ctx, item.ID, registry.StatTotals{Downloads: 99}))
	assert.ErrorIs(t, agg.CheckConsistency(ctx, item.ID), registry.ErrInconsistent)

	require.NoError(t, agg.Backfill(ctx, "repair-1"))

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.StatsDownloads)
	assert.NoError(t, agg.CheckConsistency(ctx, item.ID))

	state, err := store.GetBackfillState(ctx, "repair-1")
	require.NoError(t, err)
	require.NotNil(t, state.DoneAt)
	assert.Equal(t, pending.ID, state.Cursor)

	// A completed backfill is a no-op on re-run.
	require.NoError(t, agg.Backfill(ctx, "repair-1"))
}
