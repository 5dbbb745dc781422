package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry"
	"github.com/skillhub/registry/pkg/registry/repo/memory"
)

func newItem(slug string) *registry.Item {
	now := time.Now().UTC()
	return &registry.Item{
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
}

func newVersion(itemID uuid.UUID, version string, createdAt time.Time) *registry.Version {
	return &registry.Version{
		ID:        uuid.New(),
		ItemID:    itemID,
		Version:   version,
		CreatedBy: uuid.New(),
		CreatedAt: createdAt,
	}
}

func TestSlugUniquePerKind(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.CreateItem(ctx, newItem("pdf-tools")))

	err := store.CreateItem(ctx, newItem("pdf-tools"))
	assert.ErrorIs(t, err, registry.ErrSlugTaken)

	// The same slug under the other kind is a different namespace.
	persona := newItem("pdf-tools")
	persona.Kind = registry.ItemKindPersona
	assert.NoError(t, store.CreateItem(ctx, persona))
}

func TestVersionUniquePerItem(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))

	now := time.Now().UTC()
	require.NoError(t, store.CreateVersion(ctx, newVersion(item.ID, "1.0.0", now)))

	err := store.CreateVersion(ctx, newVersion(item.ID, "1.0.0", now))
	assert.ErrorIs(t, err, registry.ErrVersionExists)

	other := newItem("pdf-utils")
	require.NoError(t, store.CreateItem(ctx, other))
	assert.NoError(t, store.CreateVersion(ctx, newVersion(other.ID, "1.0.0", now)))
}

func TestStarAndReportUniquePerUser(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))
	user := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, store.CreateStar(ctx, &registry.Star{ItemID: item.ID, UserID: user, CreatedAt: now}))
	err := store.CreateStar(ctx, &registry.Star{ItemID: item.ID, UserID: user, CreatedAt: now})
	assert.ErrorIs(t, err, registry.ErrAlreadyStarred)

	require.NoError(t, store.DeleteStar(ctx, item.ID, user))
	assert.NoError(t, store.CreateStar(ctx, &registry.Star{ItemID: item.ID, UserID: user, CreatedAt: now}))

	require.NoError(t, store.CreateReport(ctx, &registry.Report{ItemID: item.ID, UserID: user, CreatedAt: now}))
	err = store.CreateReport(ctx, &registry.Report{ItemID: item.ID, UserID: user, CreatedAt: now})
	assert.ErrorIs(t, err, registry.ErrAlreadyReported)

	count, err := store.CountReports(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkEmbeddingLatestFlipsPrevious(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))

	now := time.Now().UTC()
	v1 := newVersion(item.ID, "1.0.0", now.Add(-time.Hour))
	v2 := newVersion(item.ID, "2.0.0", now)
	require.NoError(t, store.CreateVersion(ctx, v1))
	require.NoError(t, store.CreateVersion(ctx, v2))

	mark := func(v *registry.Version) error {
		return store.MarkEmbeddingLatest(ctx, &registry.Embedding{
			ID:         uuid.New(),
			ItemID:     item.ID,
			VersionID:  v.ID,
			OwnerID:    item.OwnerID,
			Vector:     []float32{1, 0, 0},
			IsLatest:   true,
			IsApproved: true,
			Visibility: registry.VisibilityLatest,
			UpdatedAt:  time.Now().UTC(),
		})
	}

	require.NoError(t, mark(v1))
	require.NoError(t, mark(v2))

	latest, err := store.ListLatestEmbeddings(ctx, registry.ItemKindSkill)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, v2.ID, latest[0].VersionID)

	// A late arrival for the older version stays non-latest.
	require.NoError(t, mark(v1))
	latest, err = store.ListLatestEmbeddings(ctx, registry.ItemKindSkill)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, v2.ID, latest[0].VersionID)
}

func TestApplyStatEventIdempotent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))

	ev := &registry.StatEvent{
		ItemID:     item.ID,
		Kind:       registry.StatDownload,
		Delta:      1,
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, store.AppendStatEvent(ctx, ev))

	require.NoError(t, store.ApplyStatEvent(ctx, ev, "live"))
	// Re-delivery of an already-processed event is a no-op, not a
	// double-count.
	require.NoError(t, store.ApplyStatEvent(ctx, ev, "live"))

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.StatsDownloads)

	totals, err := store.SumItemEventDeltas(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Downloads)
}

func TestSumItemEventDeltasIgnoresUnprocessed(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))
	now := time.Now().UTC()

	applied := &registry.StatEvent{ItemID: item.ID, Kind: registry.StatDownload, Delta: 1, OccurredAt: now}
	require.NoError(t, store.AppendStatEvent(ctx, applied))
	require.NoError(t, store.ApplyStatEvent(ctx, applied, "live"))

	pending := &registry.StatEvent{ItemID: item.ID, Kind: registry.StatDownload, Delta: 1, OccurredAt: now}
	require.NoError(t, store.AppendStatEvent(ctx, pending))

	totals, err := store.SumItemEventDeltas(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Downloads)
}

func TestHardDeleteItemCascades(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	item := newItem("pdf-tools")
	require.NoError(t, store.CreateItem(ctx, item))
	now := time.Now().UTC()

	v := newVersion(item.ID, "1.0.0", now)
	require.NoError(t, store.CreateVersion(ctx, v))
	require.NoError(t, store.CreateFingerprint(ctx, &registry.FingerprintRow{
		ItemID: item.ID, VersionID: v.ID, Fingerprint: "fp", CreatedAt: now,
	}))
	user := uuid.New()
	require.NoError(t, store.CreateStar(ctx, &registry.Star{ItemID: item.ID, UserID: user, CreatedAt: now}))
	require.NoError(t, store.AppendStatEvent(ctx, &registry.StatEvent{
		ItemID: item.ID, Kind: registry.StatDownload, Delta: 1, OccurredAt: now,
	}))

	require.NoError(t, store.HardDeleteItem(ctx, item.ID))

	_, err := store.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, registry.ErrItemNotFound)
	_, err = store.GetVersion(ctx, v.ID)
	assert.ErrorIs(t, err, registry.ErrVersionNotFound)

	rows, err := store.FindFingerprints(ctx, "fp", uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	events, err := store.ListUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// The slug is free again.
	assert.NoError(t, store.CreateItem(ctx, newItem("pdf-tools")))
}

func TestListItemsCursorFilter(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		item := newItem([]string{"alpha", "beta", "gamma"}[i])
		item.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateItem(ctx, item))
	}

	cutoff := base.Add(90 * time.Second)
	items, err := store.ListItems(ctx, registry.ListItemsQuery{
		Kind:   registry.ItemKindSkill,
		Sort:   registry.SortUpdated,
		Limit:  10,
		Before: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "beta", items[0].Slug)
	assert.Equal(t, "alpha", items[1].Slug)
}
