package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry"
	memorystore "github.com/skillhub/registry/pkg/registry/repo/memory"
)

func seedVersion(t *testing.T, store *memorystore.Store, itemID uuid.UUID, version string, createdAt time.Time) *registry.Version {
	t.Helper()
	v := &registry.Version{
		ID:        uuid.New(),
		ItemID:    itemID,
		Version:   version,
		Files:     testFiles(),
		CreatedBy: uuid.New(),
		CreatedAt: createdAt,
	}
	require.NoError(t, store.CreateVersion(context.Background(), v))
	return v
}

func enqueueJob(t *testing.T, store *memorystore.Store, item *registry.Item, v *registry.Version, text string) *registry.EmbedJob {
	t.Helper()
	now := time.Now().UTC()
	job := &registry.EmbedJob{
		ID:        uuid.New(),
		ItemID:    item.ID,
		VersionID: v.ID,
		OwnerID:   item.OwnerID,
		Text:      text,
		Status:    registry.EmbedJobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.EnqueueEmbedJob(context.Background(), job))
	return job
}

func TestEmbedWorkerProcessesJob(t *testing.T) {
	store := memorystore.New()
	worker := registry.NewEmbedWorker(store, &fakeEmbedder{}, nil, registry.EmbedWorkerOptions{})
	ctx := context.Background()

	item := seedItem(t, store, "pdf-tools")
	v := seedVersion(t, store, item.ID, "1.0.0", time.Now().UTC())
	enqueueJob(t, store, item, v, "pdf tools summary")

	n, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.ListPendingEmbedJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	embeddings, err := store.ListLatestEmbeddings(ctx, registry.ItemKindSkill)
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
	assert.Equal(t, v.ID, embeddings[0].VersionID)
	assert.True(t, embeddings[0].IsLatest)
	assert.NotEmpty(t, embeddings[0].Vector)
}

func TestEmbedWorkerRetriesThenFails(t *testing.T) {
	store := memorystore.New()
	worker := registry.NewEmbedWorker(store, &fakeEmbedder{failWith: errors.New("provider down")}, nil,
		registry.EmbedWorkerOptions{MaxAttempts: 2})
	ctx := context.Background()

	item := seedItem(t, store, "pdf-tools")
	v := seedVersion(t, store, item.ID, "1.0.0", time.Now().UTC())
	enqueueJob(t, store, item, v, "pdf tools summary")

	// First pass fails but keeps the job pending for retry.
	n, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := store.ListPendingEmbedJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)

	// Second pass exhausts the attempts.
	n, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err = store.ListPendingEmbedJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	embeddings, err := store.ListLatestEmbeddings(ctx, registry.ItemKindSkill)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestEmbedWorkerLateJobDoesNotDisplaceNewer(t *testing.T) {
	store := memorystore.New()
	worker := registry.NewEmbedWorker(store, &fakeEmbedder{}, nil, registry.EmbedWorkerOptions{})
	ctx := context.Background()

	item := seedItem(t, store, "pdf-tools")
	now := time.Now().UTC()
	v1 := seedVersion(t, store, item.ID, "1.0.0", now.Add(-time.Hour))
	v2 := seedVersion(t, store, item.ID, "2.0.0", now)

	// The newer version's job completes first.
	enqueueJob(t, store, item, v2, "pdf tools v2")
	n, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The older version's job completes late; it must not take over the
	// latest slot.
	enqueueJob(t, store, item, v1, "pdf tools v1")
	n, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	embeddings, err := store.ListLatestEmbeddings(ctx, registry.ItemKindSkill)
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
	assert.Equal(t, v2.ID, embeddings[0].VersionID)
}
