package registry_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhub/registry/pkg/registry"
	memorystore "github.com/skillhub/registry/pkg/registry/repo/memory"
	memoryblob "github.com/skillhub/registry/pkg/registry/storage/memory"
)

// axisEmbedder maps texts onto orthogonal unit vectors keyed by a word
// they contain, so cosine similarity in tests is exactly 1 or 0.
type axisEmbedder struct {
	axes map[string]int // word -> vector axis
}

func (e *axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, 3)
	for word, axis := range e.axes {
		if strings.Contains(lower, word) {
			v[axis] = 1
			return v, nil
		}
	}
	v[2] = 1
	return v, nil
}

func (e *axisEmbedder) Dimensions() int { return 3 }

// publishIndexed publishes an item and drains its embed job so the
// semantic index has a latest vector for it.
func publishIndexed(t *testing.T, svc registry.Service, worker *registry.EmbedWorker, owner registry.Principal, slug, summary string) *registry.PublishResult {
	t.Helper()
	req := publishReq(owner, slug, "1.0.0")
	req.Summary = summary
	result, err := svc.Publish(context.Background(), req)
	require.NoError(t, err)
	n, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return result
}

func newSearchFixture(t *testing.T) (registry.Service, *memorystore.Store, *registry.EmbedWorker) {
	t.Helper()
	store := memorystore.New()
	embedder := &axisEmbedder{axes: map[string]int{"chart": 0, "spreadsheet": 1}}
	svc, err := registry.New(
		registry.WithStore(store),
		registry.WithBlobStore(memoryblob.New()),
		registry.WithEmbedder(embedder),
	)
	require.NoError(t, err)
	worker := registry.NewEmbedWorker(store, embedder, nil, registry.EmbedWorkerOptions{})
	return svc, store, worker
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)
	results, err := svc.Search(context.Background(), registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "   ",
	})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearchSemanticOrdering(t *testing.T) {
	svc, _, worker := newSearchFixture(t)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}

	publishIndexed(t, svc, worker, owner, "chart-maker", "Generates chart images")
	publishIndexed(t, svc, worker, owner, "sheet-helper", "Edits spreadsheet cells")

	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart rendering",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "chart-maker", results[0].Slug)
	assert.Greater(t, results[0].Score, 0.9)
}

func TestSearchMergeDeduplicates(t *testing.T) {
	svc, _, worker := newSearchFixture(t)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}

	// "chart-maker" matches the query both semantically and lexically;
	// it must appear exactly once.
	publishIndexed(t, svc, worker, owner, "chart-maker", "Generates chart images")
	publishIndexed(t, svc, worker, owner, "sheet-helper", "Edits spreadsheet cells")

	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart",
	})
	require.NoError(t, err)

	seen := map[uuid.UUID]int{}
	for _, r := range results {
		seen[r.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s duplicated in results", id)
	}
	assert.Equal(t, "chart-maker", results[0].Slug)
}

func TestSearchLexicalFallbackWithoutEmbedder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}

	req := publishReq(owner, "chart-maker", "1.0.0")
	req.Summary = "Generates chart images"
	_, err := svc.Publish(ctx, req)
	require.NoError(t, err)

	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chart-maker", results[0].Slug)
	assert.Zero(t, results[0].Score)
}

func TestSearchDegradesOnEmbedderFailure(t *testing.T) {
	store := memorystore.New()
	svc, err := registry.New(
		registry.WithStore(store),
		registry.WithBlobStore(memoryblob.New()),
		registry.WithEmbedder(&fakeEmbedder{failWith: errors.New("provider down")}),
	)
	require.NoError(t, err)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}

	req := publishReq(owner, "chart-maker", "1.0.0")
	req.Summary = "Generates chart images"
	_, err = svc.Publish(ctx, req)
	require.NoError(t, err)

	// The lexical leg still answers.
	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chart-maker", results[0].Slug)
}

func TestSearchExcludesHiddenItems(t *testing.T) {
	svc, _, worker := newSearchFixture(t)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}
	moderator := registry.Principal{UserID: uuid.New(), Role: registry.RoleModerator}

	result := publishIndexed(t, svc, worker, owner, "chart-maker", "Generates chart images")
	require.NoError(t, svc.HideItem(ctx, result.ItemID, "spam", moderator))

	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchLimit(t *testing.T) {
	svc, _, worker := newSearchFixture(t)
	ctx := context.Background()
	owner := registry.Principal{UserID: uuid.New(), Role: registry.RoleUser}

	publishIndexed(t, svc, worker, owner, "chart-maker", "Generates chart images")
	publishIndexed(t, svc, worker, owner, "chart-viewer", "Displays chart files")
	publishIndexed(t, svc, worker, owner, "chart-export", "Exports chart data")

	results, err := svc.Search(ctx, registry.SearchRequest{
		Kind:  registry.ItemKindSkill,
		Query: "chart",
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
