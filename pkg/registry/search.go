package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SearchOptions tunes the hybrid ranker. The candidate factor and
// semantic timeout are configuration, not load-bearing constants.
type SearchOptions struct {
	// CandidateFactor scales the semantic candidate pool (limit * factor).
	CandidateFactor int
	// SemanticTimeout bounds the semantic leg; the lexical leg never
	// waits on it.
	SemanticTimeout time.Duration
}

// DefaultSearchOptions returns the default ranking parameters.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		CandidateFactor: 3,
		SemanticTimeout: 2 * time.Second,
	}
}

// Search runs the semantic and lexical retrievals concurrently and merges
// them: semantic results first in score order, lexical filling remaining
// slots, deduplicated by item id. Semantic failure degrades to
// lexical-only; it is an enhancement, not a dependency of availability.
func (s *service) Search(ctx context.Context, req SearchRequest) ([]ItemSummary, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var semantic, lexical []ItemSummary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.embedder == nil {
			return nil
		}
		sctx, cancel := context.WithTimeout(gctx, s.searchOpts.SemanticTimeout)
		defer cancel()
		results, err := s.semanticSearch(sctx, req.Kind, query, limit)
		if err != nil {
			s.logger.Warn("semantic search failed, lexical-only", "query", query, "err", err)
			return nil
		}
		semantic = results
		return nil
	})
	g.Go(func() error {
		items, err := s.store.SearchItems(gctx, req.Kind, query, limit)
		if err != nil {
			return err
		}
		for _, it := range items {
			lexical = append(lexical, SummaryOf(it, 0))
		}
		// Store orders by downloads desc; pin the tie-break.
		sort.SliceStable(lexical, func(i, j int) bool {
			if lexical[i].StatsDownloads != lexical[j].StatsDownloads {
				return lexical[i].StatsDownloads > lexical[j].StatsDownloads
			}
			return lexical[i].Slug < lexical[j].Slug
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, limit)
	merged := make([]ItemSummary, 0, limit)
	for _, row := range semantic {
		if seen[row.ID.String()] {
			continue
		}
		seen[row.ID.String()] = true
		merged = append(merged, row)
		if len(merged) == limit {
			return merged, nil
		}
	}
	for _, row := range lexical {
		if seen[row.ID.String()] {
			continue
		}
		seen[row.ID.String()] = true
		merged = append(merged, row)
		if len(merged) == limit {
			break
		}
	}
	return merged, nil
}

func (s *service) semanticSearch(ctx context.Context, kind ItemKind, query string, limit int) ([]ItemSummary, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	embeddings, err := s.store.ListLatestEmbeddings(ctx, kind)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		emb   *Embedding
		score float64
	}
	candidates := make([]candidate, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) == 0 || len(e.Vector) != len(queryVec) {
			continue
		}
		candidates = append(candidates, candidate{emb: e, score: cosine(queryVec, e.Vector)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	pool := limit * s.searchOpts.CandidateFactor
	if pool < limit {
		pool = limit
	}
	if len(candidates) > pool {
		candidates = candidates[:pool]
	}

	// Hydrate and drop items that went inactive since indexing.
	results := make([]ItemSummary, 0, len(candidates))
	for _, c := range candidates {
		item, err := s.store.GetItem(ctx, c.emb.ItemID)
		if err != nil {
			continue
		}
		if !item.Visible() {
			continue
		}
		results = append(results, SummaryOf(item, c.score))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Slug < results[j].Slug
	})
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
