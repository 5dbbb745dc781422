package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skillhub/registry/pkg/registry"
)

// Store implements registry.Store using in-memory storage. It is the
// reference implementation for tests and development; every uniqueness
// invariant the Postgres schema enforces with indexes is enforced here
// under one mutex.
type Store struct {
	mu sync.RWMutex

	items      map[uuid.UUID]*registry.Item
	slugIndex  map[string]uuid.UUID // kind+"/"+slug -> item id
	versions   map[uuid.UUID]*registry.Version
	versionKey map[string]uuid.UUID // itemID+"\x00"+version -> version id

	fingerprints []*registry.FingerprintRow
	embeddings   []*registry.Embedding

	stars    map[string]*registry.Star // itemID+"\x00"+userID
	comments map[uuid.UUID]*registry.Comment
	reports  map[string]*registry.Report // itemID+"\x00"+userID

	events      []*registry.StatEvent
	nextEventID int64
	cursors     map[string]*registry.StatCursor
	backfills   map[string]*registry.BackfillState

	daily        map[string]*registry.DailyStat // itemID+"\x00"+day
	leaderboards []*registry.Leaderboard

	embedJobs map[uuid.UUID]*registry.EmbedJob
	audits    []*registry.AuditEntry
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		items:      make(map[uuid.UUID]*registry.Item),
		slugIndex:  make(map[string]uuid.UUID),
		versions:   make(map[uuid.UUID]*registry.Version),
		versionKey: make(map[string]uuid.UUID),
		stars:      make(map[string]*registry.Star),
		comments:   make(map[uuid.UUID]*registry.Comment),
		reports:    make(map[string]*registry.Report),
		cursors:    make(map[string]*registry.StatCursor),
		backfills:  make(map[string]*registry.BackfillState),
		daily:      make(map[string]*registry.DailyStat),
		embedJobs:  make(map[uuid.UUID]*registry.EmbedJob),
		nextEventID: 1,
	}
}

func slugKey(kind registry.ItemKind, slug string) string {
	return string(kind) + "/" + slug
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func copyItem(item *registry.Item) *registry.Item {
	c := *item
	c.Tags = make(map[string]uuid.UUID, len(item.Tags))
	for k, v := range item.Tags {
		c.Tags[k] = v
	}
	return &c
}

func copyVersion(v *registry.Version) *registry.Version {
	c := *v
	c.Files = append([]registry.FileRef(nil), v.Files...)
	return &c
}

// Item operations

func (s *Store) CreateItem(ctx context.Context, item *registry.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slugKey(item.Kind, item.Slug)
	if _, exists := s.slugIndex[key]; exists {
		return registry.ErrSlugTaken
	}
	s.items[item.ID] = copyItem(item)
	s.slugIndex[key] = item.ID
	return nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*registry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, registry.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (s *Store) GetItemBySlug(ctx context.Context, kind registry.ItemKind, slug string) (*registry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.slugIndex[slugKey(kind, slug)]
	if !exists {
		return nil, registry.ErrItemNotFound
	}
	return copyItem(s.items[id]), nil
}

func (s *Store) UpdateItem(ctx context.Context, item *registry.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		return registry.ErrItemNotFound
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

func (s *Store) HardDeleteItem(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return registry.ErrItemNotFound
	}
	delete(s.slugIndex, slugKey(item.Kind, item.Slug))
	delete(s.items, id)

	// Cascade, mirroring the FK cascades of the SQL schema.
	for vid, v := range s.versions {
		if v.ItemID == id {
			delete(s.versionKey, pairKey(id.String(), v.Version))
			delete(s.versions, vid)
		}
	}
	s.fingerprints = filterFingerprints(s.fingerprints, id)
	kept := s.embeddings[:0]
	for _, e := range s.embeddings {
		if e.ItemID != id {
			kept = append(kept, e)
		}
	}
	s.embeddings = kept
	for k, st := range s.stars {
		if st.ItemID == id {
			delete(s.stars, k)
		}
	}
	for cid, c := range s.comments {
		if c.ItemID == id {
			delete(s.comments, cid)
		}
	}
	for k, r := range s.reports {
		if r.ItemID == id {
			delete(s.reports, k)
		}
	}
	keptEvents := s.events[:0]
	for _, ev := range s.events {
		if ev.ItemID != id {
			keptEvents = append(keptEvents, ev)
		}
	}
	s.events = keptEvents
	return nil
}

func filterFingerprints(rows []*registry.FingerprintRow, itemID uuid.UUID) []*registry.FingerprintRow {
	kept := rows[:0]
	for _, r := range rows {
		if r.ItemID != itemID {
			kept = append(kept, r)
		}
	}
	return kept
}

func (s *Store) ListItems(ctx context.Context, q registry.ListItemsQuery) ([]*registry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.Item
	for _, item := range s.items {
		if item.Kind != q.Kind || item.SoftDeletedAt != nil {
			continue
		}
		if !q.IncludeHidden && item.ModerationStatus != registry.ModerationActive {
			continue
		}
		if q.OwnerID != nil && item.OwnerID != *q.OwnerID {
			continue
		}
		if q.Before != nil && !item.UpdatedAt.Before(*q.Before) {
			continue
		}
		result = append(result, copyItem(item))
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch q.Sort {
		case registry.SortDownloads:
			if a.StatsDownloads != b.StatsDownloads {
				return a.StatsDownloads > b.StatsDownloads
			}
		case registry.SortStars:
			if a.StatsStars != b.StatsStars {
				return a.StatsStars > b.StatsStars
			}
		case registry.SortCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		default:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
		}
		return a.Slug < b.Slug
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (s *Store) SearchItems(ctx context.Context, kind registry.ItemKind, query string, limit int) ([]*registry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var result []*registry.Item
	for _, item := range s.items {
		if item.Kind != kind || !item.Visible() {
			continue
		}
		if strings.Contains(strings.ToLower(item.Slug), needle) ||
			strings.Contains(strings.ToLower(item.DisplayName), needle) ||
			strings.Contains(strings.ToLower(item.Summary), needle) {
			result = append(result, copyItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StatsDownloads != result[j].StatsDownloads {
			return result[i].StatsDownloads > result[j].StatsDownloads
		}
		return result[i].Slug < result[j].Slug
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Version operations

func (s *Store) CreateVersion(ctx context.Context, v *registry.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[v.ItemID]; !exists {
		return registry.ErrItemNotFound
	}
	key := pairKey(v.ItemID.String(), v.Version)
	if _, exists := s.versionKey[key]; exists {
		return registry.ErrVersionExists
	}
	s.versions[v.ID] = copyVersion(v)
	s.versionKey[key] = v.ID
	return nil
}

func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (*registry.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.versions[id]
	if !exists {
		return nil, registry.ErrVersionNotFound
	}
	return copyVersion(v), nil
}

func (s *Store) GetItemVersion(ctx context.Context, itemID uuid.UUID, version string) (*registry.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.versionKey[pairKey(itemID.String(), version)]
	if !exists {
		return nil, registry.ErrVersionNotFound
	}
	return copyVersion(s.versions[id]), nil
}

func (s *Store) ListVersions(ctx context.Context, itemID uuid.UUID, limit int) ([]*registry.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.Version
	for _, v := range s.versions {
		if v.ItemID == itemID && v.SoftDeletedAt == nil {
			result = append(result, copyVersion(v))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SetScanResult(ctx context.Context, versionID uuid.UUID, status registry.ScanStatus, verdict string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.versions[versionID]
	if !exists {
		return registry.ErrVersionNotFound
	}
	v.ScanStatus = status
	v.ScanVerdict = verdict
	v.ScanCheckedAt = &checkedAt
	return nil
}

// Fingerprint operations

func (s *Store) CreateFingerprint(ctx context.Context, row *registry.FingerprintRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *row
	s.fingerprints = append(s.fingerprints, &c)
	return nil
}

func (s *Store) FindFingerprints(ctx context.Context, fingerprint string, excludeItemID uuid.UUID) ([]*registry.FingerprintRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.FingerprintRow
	for _, r := range s.fingerprints {
		if r.Fingerprint == fingerprint && r.ItemID != excludeItemID {
			c := *r
			result = append(result, &c)
		}
	}
	return result, nil
}

// Embedding operations

func (s *Store) MarkEmbeddingLatest(ctx context.Context, emb *registry.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newVersion, exists := s.versions[emb.VersionID]
	if !exists {
		return registry.ErrVersionNotFound
	}

	c := *emb
	c.Vector = append([]float32(nil), emb.Vector...)

	// The flip is keyed on version recency, not callback arrival order:
	// a completion for an older version cannot displace a newer latest.
	for _, existing := range s.embeddings {
		if existing.ItemID != emb.ItemID || !existing.IsLatest {
			continue
		}
		cur, ok := s.versions[existing.VersionID]
		if ok && cur.CreatedAt.After(newVersion.CreatedAt) {
			c.IsLatest = false
			s.embeddings = append(s.embeddings, &c)
			return nil
		}
		existing.IsLatest = false
	}
	c.IsLatest = true
	s.embeddings = append(s.embeddings, &c)
	return nil
}

func (s *Store) ListLatestEmbeddings(ctx context.Context, kind registry.ItemKind) ([]*registry.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.Embedding
	for _, e := range s.embeddings {
		if !e.IsLatest {
			continue
		}
		item, ok := s.items[e.ItemID]
		if !ok || item.Kind != kind || !item.Visible() {
			continue
		}
		if e.Visibility != registry.VisibilityLatest && e.Visibility != registry.VisibilityLatestApproved {
			continue
		}
		c := *e
		c.Vector = append([]float32(nil), e.Vector...)
		result = append(result, &c)
	}
	return result, nil
}

// Star operations

func (s *Store) GetStar(ctx context.Context, itemID, userID uuid.UUID) (*registry.Star, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	star, exists := s.stars[pairKey(itemID.String(), userID.String())]
	if !exists {
		return nil, registry.ErrItemNotFound
	}
	c := *star
	return &c, nil
}

func (s *Store) CreateStar(ctx context.Context, star *registry.Star) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(star.ItemID.String(), star.UserID.String())
	if _, exists := s.stars[key]; exists {
		return registry.ErrAlreadyStarred
	}
	c := *star
	s.stars[key] = &c
	return nil
}

func (s *Store) DeleteStar(ctx context.Context, itemID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stars, pairKey(itemID.String(), userID.String()))
	return nil
}

func (s *Store) ListStarredItems(ctx context.Context, userID uuid.UUID) ([]*registry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.Item
	for _, star := range s.stars {
		if star.UserID != userID {
			continue
		}
		if item, ok := s.items[star.ItemID]; ok {
			result = append(result, copyItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result, nil
}

// Comment operations

func (s *Store) CreateComment(ctx context.Context, c *registry.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc := *c
	s.comments[c.ID] = &cc
	return nil
}

func (s *Store) GetComment(ctx context.Context, id uuid.UUID) (*registry.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.comments[id]
	if !exists || c.SoftDeletedAt != nil {
		return nil, registry.ErrCommentNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *Store) ListComments(ctx context.Context, itemID uuid.UUID, limit int) ([]*registry.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.Comment
	for _, c := range s.comments {
		if c.ItemID == itemID && c.SoftDeletedAt == nil {
			cc := *c
			result = append(result, &cc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SoftDeleteComment(ctx context.Context, id, deletedBy uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.comments[id]
	if !exists {
		return registry.ErrCommentNotFound
	}
	now := time.Now().UTC()
	c.SoftDeletedAt = &now
	c.DeletedBy = &deletedBy
	return nil
}

// Report operations

func (s *Store) CreateReport(ctx context.Context, r *registry.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(r.ItemID.String(), r.UserID.String())
	if _, exists := s.reports[key]; exists {
		return registry.ErrAlreadyReported
	}
	c := *r
	s.reports[key] = &c
	return nil
}

func (s *Store) CountReports(ctx context.Context, itemID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.reports {
		if r.ItemID == itemID {
			n++
		}
	}
	return n, nil
}

// Stat event operations

func (s *Store) AppendStatEvent(ctx context.Context, ev *registry.StatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ev
	c.ID = s.nextEventID
	s.nextEventID++
	s.events = append(s.events, &c)
	ev.ID = c.ID
	return nil
}

func (s *Store) ListUnprocessedEvents(ctx context.Context, limit int) ([]*registry.StatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.StatEvent
	for _, ev := range s.events {
		if ev.ProcessedAt == nil {
			c := *ev
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.Before(result[j].OccurredAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ApplyStatEvent(ctx context.Context, ev *registry.StatEvent, cursorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.findEvent(ev.ID)
	if stored == nil {
		return registry.ErrItemNotFound
	}
	if stored.ProcessedAt != nil {
		// Re-delivery after a crash between apply and the caller
		// observing it; applying again would double-count.
		return nil
	}
	item, exists := s.items[stored.ItemID]
	if !exists {
		return registry.ErrItemNotFound
	}

	switch stored.Kind {
	case registry.StatDownload:
		item.StatsDownloads += stored.Delta
	case registry.StatStar, registry.StatUnstar:
		item.StatsStars += stored.Delta
	case registry.StatInstallAdd, registry.StatInstallRemove:
		item.StatsInstalls += stored.Delta
	case registry.StatComment, registry.StatCommentRemove:
		item.StatsComments += stored.Delta
	default:
		return registry.ErrInconsistent
	}
	if item.StatsStars < 0 {
		item.StatsStars = 0
	}

	now := time.Now().UTC()
	stored.ProcessedAt = &now
	s.cursors[cursorKey] = &registry.StatCursor{
		Key:       cursorKey,
		Position:  stored.OccurredAt,
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) SkipStatEvent(ctx context.Context, ev *registry.StatEvent, cursorKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.findEvent(ev.ID)
	if stored == nil {
		return registry.ErrItemNotFound
	}
	now := time.Now().UTC()
	if stored.ProcessedAt == nil {
		stored.ProcessedAt = &now
	}
	s.cursors[cursorKey] = &registry.StatCursor{
		Key:       cursorKey,
		Position:  stored.OccurredAt,
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) findEvent(id int64) *registry.StatEvent {
	for _, ev := range s.events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

func (s *Store) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*registry.StatEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.StatEvent
	for _, ev := range s.events {
		if ev.ID > afterID {
			c := *ev
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SumItemEventDeltas(ctx context.Context, itemID uuid.UUID) (registry.StatTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals registry.StatTotals
	for _, ev := range s.events {
		if ev.ItemID != itemID || ev.ProcessedAt == nil {
			continue
		}
		switch ev.Kind {
		case registry.StatDownload:
			totals.Downloads += ev.Delta
		case registry.StatStar, registry.StatUnstar:
			totals.Stars += ev.Delta
		case registry.StatInstallAdd, registry.StatInstallRemove:
			totals.Installs += ev.Delta
		case registry.StatComment, registry.StatCommentRemove:
			totals.Comments += ev.Delta
		}
	}
	return totals, nil
}

func (s *Store) SetItemCounters(ctx context.Context, itemID uuid.UUID, totals registry.StatTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists {
		return registry.ErrItemNotFound
	}
	item.StatsDownloads = totals.Downloads
	item.StatsStars = totals.Stars
	item.StatsInstalls = totals.Installs
	item.StatsComments = totals.Comments
	return nil
}

// Cursor and backfill state

func (s *Store) GetCursor(ctx context.Context, key string) (*registry.StatCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, exists := s.cursors[key]
	if !exists {
		return nil, registry.ErrItemNotFound
	}
	c := *cur
	return &c, nil
}

func (s *Store) SetCursor(ctx context.Context, cur *registry.StatCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cur
	s.cursors[cur.Key] = &c
	return nil
}

func (s *Store) GetBackfillState(ctx context.Context, key string) (*registry.BackfillState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.backfills[key]
	if !exists {
		return nil, registry.ErrItemNotFound
	}
	c := *st
	return &c, nil
}

func (s *Store) SetBackfillState(ctx context.Context, st *registry.BackfillState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *st
	s.backfills[st.Key] = &c
	return nil
}

// Rollup and leaderboard operations

func (s *Store) AggregateDay(ctx context.Context, day int) ([]registry.DayTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byItem := make(map[uuid.UUID]*registry.DayTotals)
	for _, ev := range s.events {
		if registry.DayOf(ev.OccurredAt) != day {
			continue
		}
		var downloads, installs int64
		switch ev.Kind {
		case registry.StatDownload:
			downloads = ev.Delta
		case registry.StatInstallAdd, registry.StatInstallRemove:
			installs = ev.Delta
		default:
			continue
		}
		t := byItem[ev.ItemID]
		if t == nil {
			t = &registry.DayTotals{ItemID: ev.ItemID}
			byItem[ev.ItemID] = t
		}
		t.Downloads += downloads
		t.Installs += installs
	}

	result := make([]registry.DayTotals, 0, len(byItem))
	for _, t := range byItem {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ItemID.String() < result[j].ItemID.String()
	})
	return result, nil
}

func (s *Store) UpsertDailyStat(ctx context.Context, ds *registry.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *ds
	s.daily[pairKey(ds.ItemID.String(), strconv.Itoa(ds.Day))] = &c
	return nil
}

func (s *Store) ListDailyRange(ctx context.Context, startDay, endDay int) ([]*registry.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.DailyStat
	for _, ds := range s.daily {
		if ds.Day >= startDay && ds.Day <= endDay {
			c := *ds
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Day != result[j].Day {
			return result[i].Day < result[j].Day
		}
		return result[i].ItemID.String() < result[j].ItemID.String()
	})
	return result, nil
}

func (s *Store) SaveLeaderboard(ctx context.Context, lb *registry.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *lb
	c.Entries = append([]registry.LeaderboardEntry(nil), lb.Entries...)
	s.leaderboards = append(s.leaderboards, &c)
	return nil
}

func (s *Store) GetLatestLeaderboard(ctx context.Context, kind string) (*registry.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *registry.Leaderboard
	for _, lb := range s.leaderboards {
		if lb.Kind != kind {
			continue
		}
		if latest == nil || lb.GeneratedAt.After(latest.GeneratedAt) {
			latest = lb
		}
	}
	if latest == nil {
		return nil, registry.ErrItemNotFound
	}
	c := *latest
	c.Entries = append([]registry.LeaderboardEntry(nil), latest.Entries...)
	return &c, nil
}

// Embed job operations

func (s *Store) EnqueueEmbedJob(ctx context.Context, job *registry.EmbedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *job
	s.embedJobs[job.ID] = &c
	return nil
}

func (s *Store) ListPendingEmbedJobs(ctx context.Context, limit int) ([]*registry.EmbedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*registry.EmbedJob
	for _, job := range s.embedJobs {
		if job.Status == registry.EmbedJobPending {
			c := *job
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateEmbedJob(ctx context.Context, job *registry.EmbedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.embedJobs[job.ID]; !exists {
		return registry.ErrItemNotFound
	}
	c := *job
	s.embedJobs[job.ID] = &c
	return nil
}

// Audit log

func (s *Store) AppendAudit(ctx context.Context, entry *registry.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *entry
	s.audits = append(s.audits, &c)
	return nil
}
