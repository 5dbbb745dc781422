package registry

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for registry persistence. It owns every
// uniqueness invariant: slug per kind, (item, version), (item, user) for
// stars and reports, and the single is_latest embedding row per item.
type Store interface {
	// Item operations. Get* return soft-deleted rows; callers decide
	// visibility. List and search exclude them.
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	GetItemBySlug(ctx context.Context, kind ItemKind, slug string) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	HardDeleteItem(ctx context.Context, id uuid.UUID) error
	ListItems(ctx context.Context, q ListItemsQuery) ([]*Item, error)
	SearchItems(ctx context.Context, kind ItemKind, query string, limit int) ([]*Item, error)

	// Version operations. CreateVersion enforces (item, version)
	// uniqueness atomically and returns ErrVersionExists on conflict.
	CreateVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, id uuid.UUID) (*Version, error)
	GetItemVersion(ctx context.Context, itemID uuid.UUID, version string) (*Version, error)
	ListVersions(ctx context.Context, itemID uuid.UUID, limit int) ([]*Version, error)
	SetScanResult(ctx context.Context, versionID uuid.UUID, status ScanStatus, verdict string, checkedAt time.Time) error

	// Fingerprint index operations
	CreateFingerprint(ctx context.Context, row *FingerprintRow) error
	FindFingerprints(ctx context.Context, fingerprint string, excludeItemID uuid.UUID) ([]*FingerprintRow, error)

	// Embedding operations. MarkEmbeddingLatest flips the previous latest
	// row to false and inserts the new one in a single atomic unit, keyed
	// on version recency: a late completion for an older version is
	// stored with is_latest=false and cannot resurrect a stale row.
	MarkEmbeddingLatest(ctx context.Context, emb *Embedding) error
	ListLatestEmbeddings(ctx context.Context, kind ItemKind) ([]*Embedding, error)

	// Star operations. CreateStar returns ErrAlreadyStarred on the
	// (item, user) uniqueness constraint.
	GetStar(ctx context.Context, itemID, userID uuid.UUID) (*Star, error)
	CreateStar(ctx context.Context, star *Star) error
	DeleteStar(ctx context.Context, itemID, userID uuid.UUID) error
	ListStarredItems(ctx context.Context, userID uuid.UUID) ([]*Item, error)

	// Comment operations
	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (*Comment, error)
	ListComments(ctx context.Context, itemID uuid.UUID, limit int) ([]*Comment, error)
	SoftDeleteComment(ctx context.Context, id, deletedBy uuid.UUID) error

	// Report operations. CreateReport returns ErrAlreadyReported on the
	// (item, user) uniqueness constraint.
	CreateReport(ctx context.Context, r *Report) error
	CountReports(ctx context.Context, itemID uuid.UUID) (int64, error)

	// Stat event operations. ApplyStatEvent applies the delta to the
	// item's counters, marks the event processed, and advances the
	// cursor in one atomic unit. SkipStatEvent marks a poison event
	// processed and advances the cursor without touching counters.
	AppendStatEvent(ctx context.Context, ev *StatEvent) error
	ListUnprocessedEvents(ctx context.Context, limit int) ([]*StatEvent, error)
	ApplyStatEvent(ctx context.Context, ev *StatEvent, cursorKey string) error
	SkipStatEvent(ctx context.Context, ev *StatEvent, cursorKey string) error
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*StatEvent, error)
	SumItemEventDeltas(ctx context.Context, itemID uuid.UUID) (StatTotals, error)
	SetItemCounters(ctx context.Context, itemID uuid.UUID, totals StatTotals) error

	// Cursor and backfill state
	GetCursor(ctx context.Context, key string) (*StatCursor, error)
	SetCursor(ctx context.Context, cur *StatCursor) error
	GetBackfillState(ctx context.Context, key string) (*BackfillState, error)
	SetBackfillState(ctx context.Context, st *BackfillState) error

	// Rollup and leaderboard operations
	AggregateDay(ctx context.Context, day int) ([]DayTotals, error)
	UpsertDailyStat(ctx context.Context, ds *DailyStat) error
	ListDailyRange(ctx context.Context, startDay, endDay int) ([]*DailyStat, error)
	SaveLeaderboard(ctx context.Context, lb *Leaderboard) error
	GetLatestLeaderboard(ctx context.Context, kind string) (*Leaderboard, error)

	// Embed job outbox operations
	EnqueueEmbedJob(ctx context.Context, job *EmbedJob) error
	ListPendingEmbedJobs(ctx context.Context, limit int) ([]*EmbedJob, error)
	UpdateEmbedJob(ctx context.Context, job *EmbedJob) error

	// Audit log
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// ItemSort orders item listings.
type ItemSort string

// Item sort constants (typed).
const (
	SortUpdated   ItemSort = "updated"
	SortCreated   ItemSort = "created"
	SortDownloads ItemSort = "downloads"
	SortStars     ItemSort = "stars"
)

// ListItemsQuery filters and pages item listings. Before is the opaque
// updatedAt cursor from the previous page.
type ListItemsQuery struct {
	Kind          ItemKind
	Sort          ItemSort
	Limit         int
	Before        *time.Time
	OwnerID       *uuid.UUID
	IncludeHidden bool
}

// StatTotals holds summed event deltas per counter.
type StatTotals struct {
	Downloads int64
	Stars     int64
	Installs  int64
	Comments  int64
}

// DayTotals holds one item's summed download/install deltas for a day.
type DayTotals struct {
	ItemID    uuid.UUID
	Downloads int64
	Installs  int64
}

// BlobStore defines the object-storage collaborator. The core only hands
// out presigned URLs and reads staged objects; it never hashes bytes.
type BlobStore interface {
	// PresignUpload returns a URL the uploader PUTs file bytes to
	PresignUpload(ctx context.Context, key, contentType string) (string, error)

	// PresignDownload returns a URL for downloading the object
	PresignDownload(ctx context.Context, key string) (string, error)

	// GetObject reads the object directly
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload writes the object directly (used by tooling, not publish)
	Upload(ctx context.Context, key, contentType string, r io.Reader) error

	// Delete removes the object
	Delete(ctx context.Context, key string) error
}

// Embedder defines the embedding-provider collaborator. Vectors have a
// fixed dimensionality; failures surface as errors the publish path
// treats as non-fatal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
