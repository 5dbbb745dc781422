package registry

import (
	"time"

	"github.com/google/uuid"
)

// ItemKind is the published artifact kind. Skills and personas share one
// lifecycle; the kind is a tag, not a separate pipeline.
type ItemKind string

// Item kind constants (typed).
const (
	ItemKindSkill   ItemKind = "skill"
	ItemKindPersona ItemKind = "persona"
)

// ModerationStatus is the public-visibility state of an item.
type ModerationStatus string

// Moderation status constants (typed).
const (
	ModerationActive  ModerationStatus = "active"
	ModerationHidden  ModerationStatus = "hidden"
	ModerationRemoved ModerationStatus = "removed"
)

// Moderation reason codes for automatic transitions.
const (
	ReasonAutoReports = "auto.reports"
	ReasonAutoScan    = "auto.scan"
)

// Role is the resolved role of a request principal. The core trusts the
// value handed to it by the auth collaborator.
type Role string

// Role constants (typed).
const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Principal identifies the acting user on a request.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// IsStaff reports whether the principal may perform moderation actions.
func (p Principal) IsStaff() bool {
	return p.Role == RoleModerator || p.Role == RoleAdmin
}

// IsAdmin reports whether the principal may perform admin-only actions.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Item represents a published artifact identified by a unique slug.
// Stat counters are a materialized view over stat events; they converge
// once the aggregator's cursor has passed the events (eventual, not
// immediate, consistency).
type Item struct {
	ID               uuid.UUID            `json:"id"`
	Kind             ItemKind             `json:"kind"`
	Slug             string               `json:"slug"`
	DisplayName      string               `json:"display_name"`
	Summary          string               `json:"summary,omitempty"`
	OwnerID          uuid.UUID            `json:"owner_id"`
	LatestVersionID  *uuid.UUID           `json:"latest_version_id,omitempty"`
	Tags             map[string]uuid.UUID `json:"tags"`
	ModerationStatus ModerationStatus     `json:"moderation_status"`
	ModerationReason string               `json:"moderation_reason,omitempty"`
	SoftDeletedAt    *time.Time           `json:"soft_deleted_at,omitempty"`
	StatsDownloads   int64                `json:"stats_downloads"`
	StatsStars       int64                `json:"stats_stars"`
	StatsInstalls    int64                `json:"stats_installs"`
	StatsVersions    int64                `json:"stats_versions"`
	StatsComments    int64                `json:"stats_comments"`
	ReportCount      int64                `json:"report_count"`
	LastReportedAt   *time.Time           `json:"last_reported_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Visible reports whether the item may appear in public listings and search.
func (i *Item) Visible() bool {
	return i.SoftDeletedAt == nil && i.ModerationStatus == ModerationActive
}

// FileRef describes one file of a version's manifest. The storage key and
// sha256 are computed by the uploader before publish; the core never
// re-hashes file bytes.
type FileRef struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type,omitempty"`
}

// ChangelogSource records where a version's changelog came from.
type ChangelogSource string

// Changelog source constants (typed).
const (
	ChangelogAuto ChangelogSource = "auto"
	ChangelogUser ChangelogSource = "user"
)

// ScanStatus is the recorded verdict state of an external content scan.
type ScanStatus string

// Scan status constants (typed).
const (
	ScanPending   ScanStatus = "pending"
	ScanClean     ScanStatus = "clean"
	ScanMalicious ScanStatus = "malicious"
	ScanError     ScanStatus = "error"
)

// Version is one immutable release of an item. Only the scan fields and
// the soft-delete marker change after creation.
type Version struct {
	ID              uuid.UUID              `json:"id"`
	ItemID          uuid.UUID              `json:"item_id"`
	Version         string                 `json:"version"`
	Fingerprint     string                 `json:"fingerprint"`
	Changelog       string                 `json:"changelog"`
	ChangelogSource ChangelogSource        `json:"changelog_source"`
	Files           []FileRef              `json:"files"`
	Parsed          map[string]interface{} `json:"parsed,omitempty"`
	CreatedBy       uuid.UUID              `json:"created_by"`
	ScanStatus      ScanStatus             `json:"scan_status"`
	ScanVerdict     string                 `json:"scan_verdict,omitempty"`
	ScanCheckedAt   *time.Time             `json:"scan_checked_at,omitempty"`
	SoftDeletedAt   *time.Time             `json:"soft_deleted_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// FingerprintRow is a denormalized index row mapping a fingerprint back to
// the version that produced it, so collision lookups avoid scanning the
// version table.
type FingerprintRow struct {
	ItemID      uuid.UUID `json:"item_id"`
	VersionID   uuid.UUID `json:"version_id"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// EmbeddingVisibility controls which embedding rows search may use.
type EmbeddingVisibility string

// Embedding visibility constants (typed).
const (
	VisibilityLatest         EmbeddingVisibility = "latest"
	VisibilityLatestApproved EmbeddingVisibility = "latest-approved"
	VisibilityAll            EmbeddingVisibility = "all"
)

// Embedding is the semantic-search vector for one version of an item.
// Invariant: at most one row per item has IsLatest=true.
type Embedding struct {
	ID         uuid.UUID           `json:"id"`
	ItemID     uuid.UUID           `json:"item_id"`
	VersionID  uuid.UUID           `json:"version_id"`
	OwnerID    uuid.UUID           `json:"owner_id"`
	Vector     []float32           `json:"vector"`
	IsLatest   bool                `json:"is_latest"`
	IsApproved bool                `json:"is_approved"`
	Visibility EmbeddingVisibility `json:"visibility"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// StatEventKind enumerates append-only stat facts.
type StatEventKind string

// Stat event kind constants (typed).
const (
	StatDownload       StatEventKind = "download"
	StatStar           StatEventKind = "star"
	StatUnstar         StatEventKind = "unstar"
	StatComment        StatEventKind = "comment"
	StatCommentRemove  StatEventKind = "comment_remove"
	StatInstallAdd     StatEventKind = "install_add"
	StatInstallRemove  StatEventKind = "install_remove"
)

// StatEvent is one append-only fact. ProcessedAt stays nil until the
// aggregator consumes the event; the event log is the source of truth
// for the item counters.
type StatEvent struct {
	ID          int64         `json:"id"`
	ItemID      uuid.UUID     `json:"item_id"`
	Kind        StatEventKind `json:"kind"`
	Delta       int64         `json:"delta"`
	OccurredAt  time.Time     `json:"occurred_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

// StatCursor is the persisted watermark of a single aggregation consumer.
type StatCursor struct {
	Key       string    `json:"key"`
	Position  time.Time `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BackfillState tracks a one-time historical recomputation, separate from
// the live cursor so a backfill run cannot race the live drain.
type BackfillState struct {
	Key       string     `json:"key"`
	Cursor    int64      `json:"cursor"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DailyStat is a per-item-per-day rollup row keyed by (ItemID, Day) with
// Day encoded as YYYYMMDD.
type DailyStat struct {
	ItemID    uuid.UUID `json:"item_id"`
	Day       int       `json:"day"`
	Downloads int64     `json:"downloads"`
	Installs  int64     `json:"installs"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeaderboardEntry is one ranked item in a leaderboard snapshot.
type LeaderboardEntry struct {
	ItemID    uuid.UUID `json:"item_id"`
	Score     int64     `json:"score"`
	Downloads int64     `json:"downloads"`
	Installs  int64     `json:"installs"`
}

// Leaderboard is a derived snapshot computed from a range of daily rollups.
// It is a cache, not a source of truth, and may be regenerated idempotently.
type Leaderboard struct {
	ID            uuid.UUID          `json:"id"`
	Kind          string             `json:"kind"`
	GeneratedAt   time.Time          `json:"generated_at"`
	RangeStartDay int                `json:"range_start_day"`
	RangeEndDay   int                `json:"range_end_day"`
	Entries       []LeaderboardEntry `json:"entries"`
}

// Star is a user's star on an item, unique per (ItemID, UserID).
type Star struct {
	ItemID    uuid.UUID `json:"item_id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a user comment on an item. Deletion is a soft delete with
// the deleting actor recorded.
type Comment struct {
	ID            uuid.UUID  `json:"id"`
	ItemID        uuid.UUID  `json:"item_id"`
	UserID        uuid.UUID  `json:"user_id"`
	Body          string     `json:"body"`
	SoftDeletedAt *time.Time `json:"soft_deleted_at,omitempty"`
	DeletedBy     *uuid.UUID `json:"deleted_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Report is a user report against an item, unique per (ItemID, UserID).
type Report struct {
	ItemID    uuid.UUID `json:"item_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbedJobStatus is the lifecycle state of an embedding refresh task.
type EmbedJobStatus string

// Embed job status constants (typed).
const (
	EmbedJobPending EmbedJobStatus = "pending"
	EmbedJobDone    EmbedJobStatus = "done"
	EmbedJobFailed  EmbedJobStatus = "failed"
)

// EmbedJob is a durable outbox row enqueued by publish and drained by a
// worker, so a crash between the publish write and the embedding refresh
// cannot lose the refresh.
type EmbedJob struct {
	ID        uuid.UUID      `json:"id"`
	ItemID    uuid.UUID      `json:"item_id"`
	VersionID uuid.UUID      `json:"version_id"`
	OwnerID   uuid.UUID      `json:"owner_id"`
	Text      string         `json:"text"`
	Status    EmbedJobStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AuditEntry records a staff or lifecycle action for operators.
type AuditEntry struct {
	ID         uuid.UUID              `json:"id"`
	ActorID    uuid.UUID              `json:"actor_id"`
	Action     string                 `json:"action"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ItemSummary is the search/listing projection of an item.
type ItemSummary struct {
	ID             uuid.UUID `json:"id"`
	Kind           ItemKind  `json:"kind"`
	Slug           string    `json:"slug"`
	DisplayName    string    `json:"display_name"`
	Summary        string    `json:"summary,omitempty"`
	OwnerID        uuid.UUID `json:"owner_id"`
	StatsDownloads int64     `json:"stats_downloads"`
	StatsStars     int64     `json:"stats_stars"`
	Score          float64   `json:"score"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SummaryOf projects an item into its listing form.
func SummaryOf(item *Item, score float64) ItemSummary {
	return ItemSummary{
		ID:             item.ID,
		Kind:           item.Kind,
		Slug:           item.Slug,
		DisplayName:    item.DisplayName,
		Summary:        item.Summary,
		OwnerID:        item.OwnerID,
		StatsDownloads: item.StatsDownloads,
		StatsStars:     item.StatsStars,
		Score:          score,
		UpdatedAt:      item.UpdatedAt,
	}
}

// DayOf encodes t's UTC date as YYYYMMDD.
func DayOf(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}
