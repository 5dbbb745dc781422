package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the registry core: publish pipeline, discovery, social
// operations, and moderation. The stats drain loop lives in Aggregator;
// the embedding outbox drain lives in EmbedWorker.
type Service interface {
	// Publish pipeline
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)

	// Item reads
	GetItem(ctx context.Context, kind ItemKind, slug string, principal *Principal) (*Item, error)
	ListItems(ctx context.Context, req ListItemsRequest) (*ItemPage, error)
	ListVersions(ctx context.Context, kind ItemKind, slug string, limit int) ([]*Version, error)
	GetVersionFiles(ctx context.Context, kind ItemKind, slug, version string) ([]FileRef, error)

	// Item lifecycle
	SoftDeleteItem(ctx context.Context, kind ItemKind, slug string, principal Principal) error
	UndeleteItem(ctx context.Context, kind ItemKind, slug string, principal Principal) error
	HardDeleteItem(ctx context.Context, id uuid.UUID, principal Principal) error

	// Social operations
	ToggleStar(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID) (starred bool, err error)
	IsStarred(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID) (bool, error)
	ListStarredItems(ctx context.Context, userID uuid.UUID) ([]ItemSummary, error)
	AddComment(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID, body string) (*Comment, error)
	ListComments(ctx context.Context, kind ItemKind, slug string, limit int) ([]*Comment, error)
	DeleteComment(ctx context.Context, commentID uuid.UUID, principal Principal) error
	Report(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID, reason string) error

	// Downloads
	RecordDownload(ctx context.Context, kind ItemKind, slug string) (*DownloadResult, error)

	// Discovery
	Search(ctx context.Context, req SearchRequest) ([]ItemSummary, error)
	GetLeaderboard(ctx context.Context, kind string) (*Leaderboard, error)

	// Duplicate detection
	FindCollisions(ctx context.Context, fingerprint string, excludeItemID uuid.UUID) ([]Collision, error)

	// Moderation
	HideItem(ctx context.Context, id uuid.UUID, reason string, principal Principal) error
	RestoreItem(ctx context.Context, id uuid.UUID, principal Principal) error
	RemoveItem(ctx context.Context, id uuid.UUID, reason string, principal Principal) error
	RecordScanVerdict(ctx context.Context, versionID uuid.UUID, status ScanStatus, verdict string, checkedAt time.Time) error

	// Upload staging
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
}
