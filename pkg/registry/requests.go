package registry

import "github.com/google/uuid"

// Request/Response DTOs

// PublishRequest contains parameters for publishing one version of an
// item. Files reference storage keys and hashes already staged by the
// uploader.
type PublishRequest struct {
	Kind        ItemKind
	Slug        string
	DisplayName string
	Summary     string
	Version     string
	Changelog   string
	Tags        []string
	Files       []FileRef
	Parsed      map[string]interface{}
	Principal   Principal
}

// PublishResult identifies the rows a successful publish produced.
type PublishResult struct {
	ItemID    uuid.UUID
	VersionID uuid.UUID
	Version   string
	Created   bool // true when this publish created the item
}

// SearchRequest contains parameters for hybrid discovery search.
type SearchRequest struct {
	Kind  ItemKind
	Query string
	Limit int
}

// ListItemsRequest contains parameters for public item listings.
type ListItemsRequest struct {
	Kind      ItemKind
	Sort      ItemSort
	Limit     int
	Cursor    *string // opaque; RFC3339 updatedAt of the last item
	OwnerID   *uuid.UUID
	Principal *Principal
}

// ItemPage is one page of an item listing.
type ItemPage struct {
	Items      []ItemSummary
	NextCursor string
	HasMore    bool
}

// DownloadResult carries presigned URLs for the latest version's files.
type DownloadResult struct {
	VersionID uuid.UUID
	Version   string
	Files     []DownloadFile
}

// DownloadFile is one presigned file of a download.
type DownloadFile struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url"`
}

// Collision identifies another version sharing a fingerprint. A match is
// informational, never auto-blocking.
type Collision struct {
	ItemID    uuid.UUID `json:"item_id"`
	VersionID uuid.UUID `json:"version_id"`
}
