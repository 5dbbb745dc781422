package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

const maxVersionLen = 64

// service implements the Service interface
type service struct {
	store           Store
	blobStore       BlobStore
	embedder        Embedder
	logger          *slog.Logger
	reportThreshold int64
	searchOpts      SearchOptions
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithStore sets the persistence store for the service
func WithStore(store Store) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithBlobStore sets the object-storage collaborator
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithEmbedder sets the embedding-provider collaborator. Without one,
// publish still succeeds and search degrades to lexical-only.
func WithEmbedder(e Embedder) Option {
	return func(s *service) {
		s.embedder = e
	}
}

// WithLogger sets the logger for the service
func WithLogger(l *slog.Logger) Option {
	return func(s *service) {
		s.logger = l
	}
}

// WithReportThreshold sets the unique-reporter count at which an item is
// hidden automatically.
func WithReportThreshold(n int64) Option {
	return func(s *service) {
		s.reportThreshold = n
	}
}

// WithSearchOptions overrides discovery ranking parameters.
func WithSearchOptions(opts SearchOptions) Option {
	return func(s *service) {
		s.searchOpts = opts
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		logger:          slog.Default(),
		reportThreshold: 4,
		searchOpts:      DefaultSearchOptions(),
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return s, nil
}

// Publish pipeline

func (s *service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if !slugPattern.MatchString(req.Slug) {
		return nil, ErrInvalidSlug
	}
	if req.Version == "" || len(req.Version) > maxVersionLen {
		return nil, ErrInvalidVersion
	}
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}

	now := time.Now().UTC()

	// Resolve or create the item row for this slug. Soft-deleted items
	// still hold their slug; republishing to one is an ownership call,
	// not a fresh create.
	item, err := s.store.GetItemBySlug(ctx, req.Kind, req.Slug)
	created := false
	switch {
	case err == nil:
		if item.OwnerID != req.Principal.UserID && !req.Principal.IsAdmin() {
			return nil, ErrForbidden
		}
		if item.ModerationStatus == ModerationRemoved {
			return nil, ErrItemRemoved
		}
	case IsNotFound(err):
		item = &Item{
			ID:               uuid.New(),
			Kind:             req.Kind,
			Slug:             req.Slug,
			DisplayName:      req.DisplayName,
			Summary:          req.Summary,
			OwnerID:          req.Principal.UserID,
			Tags:             map[string]uuid.UUID{},
			ModerationStatus: ModerationActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.store.CreateItem(ctx, item); err != nil {
			return nil, &ItemError{ItemID: item.ID, Op: "create", Err: err}
		}
		created = true
	default:
		return nil, &ItemError{Op: "resolve_slug", Err: err}
	}

	changelogSource := ChangelogUser
	if req.Changelog == "" {
		req.Changelog = fmt.Sprintf("Release %s", req.Version)
		changelogSource = ChangelogAuto
	}

	version := &Version{
		ID:              uuid.New(),
		ItemID:          item.ID,
		Version:         req.Version,
		Fingerprint:     Fingerprint(req.Files),
		Changelog:       req.Changelog,
		ChangelogSource: changelogSource,
		Files:           req.Files,
		Parsed:          req.Parsed,
		CreatedBy:       req.Principal.UserID,
		ScanStatus:      ScanPending,
		CreatedAt:       now,
	}

	// The duplicate check and insert are one atomic unit in the store:
	// two concurrent publishes of the same version resolve to one
	// success and one ErrVersionExists.
	if err := s.store.CreateVersion(ctx, version); err != nil {
		return nil, err
	}

	if err := s.store.CreateFingerprint(ctx, &FingerprintRow{
		ItemID:      item.ID,
		VersionID:   version.ID,
		Fingerprint: version.Fingerprint,
		CreatedAt:   now,
	}); err != nil {
		return nil, &VersionError{VersionID: version.ID, Op: "fingerprint", Err: err}
	}

	item.LatestVersionID = &version.ID
	if req.DisplayName != "" {
		item.DisplayName = req.DisplayName
	}
	if req.Summary != "" {
		item.Summary = req.Summary
	}
	for _, tag := range req.Tags {
		item.Tags[tag] = version.ID
	}
	item.StatsVersions++
	item.UpdatedAt = now
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, &ItemError{ItemID: item.ID, Op: "update_latest", Err: err}
	}

	// Durable outbox row instead of a bare goroutine: the embed worker
	// picks it up, so a crash here cannot lose the refresh. Enqueue
	// failure is non-fatal; the publish has already succeeded.
	job := &EmbedJob{
		ID:        uuid.New(),
		ItemID:    item.ID,
		VersionID: version.ID,
		OwnerID:   item.OwnerID,
		Text:      EmbedText(item.DisplayName, item.Slug, item.Summary, req.Changelog),
		Status:    EmbedJobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.EnqueueEmbedJob(ctx, job); err != nil {
		s.logger.Warn("embed job enqueue failed",
			"item", item.ID, "version", version.ID, "err", err)
	}

	s.audit(ctx, req.Principal.UserID, "publish", "version", version.ID.String(), map[string]interface{}{
		"slug":    item.Slug,
		"version": version.Version,
	})

	return &PublishResult{
		ItemID:    item.ID,
		VersionID: version.ID,
		Version:   version.Version,
		Created:   created,
	}, nil
}

// Item reads

func (s *service) GetItem(ctx context.Context, kind ItemKind, slug string, principal *Principal) (*Item, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if !item.Visible() {
		// Hidden and soft-deleted items stay readable by the owner and staff.
		if principal == nil || (principal.UserID != item.OwnerID && !principal.IsStaff()) {
			return nil, ErrItemNotFound
		}
	}
	return item, nil
}

func (s *service) ListItems(ctx context.Context, req ListItemsRequest) (*ItemPage, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := ListItemsQuery{
		Kind:    req.Kind,
		Sort:    req.Sort,
		Limit:   limit + 1,
		OwnerID: req.OwnerID,
	}
	if req.Cursor != nil && *req.Cursor != "" {
		// The cursor encodes an updated_at position, so it only pages
		// the recency sort.
		if req.Sort != SortUpdated && req.Sort != "" {
			return nil, fmt.Errorf("%w: cursor requires the updated sort", ErrInvalidCursor)
		}
		t, err := time.Parse(time.RFC3339Nano, *req.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cursor", ErrInvalidCursor)
		}
		q.Before = &t
	}
	// Owners see their own hidden items in per-user listings.
	if req.OwnerID != nil && req.Principal != nil &&
		(req.Principal.UserID == *req.OwnerID || req.Principal.IsStaff()) {
		q.IncludeHidden = true
	}

	items, err := s.store.ListItems(ctx, q)
	if err != nil {
		return nil, err
	}

	page := &ItemPage{HasMore: len(items) > limit}
	if page.HasMore {
		items = items[:limit]
	}
	for _, it := range items {
		page.Items = append(page.Items, SummaryOf(it, 0))
	}
	if page.HasMore && len(items) > 0 && (req.Sort == SortUpdated || req.Sort == "") {
		page.NextCursor = items[len(items)-1].UpdatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

func (s *service) ListVersions(ctx context.Context, kind ItemKind, slug string, limit int) ([]*Version, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListVersions(ctx, item.ID, limit)
}

func (s *service) GetVersionFiles(ctx context.Context, kind ItemKind, slug, version string) ([]FileRef, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetItemVersion(ctx, item.ID, version)
	if err != nil {
		return nil, err
	}
	return v.Files, nil
}

// Item lifecycle

func (s *service) SoftDeleteItem(ctx context.Context, kind ItemKind, slug string, principal Principal) error {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return err
	}
	if item.OwnerID != principal.UserID && !principal.IsAdmin() {
		return ErrForbidden
	}
	now := time.Now().UTC()
	item.SoftDeletedAt = &now
	item.UpdatedAt = now
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "soft_delete", Err: err}
	}
	s.audit(ctx, principal.UserID, "soft_delete", "item", item.ID.String(), nil)
	return nil
}

func (s *service) UndeleteItem(ctx context.Context, kind ItemKind, slug string, principal Principal) error {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return err
	}
	if item.OwnerID != principal.UserID && !principal.IsAdmin() {
		return ErrForbidden
	}
	item.SoftDeletedAt = nil
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "undelete", Err: err}
	}
	s.audit(ctx, principal.UserID, "undelete", "item", item.ID.String(), nil)
	return nil
}

func (s *service) HardDeleteItem(ctx context.Context, id uuid.UUID, principal Principal) error {
	if !principal.IsAdmin() {
		return ErrForbidden
	}
	if err := s.store.HardDeleteItem(ctx, id); err != nil {
		return &ItemError{ItemID: id, Op: "hard_delete", Err: err}
	}
	s.audit(ctx, principal.UserID, "hard_delete", "item", id.String(), nil)
	return nil
}

// Social operations

func (s *service) ToggleStar(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID) (bool, error) {
	item, err := s.visibleItem(ctx, kind, slug)
	if err != nil {
		return false, err
	}

	switch _, err := s.store.GetStar(ctx, item.ID, userID); {
	case err == nil:
		if err := s.store.DeleteStar(ctx, item.ID, userID); err != nil {
			return true, &ItemError{ItemID: item.ID, Op: "unstar", Err: err}
		}
		s.appendEvent(ctx, item.ID, StatUnstar, -1)
		return false, nil
	case !IsNotFound(err):
		return false, &ItemError{ItemID: item.ID, Op: "star_lookup", Err: err}
	}

	star := &Star{ItemID: item.ID, UserID: userID, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateStar(ctx, star); err != nil {
		// A concurrent toggle won the insert; the row exists exactly once.
		if IsConflict(err) {
			return true, nil
		}
		return false, &ItemError{ItemID: item.ID, Op: "star", Err: err}
	}
	s.appendEvent(ctx, item.ID, StatStar, 1)
	return true, nil
}

func (s *service) IsStarred(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID) (bool, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return false, err
	}
	if _, err := s.store.GetStar(ctx, item.ID, userID); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, &ItemError{ItemID: item.ID, Op: "star_lookup", Err: err}
	}
	return true, nil
}

func (s *service) ListStarredItems(ctx context.Context, userID uuid.UUID) ([]ItemSummary, error) {
	items, err := s.store.ListStarredItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]ItemSummary, 0, len(items))
	for _, it := range items {
		if !it.Visible() {
			continue
		}
		summaries = append(summaries, SummaryOf(it, 0))
	}
	return summaries, nil
}

func (s *service) AddComment(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID, body string) (*Comment, error) {
	if body == "" {
		return nil, ErrEmptyComment
	}
	item, err := s.visibleItem(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	c := &Comment{
		ID:        uuid.New(),
		ItemID:    item.ID,
		UserID:    userID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateComment(ctx, c); err != nil {
		return nil, &ItemError{ItemID: item.ID, Op: "comment", Err: err}
	}
	s.appendEvent(ctx, item.ID, StatComment, 1)
	return c, nil
}

func (s *service) ListComments(ctx context.Context, kind ItemKind, slug string, limit int) ([]*Comment, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.store.ListComments(ctx, item.ID, limit)
}

func (s *service) DeleteComment(ctx context.Context, commentID uuid.UUID, principal Principal) error {
	c, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if c.UserID != principal.UserID && !principal.IsStaff() {
		return ErrForbidden
	}
	if err := s.store.SoftDeleteComment(ctx, commentID, principal.UserID); err != nil {
		return err
	}
	s.appendEvent(ctx, c.ItemID, StatCommentRemove, -1)
	return nil
}

func (s *service) Report(ctx context.Context, kind ItemKind, slug string, userID uuid.UUID, reason string) error {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return err
	}
	// Reports keep accumulating on hidden items; only deleted or
	// removed items are closed to reporting.
	if item.SoftDeletedAt != nil {
		return ErrItemNotFound
	}
	if item.ModerationStatus == ModerationRemoved {
		return ErrItemRemoved
	}
	now := time.Now().UTC()
	if err := s.store.CreateReport(ctx, &Report{
		ItemID:    item.ID,
		UserID:    userID,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	count, err := s.store.CountReports(ctx, item.ID)
	if err != nil {
		return &ItemError{ItemID: item.ID, Op: "count_reports", Err: err}
	}
	item.ReportCount = count
	item.LastReportedAt = &now
	if count >= s.reportThreshold && item.ModerationStatus == ModerationActive {
		item.ModerationStatus = ModerationHidden
		item.ModerationReason = ReasonAutoReports
		s.logger.Info("item auto-hidden on report threshold",
			"item", item.ID, "slug", item.Slug, "reports", count)
	}
	item.UpdatedAt = now
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "report", Err: err}
	}
	return nil
}

// Downloads

func (s *service) RecordDownload(ctx context.Context, kind ItemKind, slug string) (*DownloadResult, error) {
	item, err := s.visibleItem(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if item.LatestVersionID == nil {
		return nil, ErrVersionNotFound
	}
	version, err := s.store.GetVersion(ctx, *item.LatestVersionID)
	if err != nil {
		return nil, err
	}

	result := &DownloadResult{VersionID: version.ID, Version: version.Version}
	for _, f := range version.Files {
		df := DownloadFile{Path: f.Path, Size: f.Size, ContentType: f.ContentType}
		if s.blobStore != nil {
			url, err := s.blobStore.PresignDownload(ctx, f.StorageKey)
			if err != nil {
				return nil, &StorageError{Key: f.StorageKey, Op: "presign_download", Err: err}
			}
			df.URL = url
		}
		result.Files = append(result.Files, df)
	}

	s.appendEvent(ctx, item.ID, StatDownload, 1)
	return result, nil
}

func (s *service) GetLeaderboard(ctx context.Context, kind string) (*Leaderboard, error) {
	return s.store.GetLatestLeaderboard(ctx, kind)
}

// Duplicate detection

func (s *service) FindCollisions(ctx context.Context, fingerprint string, excludeItemID uuid.UUID) ([]Collision, error) {
	rows, err := s.store.FindFingerprints(ctx, fingerprint, excludeItemID)
	if err != nil {
		return nil, err
	}
	collisions := make([]Collision, 0, len(rows))
	for _, r := range rows {
		collisions = append(collisions, Collision{ItemID: r.ItemID, VersionID: r.VersionID})
	}
	return collisions, nil
}

// Moderation

func (s *service) HideItem(ctx context.Context, id uuid.UUID, reason string, principal Principal) error {
	if !principal.IsStaff() {
		return ErrForbidden
	}
	return s.setModeration(ctx, id, ModerationHidden, reason, principal, "hide")
}

func (s *service) RestoreItem(ctx context.Context, id uuid.UUID, principal Principal) error {
	if !principal.IsStaff() {
		return ErrForbidden
	}
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.ModerationStatus == ModerationRemoved {
		// removed is terminal for public visibility
		return ErrItemRemoved
	}
	return s.setModeration(ctx, id, ModerationActive, "", principal, "restore")
}

func (s *service) RemoveItem(ctx context.Context, id uuid.UUID, reason string, principal Principal) error {
	if !principal.IsStaff() {
		return ErrForbidden
	}
	return s.setModeration(ctx, id, ModerationRemoved, reason, principal, "remove")
}

func (s *service) setModeration(ctx context.Context, id uuid.UUID, status ModerationStatus, reason string, principal Principal, action string) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	item.ModerationStatus = status
	item.ModerationReason = reason
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: id, Op: action, Err: err}
	}
	s.audit(ctx, principal.UserID, action, "item", id.String(), map[string]interface{}{"reason": reason})
	return nil
}

func (s *service) RecordScanVerdict(ctx context.Context, versionID uuid.UUID, status ScanStatus, verdict string, checkedAt time.Time) error {
	if err := s.store.SetScanResult(ctx, versionID, status, verdict, checkedAt); err != nil {
		return &VersionError{VersionID: versionID, Op: "scan_result", Err: err}
	}
	if status != ScanMalicious {
		return nil
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	item, err := s.store.GetItem(ctx, version.ItemID)
	if err != nil {
		return err
	}
	if item.ModerationStatus != ModerationActive {
		return nil
	}
	item.ModerationStatus = ModerationHidden
	item.ModerationReason = ReasonAutoScan
	item.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "scan_hide", Err: err}
	}
	s.logger.Warn("item hidden on scan verdict",
		"item", item.ID, "slug", item.Slug, "version", version.Version, "verdict", verdict)
	return nil
}

// Upload staging

func (s *service) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	if s.blobStore == nil {
		return "", fmt.Errorf("no blob store configured")
	}
	url, err := s.blobStore.PresignUpload(ctx, key, contentType)
	if err != nil {
		return "", &StorageError{Key: key, Op: "presign_upload", Err: err}
	}
	return url, nil
}

// Helper methods

func (s *service) visibleItem(ctx context.Context, kind ItemKind, slug string) (*Item, error) {
	item, err := s.store.GetItemBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if !item.Visible() {
		return nil, ErrItemNotFound
	}
	return item, nil
}

func (s *service) appendEvent(ctx context.Context, itemID uuid.UUID, kind StatEventKind, delta int64) {
	ev := &StatEvent{
		ItemID:     itemID,
		Kind:       kind,
		Delta:      delta,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.store.AppendStatEvent(ctx, ev); err != nil {
		// The aggregator reconciles counters from the event log; a lost
		// append is counter drift the backfill can repair, not a reason
		// to fail the user-facing operation.
		s.logger.Error("stat event append failed", "item", itemID, "kind", kind, "err", err)
	}
}

func (s *service) audit(ctx context.Context, actor uuid.UUID, action, targetType, targetID string, meta map[string]interface{}) {
	entry := &AuditEntry{
		ID:         uuid.New(),
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("audit append failed", "action", action, "target", targetID, "err", err)
	}
}
