package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skillhub/registry/pkg/registry"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements registry.Store using PostgreSQL
type Store struct {
	db DBTX
}

// New creates a new PostgreSQL store
func New(db DBTX) registry.Store {
	return &Store{db: db}
}

// NewWithPool creates a new PostgreSQL store with connection pool
func NewWithPool(pool *pgxpool.Pool) registry.Store {
	return &Store{db: pool}
}

// handlePostgresError maps constraint violations onto the store's
// sentinel errors so callers never see raw pg error codes.
func (s *Store) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch {
			case strings.Contains(pgErr.ConstraintName, "versions_item_version"):
				return registry.ErrVersionExists
			case strings.Contains(pgErr.ConstraintName, "items_kind_slug"):
				return registry.ErrSlugTaken
			case strings.Contains(pgErr.ConstraintName, "stars"):
				return registry.ErrAlreadyStarred
			case strings.Contains(pgErr.ConstraintName, "reports"):
				return registry.ErrAlreadyReported
			}
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return registry.ErrItemNotFound
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const itemColumns = `id, kind, slug, display_name, summary, owner_id, latest_version_id,
       tags, moderation_status, moderation_reason, soft_deleted_at,
       stats_downloads, stats_stars, stats_installs, stats_versions, stats_comments,
       report_count, last_reported_at, created_at, updated_at`

func scanItem(row pgx.Row) (*registry.Item, error) {
	var item registry.Item
	var tags []byte
	err := row.Scan(
		&item.ID, &item.Kind, &item.Slug, &item.DisplayName, &item.Summary,
		&item.OwnerID, &item.LatestVersionID, &tags,
		&item.ModerationStatus, &item.ModerationReason, &item.SoftDeletedAt,
		&item.StatsDownloads, &item.StatsStars, &item.StatsInstalls,
		&item.StatsVersions, &item.StatsComments,
		&item.ReportCount, &item.LastReportedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &item.Tags); err != nil {
		return nil, fmt.Errorf("decode item tags: %w", err)
	}
	return &item, nil
}

// Item operations

func (s *Store) CreateItem(ctx context.Context, item *registry.Item) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("encode item tags: %w", err)
	}

	query := `
		INSERT INTO items (
			id, kind, slug, display_name, summary, owner_id, latest_version_id,
			tags, moderation_status, moderation_reason,
			stats_versions, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.db.Exec(ctx, query,
		item.ID, item.Kind, item.Slug, item.DisplayName, item.Summary,
		item.OwnerID, item.LatestVersionID, tags,
		item.ModerationStatus, item.ModerationReason,
		item.StatsVersions, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("create item", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*registry.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	item, err := scanItem(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get item", err)
	}
	return item, nil
}

func (s *Store) GetItemBySlug(ctx context.Context, kind registry.ItemKind, slug string) (*registry.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE kind = $1 AND slug = $2`

	item, err := scanItem(s.db.QueryRow(ctx, query, kind, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get item by slug", err)
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *registry.Item) error {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("encode item tags: %w", err)
	}

	query := `
		UPDATE items SET
			display_name = $2, summary = $3, latest_version_id = $4, tags = $5,
			moderation_status = $6, moderation_reason = $7, soft_deleted_at = $8,
			stats_versions = $9, report_count = $10, last_reported_at = $11,
			updated_at = $12
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		item.ID, item.DisplayName, item.Summary, item.LatestVersionID, tags,
		item.ModerationStatus, item.ModerationReason, item.SoftDeletedAt,
		item.StatsVersions, item.ReportCount, item.LastReportedAt,
		item.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("update item", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrItemNotFound
	}
	return nil
}

func (s *Store) HardDeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return s.handlePostgresError("hard delete item", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrItemNotFound
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, q registry.ListItemsQuery) ([]*registry.Item, error) {
	var sortCol string
	switch q.Sort {
	case registry.SortDownloads:
		sortCol = "stats_downloads"
	case registry.SortStars:
		sortCol = "stats_stars"
	case registry.SortCreated:
		sortCol = "created_at"
	default:
		sortCol = "updated_at"
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE kind = $1 AND soft_deleted_at IS NULL`
	args := []interface{}{q.Kind}

	if !q.IncludeHidden {
		query += ` AND moderation_status = 'active'`
	}
	if q.OwnerID != nil {
		args = append(args, *q.OwnerID)
		query += fmt.Sprintf(` AND owner_id = $%d`, len(args))
	}
	if q.Before != nil {
		args = append(args, *q.Before)
		query += fmt.Sprintf(` AND updated_at < $%d`, len(args))
	}
	query += fmt.Sprintf(` ORDER BY %s DESC, slug ASC`, sortCol)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.handlePostgresError("list items", err)
	}
	defer rows.Close()

	var items []*registry.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) SearchItems(ctx context.Context, kind registry.ItemKind, query string, limit int) ([]*registry.Item, error) {
	sqlQuery := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE kind = $1 AND soft_deleted_at IS NULL AND moderation_status = 'active'
		  AND (slug ILIKE $2 OR display_name ILIKE $2 OR summary ILIKE $2)
		ORDER BY stats_downloads DESC, slug ASC
		LIMIT $3`

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(ctx, sqlQuery, kind, pattern, limit)
	if err != nil {
		return nil, s.handlePostgresError("search items", err)
	}
	defer rows.Close()

	var items []*registry.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

// Version operations

const versionColumns = `id, item_id, version, fingerprint, changelog, changelog_source,
       files, parsed, created_by, scan_status, scan_verdict, scan_checked_at,
       soft_deleted_at, created_at`

func scanVersion(row pgx.Row) (*registry.Version, error) {
	var v registry.Version
	var files, parsed []byte
	err := row.Scan(
		&v.ID, &v.ItemID, &v.Version, &v.Fingerprint, &v.Changelog, &v.ChangelogSource,
		&files, &parsed, &v.CreatedBy, &v.ScanStatus, &v.ScanVerdict, &v.ScanCheckedAt,
		&v.SoftDeletedAt, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(files, &v.Files); err != nil {
		return nil, fmt.Errorf("decode version files: %w", err)
	}
	if parsed != nil {
		if err := json.Unmarshal(parsed, &v.Parsed); err != nil {
			return nil, fmt.Errorf("decode version parsed: %w", err)
		}
	}
	return &v, nil
}

func (s *Store) CreateVersion(ctx context.Context, v *registry.Version) error {
	files, err := json.Marshal(v.Files)
	if err != nil {
		return fmt.Errorf("encode version files: %w", err)
	}
	var parsed []byte
	if v.Parsed != nil {
		parsed, err = json.Marshal(v.Parsed)
		if err != nil {
			return fmt.Errorf("encode version parsed: %w", err)
		}
	}

	query := `
		INSERT INTO versions (
			id, item_id, version, fingerprint, changelog, changelog_source,
			files, parsed, created_by, scan_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.Exec(ctx, query,
		v.ID, v.ItemID, v.Version, v.Fingerprint, v.Changelog, v.ChangelogSource,
		files, parsed, v.CreatedBy, v.ScanStatus, v.CreatedAt)
	if err != nil {
		return s.handlePostgresError("create version", err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (*registry.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE id = $1`

	v, err := scanVersion(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrVersionNotFound
		}
		return nil, s.handlePostgresError("get version", err)
	}
	return v, nil
}

func (s *Store) GetItemVersion(ctx context.Context, itemID uuid.UUID, version string) (*registry.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM versions WHERE item_id = $1 AND version = $2`

	v, err := scanVersion(s.db.QueryRow(ctx, query, itemID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrVersionNotFound
		}
		return nil, s.handlePostgresError("get item version", err)
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, itemID uuid.UUID, limit int) ([]*registry.Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM versions
		WHERE item_id = $1 AND soft_deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, itemID, limit)
	if err != nil {
		return nil, s.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	var versions []*registry.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) SetScanResult(ctx context.Context, versionID uuid.UUID, status registry.ScanStatus, verdict string, checkedAt time.Time) error {
	query := `
		UPDATE versions SET scan_status = $2, scan_verdict = $3, scan_checked_at = $4
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, versionID, status, verdict, checkedAt)
	if err != nil {
		return s.handlePostgresError("set scan result", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrVersionNotFound
	}
	return nil
}

// Fingerprint operations

func (s *Store) CreateFingerprint(ctx context.Context, row *registry.FingerprintRow) error {
	query := `
		INSERT INTO fingerprints (item_id, version_id, fingerprint, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, row.ItemID, row.VersionID, row.Fingerprint, row.CreatedAt)
	if err != nil {
		return s.handlePostgresError("create fingerprint", err)
	}
	return nil
}

func (s *Store) FindFingerprints(ctx context.Context, fingerprint string, excludeItemID uuid.UUID) ([]*registry.FingerprintRow, error) {
	query := `
		SELECT item_id, version_id, fingerprint, created_at
		FROM fingerprints
		WHERE fingerprint = $1 AND item_id <> $2`

	rows, err := s.db.Query(ctx, query, fingerprint, excludeItemID)
	if err != nil {
		return nil, s.handlePostgresError("find fingerprints", err)
	}
	defer rows.Close()

	var result []*registry.FingerprintRow
	for rows.Next() {
		var r registry.FingerprintRow
		if err := rows.Scan(&r.ItemID, &r.VersionID, &r.Fingerprint, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

// Embedding operations

func (s *Store) MarkEmbeddingLatest(ctx context.Context, emb *registry.Embedding) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return s.handlePostgresError("mark embedding latest", err)
	}
	defer tx.Rollback(ctx)

	// Lock the version row of the current latest embedding so two
	// concurrent completions serialize on the same item.
	var curCreatedAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT v.created_at
		FROM embeddings e
		JOIN versions v ON v.id = e.version_id
		WHERE e.item_id = $1 AND e.is_latest
		FOR UPDATE OF e`, emb.ItemID).Scan(&curCreatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return s.handlePostgresError("mark embedding latest", err)
	}

	var newCreatedAt time.Time
	err = tx.QueryRow(ctx, `SELECT created_at FROM versions WHERE id = $1`, emb.VersionID).Scan(&newCreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registry.ErrVersionNotFound
		}
		return s.handlePostgresError("mark embedding latest", err)
	}

	isLatest := true
	if curCreatedAt != nil && curCreatedAt.After(newCreatedAt) {
		// Late completion for an older version: keep the newer row latest.
		isLatest = false
	} else if curCreatedAt != nil {
		_, err = tx.Exec(ctx, `UPDATE embeddings SET is_latest = FALSE WHERE item_id = $1 AND is_latest`, emb.ItemID)
		if err != nil {
			return s.handlePostgresError("mark embedding latest", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO embeddings (id, item_id, version_id, owner_id, vector, is_latest, is_approved, visibility, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		emb.ID, emb.ItemID, emb.VersionID, emb.OwnerID, emb.Vector,
		isLatest, emb.IsApproved, emb.Visibility, emb.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("mark embedding latest", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ListLatestEmbeddings(ctx context.Context, kind registry.ItemKind) ([]*registry.Embedding, error) {
	query := `
		SELECT e.id, e.item_id, e.version_id, e.owner_id, e.vector,
		       e.is_latest, e.is_approved, e.visibility, e.updated_at
		FROM embeddings e
		JOIN items i ON i.id = e.item_id
		WHERE e.is_latest
		  AND e.visibility IN ('latest', 'latest-approved')
		  AND i.kind = $1 AND i.soft_deleted_at IS NULL AND i.moderation_status = 'active'`

	rows, err := s.db.Query(ctx, query, kind)
	if err != nil {
		return nil, s.handlePostgresError("list latest embeddings", err)
	}
	defer rows.Close()

	var result []*registry.Embedding
	for rows.Next() {
		var e registry.Embedding
		if err := rows.Scan(&e.ID, &e.ItemID, &e.VersionID, &e.OwnerID, &e.Vector,
			&e.IsLatest, &e.IsApproved, &e.Visibility, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// Star operations

func (s *Store) GetStar(ctx context.Context, itemID, userID uuid.UUID) (*registry.Star, error) {
	query := `SELECT item_id, user_id, created_at FROM stars WHERE item_id = $1 AND user_id = $2`

	var star registry.Star
	err := s.db.QueryRow(ctx, query, itemID, userID).Scan(&star.ItemID, &star.UserID, &star.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get star", err)
	}
	return &star, nil
}

func (s *Store) CreateStar(ctx context.Context, star *registry.Star) error {
	query := `INSERT INTO stars (item_id, user_id, created_at) VALUES ($1, $2, $3)`

	_, err := s.db.Exec(ctx, query, star.ItemID, star.UserID, star.CreatedAt)
	if err != nil {
		return s.handlePostgresError("create star", err)
	}
	return nil
}

func (s *Store) DeleteStar(ctx context.Context, itemID, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM stars WHERE item_id = $1 AND user_id = $2`, itemID, userID)
	if err != nil {
		return s.handlePostgresError("delete star", err)
	}
	return nil
}

func (s *Store) ListStarredItems(ctx context.Context, userID uuid.UUID) ([]*registry.Item, error) {
	query := `
		SELECT ` + qualifyItemColumns("i") + `
		FROM stars st
		JOIN items i ON i.id = st.item_id
		WHERE st.user_id = $1
		ORDER BY i.slug ASC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, s.handlePostgresError("list starred items", err)
	}
	defer rows.Close()

	var items []*registry.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func qualifyItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// Comment operations

func (s *Store) CreateComment(ctx context.Context, c *registry.Comment) error {
	query := `
		INSERT INTO comments (id, item_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, query, c.ID, c.ItemID, c.UserID, c.Body, c.CreatedAt)
	if err != nil {
		return s.handlePostgresError("create comment", err)
	}
	return nil
}

func (s *Store) GetComment(ctx context.Context, id uuid.UUID) (*registry.Comment, error) {
	query := `
		SELECT id, item_id, user_id, body, soft_deleted_at, deleted_by, created_at
		FROM comments WHERE id = $1 AND soft_deleted_at IS NULL`

	var c registry.Comment
	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ItemID, &c.UserID, &c.Body, &c.SoftDeletedAt, &c.DeletedBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrCommentNotFound
		}
		return nil, s.handlePostgresError("get comment", err)
	}
	return &c, nil
}

func (s *Store) ListComments(ctx context.Context, itemID uuid.UUID, limit int) ([]*registry.Comment, error) {
	query := `
		SELECT id, item_id, user_id, body, soft_deleted_at, deleted_by, created_at
		FROM comments
		WHERE item_id = $1 AND soft_deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, itemID, limit)
	if err != nil {
		return nil, s.handlePostgresError("list comments", err)
	}
	defer rows.Close()

	var comments []*registry.Comment
	for rows.Next() {
		var c registry.Comment
		if err := rows.Scan(&c.ID, &c.ItemID, &c.UserID, &c.Body,
			&c.SoftDeletedAt, &c.DeletedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func (s *Store) SoftDeleteComment(ctx context.Context, id, deletedBy uuid.UUID) error {
	query := `
		UPDATE comments SET soft_deleted_at = now(), deleted_by = $2
		WHERE id = $1 AND soft_deleted_at IS NULL`

	tag, err := s.db.Exec(ctx, query, id, deletedBy)
	if err != nil {
		return s.handlePostgresError("soft delete comment", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrCommentNotFound
	}
	return nil
}

// Report operations

func (s *Store) CreateReport(ctx context.Context, r *registry.Report) error {
	query := `INSERT INTO reports (item_id, user_id, reason, created_at) VALUES ($1, $2, $3, $4)`

	_, err := s.db.Exec(ctx, query, r.ItemID, r.UserID, r.Reason, r.CreatedAt)
	if err != nil {
		return s.handlePostgresError("create report", err)
	}
	return nil
}

func (s *Store) CountReports(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM reports WHERE item_id = $1`, itemID).Scan(&n)
	if err != nil {
		return 0, s.handlePostgresError("count reports", err)
	}
	return n, nil
}

// Stat event operations

func (s *Store) AppendStatEvent(ctx context.Context, ev *registry.StatEvent) error {
	query := `
		INSERT INTO stat_events (item_id, kind, delta, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := s.db.QueryRow(ctx, query, ev.ItemID, ev.Kind, ev.Delta, ev.OccurredAt).Scan(&ev.ID)
	if err != nil {
		return s.handlePostgresError("append stat event", err)
	}
	return nil
}

func (s *Store) ListUnprocessedEvents(ctx context.Context, limit int) ([]*registry.StatEvent, error) {
	query := `
		SELECT id, item_id, kind, delta, occurred_at, processed_at
		FROM stat_events
		WHERE processed_at IS NULL
		ORDER BY occurred_at ASC, id ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, s.handlePostgresError("list unprocessed events", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*registry.StatEvent, error) {
	var events []*registry.StatEvent
	for rows.Next() {
		var ev registry.StatEvent
		if err := rows.Scan(&ev.ID, &ev.ItemID, &ev.Kind, &ev.Delta,
			&ev.OccurredAt, &ev.ProcessedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func counterColumn(kind registry.StatEventKind) (string, bool) {
	switch kind {
	case registry.StatDownload:
		return "stats_downloads", true
	case registry.StatStar, registry.StatUnstar:
		return "stats_stars", true
	case registry.StatInstallAdd, registry.StatInstallRemove:
		return "stats_installs", true
	case registry.StatComment, registry.StatCommentRemove:
		return "stats_comments", true
	}
	return "", false
}

func (s *Store) ApplyStatEvent(ctx context.Context, ev *registry.StatEvent, cursorKey string) error {
	col, ok := counterColumn(ev.Kind)
	if !ok {
		return registry.ErrInconsistent
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return s.handlePostgresError("apply stat event", err)
	}
	defer tx.Rollback(ctx)

	// Claim the event; a zero-row update means another consumer (or a
	// previous crashed attempt) already applied it.
	tag, err := tx.Exec(ctx, `
		UPDATE stat_events SET processed_at = now()
		WHERE id = $1 AND processed_at IS NULL`, ev.ID)
	if err != nil {
		return s.handlePostgresError("apply stat event", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	query := fmt.Sprintf(`
		UPDATE items SET %s = GREATEST(%s + $2, 0)
		WHERE id = $1`, col, col)
	if _, err := tx.Exec(ctx, query, ev.ItemID, ev.Delta); err != nil {
		return s.handlePostgresError("apply stat event", err)
	}

	if err := upsertCursor(ctx, tx, cursorKey, ev.OccurredAt); err != nil {
		return s.handlePostgresError("apply stat event", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) SkipStatEvent(ctx context.Context, ev *registry.StatEvent, cursorKey string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return s.handlePostgresError("skip stat event", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE stat_events SET processed_at = now()
		WHERE id = $1 AND processed_at IS NULL`, ev.ID)
	if err != nil {
		return s.handlePostgresError("skip stat event", err)
	}
	if err := upsertCursor(ctx, tx, cursorKey, ev.OccurredAt); err != nil {
		return s.handlePostgresError("skip stat event", err)
	}
	return tx.Commit(ctx)
}

func upsertCursor(ctx context.Context, tx pgx.Tx, key string, position time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stat_cursors (key, position, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET position = EXCLUDED.position, updated_at = now()`,
		key, position)
	return err
}

func (s *Store) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*registry.StatEvent, error) {
	query := `
		SELECT id, item_id, kind, delta, occurred_at, processed_at
		FROM stat_events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, s.handlePostgresError("list events after", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (s *Store) SumItemEventDeltas(ctx context.Context, itemID uuid.UUID) (registry.StatTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(delta) FILTER (WHERE kind = 'download'), 0),
			COALESCE(SUM(delta) FILTER (WHERE kind IN ('star', 'unstar')), 0),
			COALESCE(SUM(delta) FILTER (WHERE kind IN ('install_add', 'install_remove')), 0),
			COALESCE(SUM(delta) FILTER (WHERE kind IN ('comment', 'comment_remove')), 0)
		FROM stat_events
		WHERE item_id = $1 AND processed_at IS NOT NULL`

	var totals registry.StatTotals
	err := s.db.QueryRow(ctx, query, itemID).Scan(
		&totals.Downloads, &totals.Stars, &totals.Installs, &totals.Comments)
	if err != nil {
		return registry.StatTotals{}, s.handlePostgresError("sum item event deltas", err)
	}
	return totals, nil
}

func (s *Store) SetItemCounters(ctx context.Context, itemID uuid.UUID, totals registry.StatTotals) error {
	query := `
		UPDATE items SET
			stats_downloads = $2, stats_stars = $3, stats_installs = $4, stats_comments = $5
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, itemID,
		totals.Downloads, totals.Stars, totals.Installs, totals.Comments)
	if err != nil {
		return s.handlePostgresError("set item counters", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrItemNotFound
	}
	return nil
}

// Cursor and backfill state

func (s *Store) GetCursor(ctx context.Context, key string) (*registry.StatCursor, error) {
	var cur registry.StatCursor
	err := s.db.QueryRow(ctx,
		`SELECT key, position, updated_at FROM stat_cursors WHERE key = $1`, key).
		Scan(&cur.Key, &cur.Position, &cur.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get cursor", err)
	}
	return &cur, nil
}

func (s *Store) SetCursor(ctx context.Context, cur *registry.StatCursor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stat_cursors (key, position, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`,
		cur.Key, cur.Position, cur.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("set cursor", err)
	}
	return nil
}

func (s *Store) GetBackfillState(ctx context.Context, key string) (*registry.BackfillState, error) {
	var st registry.BackfillState
	err := s.db.QueryRow(ctx,
		`SELECT key, cursor, done_at, updated_at FROM backfill_state WHERE key = $1`, key).
		Scan(&st.Key, &st.Cursor, &st.DoneAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get backfill state", err)
	}
	return &st, nil
}

func (s *Store) SetBackfillState(ctx context.Context, st *registry.BackfillState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO backfill_state (key, cursor, done_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET cursor = EXCLUDED.cursor, done_at = EXCLUDED.done_at, updated_at = EXCLUDED.updated_at`,
		st.Key, st.Cursor, st.DoneAt, st.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("set backfill state", err)
	}
	return nil
}

// Rollup and leaderboard operations

func (s *Store) AggregateDay(ctx context.Context, day int) ([]registry.DayTotals, error) {
	query := `
		SELECT item_id,
			COALESCE(SUM(delta) FILTER (WHERE kind = 'download'), 0),
			COALESCE(SUM(delta) FILTER (WHERE kind IN ('install_add', 'install_remove')), 0)
		FROM stat_events
		WHERE to_char(occurred_at AT TIME ZONE 'UTC', 'YYYYMMDD')::int = $1
		  AND kind IN ('download', 'install_add', 'install_remove')
		GROUP BY item_id
		ORDER BY item_id`

	rows, err := s.db.Query(ctx, query, day)
	if err != nil {
		return nil, s.handlePostgresError("aggregate day", err)
	}
	defer rows.Close()

	var result []registry.DayTotals
	for rows.Next() {
		var t registry.DayTotals
		if err := rows.Scan(&t.ItemID, &t.Downloads, &t.Installs); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) UpsertDailyStat(ctx context.Context, ds *registry.DailyStat) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO daily_stats (item_id, day, downloads, installs, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, day) DO UPDATE SET
			downloads = EXCLUDED.downloads, installs = EXCLUDED.installs, updated_at = EXCLUDED.updated_at`,
		ds.ItemID, ds.Day, ds.Downloads, ds.Installs, ds.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("upsert daily stat", err)
	}
	return nil
}

func (s *Store) ListDailyRange(ctx context.Context, startDay, endDay int) ([]*registry.DailyStat, error) {
	query := `
		SELECT item_id, day, downloads, installs, updated_at
		FROM daily_stats
		WHERE day >= $1 AND day <= $2
		ORDER BY day ASC, item_id ASC`

	rows, err := s.db.Query(ctx, query, startDay, endDay)
	if err != nil {
		return nil, s.handlePostgresError("list daily range", err)
	}
	defer rows.Close()

	var result []*registry.DailyStat
	for rows.Next() {
		var ds registry.DailyStat
		if err := rows.Scan(&ds.ItemID, &ds.Day, &ds.Downloads, &ds.Installs, &ds.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &ds)
	}
	return result, rows.Err()
}

func (s *Store) SaveLeaderboard(ctx context.Context, lb *registry.Leaderboard) error {
	entries, err := json.Marshal(lb.Entries)
	if err != nil {
		return fmt.Errorf("encode leaderboard entries: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO leaderboards (id, kind, generated_at, range_start_day, range_end_day, entries)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		lb.ID, lb.Kind, lb.GeneratedAt, lb.RangeStartDay, lb.RangeEndDay, entries)
	if err != nil {
		return s.handlePostgresError("save leaderboard", err)
	}
	return nil
}

func (s *Store) GetLatestLeaderboard(ctx context.Context, kind string) (*registry.Leaderboard, error) {
	query := `
		SELECT id, kind, generated_at, range_start_day, range_end_day, entries
		FROM leaderboards
		WHERE kind = $1
		ORDER BY generated_at DESC
		LIMIT 1`

	var lb registry.Leaderboard
	var entries []byte
	err := s.db.QueryRow(ctx, query, kind).Scan(
		&lb.ID, &lb.Kind, &lb.GeneratedAt, &lb.RangeStartDay, &lb.RangeEndDay, &entries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrItemNotFound
		}
		return nil, s.handlePostgresError("get latest leaderboard", err)
	}
	if err := json.Unmarshal(entries, &lb.Entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard entries: %w", err)
	}
	return &lb, nil
}

// Embed job operations

func (s *Store) EnqueueEmbedJob(ctx context.Context, job *registry.EmbedJob) error {
	query := `
		INSERT INTO embed_jobs (id, item_id, version_id, owner_id, text, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, query,
		job.ID, job.ItemID, job.VersionID, job.OwnerID, job.Text,
		job.Status, job.Attempts, job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("enqueue embed job", err)
	}
	return nil
}

func (s *Store) ListPendingEmbedJobs(ctx context.Context, limit int) ([]*registry.EmbedJob, error) {
	query := `
		SELECT id, item_id, version_id, owner_id, text, status, attempts, last_error, created_at, updated_at
		FROM embed_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, s.handlePostgresError("list pending embed jobs", err)
	}
	defer rows.Close()

	var jobs []*registry.EmbedJob
	for rows.Next() {
		var j registry.EmbedJob
		if err := rows.Scan(&j.ID, &j.ItemID, &j.VersionID, &j.OwnerID, &j.Text,
			&j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (s *Store) UpdateEmbedJob(ctx context.Context, job *registry.EmbedJob) error {
	query := `
		UPDATE embed_jobs SET status = $2, attempts = $3, last_error = $4, updated_at = $5
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, job.ID, job.Status, job.Attempts, job.LastError, job.UpdatedAt)
	if err != nil {
		return s.handlePostgresError("update embed job", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrItemNotFound
	}
	return nil
}

// Audit log

func (s *Store) AppendAudit(ctx context.Context, entry *registry.AuditEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID,
		metadata, entry.CreatedAt)
	if err != nil {
		return s.handlePostgresError("append audit", err)
	}
	return nil
}
