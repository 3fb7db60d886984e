package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/models"
)

const itemColumns = `id, kind, content, content_hash, hash_version, reference_type,
	linked_reference_ids, topic, platforms, created_at, is_deleted, deleted_at`

// queryFields maps the fields accepted by QueryByField to their columns.
var queryFields = map[string]string{
	"kind":           "kind",
	"topic":          "topic",
	"reference_type": "reference_type",
	"content_hash":   "content_hash",
	"hash_version":   "hash_version",
	"is_deleted":     "is_deleted",
}

// ItemPatch lists the fields to change on an item. Nil fields are left as is.
type ItemPatch struct {
	Content            *string
	ContentHash        *string
	HashVersion        *int
	ReferenceType      *models.ReferenceType
	LinkedReferenceIDs *[]string
	Topic              *string
	Platforms          *[]string
	// Deleted toggles the soft-delete flag. DeletedAt is stored when Deleted
	// is true and cleared otherwise.
	Deleted   *bool
	DeletedAt time.Time
}

func (p ItemPatch) empty() bool {
	return p.Content == nil && p.ContentHash == nil && p.HashVersion == nil &&
		p.ReferenceType == nil && p.LinkedReferenceIDs == nil && p.Topic == nil &&
		p.Platforms == nil && p.Deleted == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (models.SavedItem, error) {
	var (
		it        models.SavedItem
		kind      string
		refType   string
		linksJSON string
		platJSON  string
		deleted   int
		deletedAt sql.NullTime
	)
	err := s.Scan(&it.ID, &kind, &it.Content, &it.ContentHash, &it.HashVersion, &refType,
		&linksJSON, &it.Topic, &platJSON, &it.CreatedAt, &deleted, &deletedAt)
	if err != nil {
		return models.SavedItem{}, err
	}
	it.Kind = models.Kind(kind)
	it.ReferenceType = models.ReferenceType(refType)
	// A corrupt list column degrades to an empty list so the item still loads.
	if err := json.Unmarshal([]byte(linksJSON), &it.LinkedReferenceIDs); err != nil {
		it.LinkedReferenceIDs = nil
		slog.Warn("index: unreadable column", slog.String("id", it.ID),
			slog.String("column", "linked_reference_ids"), slog.String("error", err.Error()))
	}
	if err := json.Unmarshal([]byte(platJSON), &it.Platforms); err != nil {
		it.Platforms = nil
		slog.Warn("index: unreadable column", slog.String("id", it.ID),
			slog.String("column", "platforms"), slog.String("error", err.Error()))
	}
	it.IsDeleted = deleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		it.DeletedAt = &t
	}
	return it, nil
}

func collectItems(rows *sql.Rows) ([]models.SavedItem, error) {
	defer rows.Close()
	var out []models.SavedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// AddItem inserts a new item. The store assigns the id (and the creation
// time when unset) and returns the stored item.
func (db *DB) AddItem(ctx context.Context, it models.SavedItem) (models.SavedItem, error) {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	it.CreatedAt = it.CreatedAt.UTC()

	var deletedAt any
	if it.DeletedAt != nil {
		deletedAt = it.DeletedAt.UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, string(it.Kind), it.Content, it.ContentHash, it.HashVersion, string(it.ReferenceType),
		jsonList(it.LinkedReferenceIDs), it.Topic, jsonList(it.Platforms), it.CreatedAt,
		it.IsDeleted, deletedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.SavedItem{}, fmt.Errorf("index: add item %s: %w", it.ID, apperr.ErrAlreadyExists)
		}
		return models.SavedItem{}, fmt.Errorf("index: add item: %w", err)
	}
	return it, nil
}

// GetItem returns one item by id.
func (db *DB) GetItem(ctx context.Context, id string) (models.SavedItem, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SavedItem{}, apperr.ErrNotFound
		}
		return models.SavedItem{}, fmt.Errorf("index: get item: %w", err)
	}
	return it, nil
}

// UpdateItem applies patch to the item with the given id.
func (db *DB) UpdateItem(ctx context.Context, id string, patch ItemPatch) error {
	if patch.empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Content != nil {
		set("content", *patch.Content)
	}
	if patch.ContentHash != nil {
		set("content_hash", *patch.ContentHash)
	}
	if patch.HashVersion != nil {
		set("hash_version", *patch.HashVersion)
	}
	if patch.ReferenceType != nil {
		set("reference_type", string(*patch.ReferenceType))
	}
	if patch.LinkedReferenceIDs != nil {
		set("linked_reference_ids", jsonList(*patch.LinkedReferenceIDs))
	}
	if patch.Topic != nil {
		set("topic", *patch.Topic)
	}
	if patch.Platforms != nil {
		set("platforms", jsonList(*patch.Platforms))
	}
	if patch.Deleted != nil {
		set("is_deleted", *patch.Deleted)
		if *patch.Deleted {
			set("deleted_at", patch.DeletedAt.UTC())
		} else {
			set("deleted_at", nil)
		}
	}
	args = append(args, id)

	res, err := db.conn.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("index: update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// QueryByField returns the items whose field equals value, newest first.
func (db *DB) QueryByField(ctx context.Context, field string, value any) ([]models.SavedItem, error) {
	col, ok := queryFields[field]
	if !ok {
		return nil, fmt.Errorf("index: query by %q: %w", field, apperr.ErrInvalidInput)
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+col+` = ? ORDER BY created_at DESC, rowid DESC`, value)
	if err != nil {
		return nil, fmt.Errorf("index: query by %s: %w", field, err)
	}
	return collectItems(rows)
}

// AllItems returns every stored item, newest first.
func (db *DB) AllItems(ctx context.Context) ([]models.SavedItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("index: all items: %w", err)
	}
	return collectItems(rows)
}

// MaxBatchSize reports the write limit of a single WriteHashes call.
func (db *DB) MaxBatchSize() int {
	return MaxBatchWrites
}

// WriteHashes stores content hashes for a batch of items in one transaction.
// Either every update is applied or none is.
func (db *DB) WriteHashes(ctx context.Context, updates []models.HashUpdate) error {
	if len(updates) > MaxBatchWrites {
		return fmt.Errorf("index: write hashes (%d rows): %w", len(updates), apperr.ErrBatchTooLarge)
	}
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `UPDATE items SET content_hash = ?, hash_version = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("index: prepare hash update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.Digest.Value, u.Digest.Version(), u.ID)
		if err != nil {
			return fmt.Errorf("index: write hash %s: %w", u.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("index: write hash %s: %w", u.ID, apperr.ErrNotFound)
		}
	}

	return tx.Commit()
}

// DeleteItem permanently removes an item and the tracking posts derived from
// it. It returns the number of tracking posts removed.
func (db *DB) DeleteItem(ctx context.Context, id string) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM tracking_posts WHERE source_item_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("index: delete tracking posts: %w", err)
	}
	tracked, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("index: delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, apperr.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index: commit delete: %w", err)
	}
	return int(tracked), nil
}

// AddTrackingPost records a post derived from an existing item.
func (db *DB) AddTrackingPost(ctx context.Context, p models.TrackingPost) (models.TrackingPost, error) {
	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, p.SourceItemID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TrackingPost{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.TrackingPost{}, fmt.Errorf("index: lookup tracking source: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO tracking_posts (id, source_item_id, platform, url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.SourceItemID, p.Platform, p.URL, p.CreatedAt)
	if err != nil {
		return models.TrackingPost{}, fmt.Errorf("index: add tracking post: %w", err)
	}
	return p, nil
}

// TrackingPosts returns the tracking posts derived from an item, newest first.
func (db *DB) TrackingPosts(ctx context.Context, sourceID string) ([]models.TrackingPost, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_item_id, platform, url, created_at
		FROM tracking_posts WHERE source_item_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("index: tracking posts: %w", err)
	}
	defer rows.Close()

	var out []models.TrackingPost
	for rows.Next() {
		var p models.TrackingPost
		if err := rows.Scan(&p.ID, &p.SourceItemID, &p.Platform, &p.URL, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
