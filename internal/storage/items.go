package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const itemColumns = `i.id, i.human_id, i.user_id, i.title, i.description, i.urgency, i.tag, i.importance,
	i.deadline, i.status, i.created_by, i.modified_by, i.has_ai_changes, i.content_id, c.type,
	i.created_at, i.updated_at, i.opened_at`

const itemFrom = `FROM items i LEFT JOIN agent_content c ON c.id = i.content_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	var deadline, contentID, contentType sql.NullString
	var createdAt, updatedAt, openedAt string
	if err := row.Scan(&it.ID, &it.HumanID, &it.UserID, &it.Title, &it.Description, &it.Urgency, &it.Tag,
		&it.Importance, &deadline, &it.Status, &it.CreatedBy, &it.ModifiedBy, &it.HasAIChanges,
		&contentID, &contentType, &createdAt, &updatedAt, &openedAt); err != nil {
		return Item{}, err
	}
	it.ContentID = contentID.String
	it.ContentType = ContentType(contentType.String)

	var err error
	if deadline.Valid {
		d, err := parseTime(deadline.String)
		if err != nil {
			return Item{}, fmt.Errorf("parsing deadline for item %s: %w", it.ID, err)
		}
		it.Deadline = &d
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return Item{}, fmt.Errorf("parsing created_at for item %s: %w", it.ID, err)
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Item{}, fmt.Errorf("parsing updated_at for item %s: %w", it.ID, err)
	}
	if it.OpenedAt, err = parseTime(openedAt); err != nil {
		return Item{}, fmt.Errorf("parsing opened_at for item %s: %w", it.ID, err)
	}
	return it, nil
}

// NextHumanID returns the next per-user display number and advances the
// counter. A user without a counter row starts at 1. Call it inside the
// transaction that inserts the item so a rollback releases the number.
func (q *Queries) NextHumanID(ctx context.Context, userID string) (int64, error) {
	var next int64
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO user_counters (user_id, next_human_id) VALUES (?, 2)
		ON CONFLICT(user_id) DO UPDATE SET next_human_id = next_human_id + 1
		RETURNING next_human_id - 1`, userID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocating human id: %w", err)
	}
	return next, nil
}

func (q *Queries) InsertItem(ctx context.Context, it Item) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO items (id, human_id, user_id, title, description, urgency, tag, importance, deadline,
			status, created_by, modified_by, has_ai_changes, content_id, created_at, updated_at, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.HumanID, it.UserID, it.Title, it.Description, it.Urgency, it.Tag, it.Importance,
		nullTime(it.Deadline), it.Status, it.CreatedBy, it.ModifiedBy, it.HasAIChanges,
		nullString(it.ContentID), formatTime(it.CreatedAt), formatTime(it.UpdatedAt), formatTime(it.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// GetItem returns the item only if userID owns it.
func (q *Queries) GetItem(ctx context.Context, userID, id string) (Item, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+itemColumns+` `+itemFrom+` WHERE i.id = ? AND i.user_id = ?`, id, userID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	return it, err
}

// UpdateItem writes every mutable column of it. Ownership is re-checked.
func (q *Queries) UpdateItem(ctx context.Context, it Item) error {
	return requireOne(q.q.ExecContext(ctx, `
		UPDATE items SET title = ?, description = ?, urgency = ?, tag = ?, importance = ?, deadline = ?,
			status = ?, modified_by = ?, has_ai_changes = ?, updated_at = ?, opened_at = ?
		WHERE id = ? AND user_id = ?`,
		it.Title, it.Description, it.Urgency, it.Tag, it.Importance, nullTime(it.Deadline),
		it.Status, it.ModifiedBy, it.HasAIChanges, formatTime(it.UpdatedAt), formatTime(it.OpenedAt),
		it.ID, it.UserID,
	))
}

// TouchItem records a change to an item's notes or linked content.
func (q *Queries) TouchItem(ctx context.Context, userID, id string, by Actor, aiChange bool, at time.Time) error {
	return requireOne(q.q.ExecContext(ctx, `
		UPDATE items SET modified_by = ?, has_ai_changes = (has_ai_changes OR ?), updated_at = ?
		WHERE id = ? AND user_id = ?`,
		by, aiChange, formatTime(at), id, userID,
	))
}

// ListItems returns one page of userID's items and the total number of
// matches. Items with a deadline come first, earliest deadline first, then
// by importance (High, Medium, Low), then most recently updated.
func (q *Queries) ListItems(ctx context.Context, userID string, f ItemFilter) ([]Item, int, error) {
	where := []string{"i.user_id = ?"}
	args := []any{userID}
	if f.Status != nil {
		where = append(where, "i.status = ?")
		args = append(args, *f.Status)
	}
	if f.Tag != nil {
		where = append(where, "i.tag = ?")
		args = append(args, *f.Tag)
	}
	if f.Urgency != nil {
		where = append(where, "i.urgency = ?")
		args = append(args, *f.Urgency)
	}
	if f.Importance != nil {
		where = append(where, "i.importance = ?")
		args = append(args, *f.Importance)
	}
	if f.CreatedBy != nil {
		where = append(where, "i.created_by = ?")
		args = append(args, *f.CreatedBy)
	}
	if f.ModifiedBy != nil {
		where = append(where, "i.modified_by = ?")
		args = append(args, *f.ModifiedBy)
	}
	if f.DeadlineBefore != nil {
		where = append(where, "i.deadline IS NOT NULL AND i.deadline < ?")
		args = append(args, formatTime(*f.DeadlineBefore))
	}
	if f.DeadlineAfter != nil {
		where = append(where, "i.deadline IS NOT NULL AND i.deadline > ?")
		args = append(args, formatTime(*f.DeadlineAfter))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items i WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting items: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	rows, err := q.q.QueryContext(ctx, `SELECT `+itemColumns+` `+itemFrom+` WHERE `+cond+`
		ORDER BY (i.deadline IS NULL) ASC, i.deadline ASC,
			CASE i.importance WHEN 'High' THEN 0 WHEN 'Medium' THEN 1 ELSE 2 END ASC,
			i.updated_at DESC, i.human_id DESC
		LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// LatestItemForContent returns the most recently created item linked to
// contentID. With activeOnly, Done and Dropped items are skipped.
func (q *Queries) LatestItemForContent(ctx context.Context, userID, contentID string, activeOnly bool) (Item, error) {
	query := `SELECT ` + itemColumns + ` ` + itemFrom + ` WHERE i.user_id = ? AND i.content_id = ?`
	if activeOnly {
		query += ` AND i.status = 'Active'`
	}
	query += ` ORDER BY i.created_at DESC, i.human_id DESC LIMIT 1`

	it, err := scanItem(q.q.QueryRowContext(ctx, query, userID, contentID))
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	return it, err
}
