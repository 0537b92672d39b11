package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const contentColumns = `id, user_id, type, title, body, external_id, content_hash, created_at, updated_at`

func scanContent(row rowScanner) (AgentContent, error) {
	var c AgentContent
	var externalID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.UserID, &c.Type, &c.Title, &c.Body, &externalID, &c.ContentHash, &createdAt, &updatedAt); err != nil {
		return AgentContent{}, err
	}
	c.ExternalID = externalID.String
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return AgentContent{}, fmt.Errorf("parsing created_at for content %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return AgentContent{}, fmt.Errorf("parsing updated_at for content %s: %w", c.ID, err)
	}
	return c, nil
}

func (q *Queries) getContentWhere(ctx context.Context, cond string, args ...any) (AgentContent, error) {
	c, err := scanContent(q.q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM agent_content WHERE `+cond, args...))
	if err == sql.ErrNoRows {
		return AgentContent{}, ErrNotFound
	}
	return c, err
}

func (q *Queries) GetContent(ctx context.Context, userID, id string) (AgentContent, error) {
	return q.getContentWhere(ctx, `id = ? AND user_id = ?`, id, userID)
}

func (q *Queries) FindContentByExternalID(ctx context.Context, userID, externalID string) (AgentContent, error) {
	return q.getContentWhere(ctx, `user_id = ? AND external_id = ?`, userID, externalID)
}

// FindContentByHash matches any content of the given type with the same
// body hash, with or without an external id.
func (q *Queries) FindContentByHash(ctx context.Context, userID, hash string, typ ContentType) (AgentContent, error) {
	return q.getContentWhere(ctx, `user_id = ? AND content_hash = ? AND type = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, userID, hash, typ)
}

func (q *Queries) InsertContent(ctx context.Context, c AgentContent) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agent_content (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Type, c.Title, c.Body, nullString(c.ExternalID), c.ContentHash,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent content: %w", err)
	}
	return nil
}

// UpdateContentBody replaces title, body and hash in place. The id and
// external id never change.
func (q *Queries) UpdateContentBody(ctx context.Context, id, title, body, hash string, at time.Time) error {
	return requireOne(q.q.ExecContext(ctx, `
		UPDATE agent_content SET title = ?, body = ?, content_hash = ?, updated_at = ? WHERE id = ?`,
		title, body, hash, formatTime(at), id,
	))
}

func (q *Queries) InsertFormResponse(ctx context.Context, r FormResponse) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO form_responses (id, user_id, content_id, item_id, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.ContentID, nullString(r.ItemID), string(r.Response), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting form response: %w", err)
	}
	return nil
}

// ListFormResponses returns responses to a form, newest first.
func (q *Queries) ListFormResponses(ctx context.Context, userID, contentID string) ([]FormResponse, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_id, content_id, item_id, response, created_at
		FROM form_responses WHERE user_id = ? AND content_id = ?
		ORDER BY created_at DESC, rowid DESC`, userID, contentID)
	if err != nil {
		return nil, fmt.Errorf("listing form responses: %w", err)
	}
	defer rows.Close()

	out := []FormResponse{}
	for rows.Next() {
		var r FormResponse
		var itemID sql.NullString
		var response, createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ContentID, &itemID, &response, &createdAt); err != nil {
			return nil, err
		}
		r.ItemID = itemID.String
		r.Response = []byte(response)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for form response %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
