package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func scanNote(row rowScanner) (Note, error) {
	var n Note
	var createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.ItemID, &n.Author, &n.Content, &createdAt, &updatedAt); err != nil {
		return Note{}, err
	}
	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return Note{}, fmt.Errorf("parsing created_at for note %s: %w", n.ID, err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Note{}, fmt.Errorf("parsing updated_at for note %s: %w", n.ID, err)
	}
	return n, nil
}

func (q *Queries) InsertNote(ctx context.Context, n Note) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO notes (id, item_id, author, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.ItemID, n.Author, n.Content, formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}
	return nil
}

// GetNote returns a note only if its item belongs to userID.
func (q *Queries) GetNote(ctx context.Context, userID, id string) (Note, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT n.id, n.item_id, n.author, n.content, n.created_at, n.updated_at
		FROM notes n JOIN items i ON i.id = n.item_id
		WHERE n.id = ? AND i.user_id = ?`, id, userID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return Note{}, ErrNotFound
	}
	return n, err
}

func (q *Queries) UpdateNoteContent(ctx context.Context, id, content string, at time.Time) error {
	return requireOne(q.q.ExecContext(ctx,
		`UPDATE notes SET content = ?, updated_at = ? WHERE id = ?`, content, formatTime(at), id))
}

func (q *Queries) CountNotes(ctx context.Context, itemID string) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE item_id = ?`, itemID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting notes: %w", err)
	}
	return n, nil
}

// ListNotes returns an item's notes, newest first.
func (q *Queries) ListNotes(ctx context.Context, itemID string) ([]Note, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, item_id, author, content, created_at, updated_at
		FROM notes WHERE item_id = ? ORDER BY created_at DESC, rowid DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
