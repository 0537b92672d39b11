package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func scanUser(row rowScanner) (User, error) {
	var u User
	var createdAt, updatedAt string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &createdAt, &updatedAt); err != nil {
		return User{}, err
	}
	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at for user %s: %w", u.ID, err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return User{}, fmt.Errorf("parsing updated_at for user %s: %w", u.ID, err)
	}
	return u, nil
}

func (q *Queries) InsertUser(ctx context.Context, u User) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE email = ?`, email))
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

func (q *Queries) InsertSession(ctx context.Context, s Session) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, formatTime(s.ExpiresAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (q *Queries) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var expiresAt, createdAt string
	err := q.q.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if s.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return Session{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return s, nil
}

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	return requireOne(q.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id))
}

func (q *Queries) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAPIKey(row rowScanner) (APIKey, error) {
	var k APIKey
	var createdAt string
	if err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Name, &createdAt); err != nil {
		return APIKey{}, err
	}
	var err error
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return APIKey{}, fmt.Errorf("parsing created_at for api key %s: %w", k.ID, err)
	}
	return k, nil
}

func (q *Queries) InsertAPIKey(ctx context.Context, k APIKey) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.KeyHash, k.Name, formatTime(k.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	k, err := scanAPIKey(q.q.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, name, created_at FROM api_keys WHERE key_hash = ?`, hash))
	if err == sql.ErrNoRows {
		return APIKey{}, ErrNotFound
	}
	return k, err
}

func (q *Queries) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_id, key_hash, name, created_at FROM api_keys
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (q *Queries) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return requireOne(q.q.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ? AND user_id = ?`, id, userID))
}
