package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const pairingColumns = `id, display_code, device_code, email, status, user_id, api_key_id, credential, expires_at, created_at`

func scanPairing(row rowScanner) (PairingSession, error) {
	var p PairingSession
	var userID, keyID, credential sql.NullString
	var expiresAt, createdAt string
	if err := row.Scan(&p.ID, &p.DisplayCode, &p.DeviceCode, &p.Email, &p.Status,
		&userID, &keyID, &credential, &expiresAt, &createdAt); err != nil {
		return PairingSession{}, err
	}
	p.UserID = userID.String
	p.APIKeyID = keyID.String
	p.Credential = credential.String
	var err error
	if p.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return PairingSession{}, fmt.Errorf("parsing expires_at for pairing %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return PairingSession{}, fmt.Errorf("parsing created_at for pairing %s: %w", p.ID, err)
	}
	return p, nil
}

func (q *Queries) InsertPairing(ctx context.Context, p PairingSession) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO pairing_sessions (`+pairingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayCode, p.DeviceCode, p.Email, p.Status,
		nullString(p.UserID), nullString(p.APIKeyID), nullString(p.Credential),
		formatTime(p.ExpiresAt), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting pairing session: %w", err)
	}
	return nil
}

// GetPairingByDisplayCode returns the newest session issued with code.
func (q *Queries) GetPairingByDisplayCode(ctx context.Context, code string) (PairingSession, error) {
	p, err := scanPairing(q.q.QueryRowContext(ctx, `SELECT `+pairingColumns+` FROM pairing_sessions
		WHERE display_code = ? ORDER BY created_at DESC LIMIT 1`, code))
	if err == sql.ErrNoRows {
		return PairingSession{}, ErrNotFound
	}
	return p, err
}

func (q *Queries) GetPairingByDeviceCode(ctx context.Context, code string) (PairingSession, error) {
	p, err := scanPairing(q.q.QueryRowContext(ctx, `SELECT `+pairingColumns+` FROM pairing_sessions
		WHERE device_code = ?`, code))
	if err == sql.ErrNoRows {
		return PairingSession{}, ErrNotFound
	}
	return p, err
}

// AuthorizePairing moves a pending session to authorized. It reports
// ErrNotFound when the session is no longer pending.
func (q *Queries) AuthorizePairing(ctx context.Context, id, userID, keyID, credential string) error {
	return requireOne(q.q.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = 'authorized', user_id = ?, api_key_id = ?, credential = ?
		WHERE id = ? AND status = 'pending'`,
		userID, keyID, credential, id,
	))
}

// ConsumePairing moves an authorized session to consumed and drops the
// plaintext credential. It reports ErrNotFound when the session was not
// authorized.
func (q *Queries) ConsumePairing(ctx context.Context, id string) error {
	return requireOne(q.q.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = 'consumed', credential = NULL
		WHERE id = ? AND status = 'authorized'`, id))
}

// ExpirePairing moves a pending or authorized session to expired and drops
// its credential. Sessions in any other state are left alone.
func (q *Queries) ExpirePairing(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = 'expired', credential = NULL
		WHERE id = ? AND status IN ('pending', 'authorized')`, id)
	if err != nil {
		return fmt.Errorf("expiring pairing session: %w", err)
	}
	return nil
}

// DeleteExpiredPairings removes sessions that expired before the cutoff.
func (q *Queries) DeleteExpiredPairings(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM pairing_sessions WHERE expires_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("deleting expired pairings: %w", err)
	}
	return res.RowsAffected()
}
