package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore/store"
)

type refreshRow struct {
	ID           string        `db:"id"`
	AccountID    string        `db:"account_id"`
	TokenHash    string        `db:"token_hash"`
	CreatedAt    int64         `db:"created_at"`
	ExpiresAt    int64         `db:"expires_at"`
	RevokedAt    sql.NullInt64 `db:"revoked_at"`
	ReplacedByID string        `db:"replaced_by_id"`
	CreatedByIP  string        `db:"created_by_ip"`
}

func (r refreshRow) toStore() store.RefreshToken {
	return store.RefreshToken{
		ID:           r.ID,
		AccountID:    r.AccountID,
		TokenHash:    r.TokenHash,
		CreatedAt:    fromMillis(r.CreatedAt),
		ExpiresAt:    fromMillis(r.ExpiresAt),
		RevokedAt:    fromNullMillis(r.RevokedAt),
		ReplacedByID: r.ReplacedByID,
		CreatedByIP:  r.CreatedByIP,
	}
}

const refreshColumns = `id, account_id, token_hash, created_at, expires_at, revoked_at, replaced_by_id, created_by_ip`

const insertRefreshSQL = `INSERT INTO refresh_tokens (` + refreshColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func refreshArgs(t store.RefreshToken) []any {
	return []any{t.ID, t.AccountID, t.TokenHash, toMillis(t.CreatedAt), toMillis(t.ExpiresAt),
		nullMillis(t.RevokedAt), t.ReplacedByID, t.CreatedByIP}
}

// InsertRefreshToken persists a new chain head.
func (s *Store) InsertRefreshToken(ctx context.Context, token store.RefreshToken) error {
	if _, err := s.db.ExecContext(ctx, s.q(insertRefreshSQL), refreshArgs(token)...); err != nil {
		return fmt.Errorf("insert refresh token: %w", duplicate(err))
	}
	return nil
}

// FindRefreshToken loads a token by hash regardless of state.
func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (store.RefreshToken, error) {
	var row refreshRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`), tokenHash)
	if err != nil {
		return store.RefreshToken{}, fmt.Errorf("find refresh token: %w", notFound(err))
	}
	return row.toStore(), nil
}

// RotateRefreshToken revokes the live token and inserts its successor in one
// transaction. The revoke is a conditional update, so of two concurrent
// rotations only one sees a returned row.
func (s *Store) RotateRefreshToken(ctx context.Context, presentedHash string, successor store.RefreshToken, now time.Time) (store.RefreshToken, error) {
	var old refreshRow
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &old, tx.Rebind(`UPDATE refresh_tokens
SET revoked_at = ?, replaced_by_id = ?
WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
RETURNING `+refreshColumns),
			toMillis(now), successor.ID, presentedHash, toMillis(now))
		if errors.Is(err, sql.ErrNoRows) {
			return classifyDeadRefresh(ctx, tx, presentedHash)
		}
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}

		successor.AccountID = old.AccountID
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertRefreshSQL), refreshArgs(successor)...); err != nil {
			return fmt.Errorf("insert successor: %w", duplicate(err))
		}
		return nil
	})
	if err != nil {
		return store.RefreshToken{}, err
	}
	return old.toStore(), nil
}

// classifyDeadRefresh tells a reused (revoked) token apart from an unknown or
// expired one.
func classifyDeadRefresh(ctx context.Context, tx *sqlx.Tx, hash string) error {
	var row refreshRow
	err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`), hash)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", notFound(err))
	}
	if row.RevokedAt.Valid {
		return fmt.Errorf("rotate refresh token: %w", store.ErrRefreshReused)
	}
	return fmt.Errorf("rotate refresh token: expired: %w", store.ErrNotFound)
}

// RevokeRefreshToken revokes a live token by id.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`),
		toMillis(now), id, toMillis(now))
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("revoke refresh token: %w", store.ErrNotFound)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live token of an account.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE refresh_tokens SET revoked_at = ? WHERE account_id = ? AND revoked_at IS NULL AND expires_at > ?`),
		toMillis(now), accountID, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// UpsertDenylistEntry inserts or replaces the entry for a jti.
func (s *Store) UpsertDenylistEntry(ctx context.Context, entry store.DenylistEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO access_token_denylist (jti, account_id, expires_at, reason, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (jti) DO UPDATE SET account_id = excluded.account_id, expires_at = excluded.expires_at, reason = excluded.reason`),
		entry.JTI, entry.AccountID, toMillis(entry.ExpiresAt), entry.Reason, toMillis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert denylist entry: %w", err)
	}
	return nil
}

// ClaimDenylistEntry inserts the entry unless jti is already present.
func (s *Store) ClaimDenylistEntry(ctx context.Context, entry store.DenylistEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO access_token_denylist (jti, account_id, expires_at, reason, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (jti) DO NOTHING`),
		entry.JTI, entry.AccountID, toMillis(entry.ExpiresAt), entry.Reason, toMillis(entry.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("claim denylist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim denylist entry: %w", err)
	}
	return n == 1, nil
}

// IsDenylisted reports whether jti has an unexpired entry.
func (s *Store) IsDenylisted(ctx context.Context, jti string, now time.Time) (bool, error) {
	var found int
	err := s.db.GetContext(ctx, &found,
		s.q(`SELECT 1 FROM access_token_denylist WHERE jti = ? AND expires_at > ?`), jti, toMillis(now))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check denylist: %w", err)
	}
	return true, nil
}

// PurgeExpiredDenylist deletes entries whose token has expired anyway.
func (s *Store) PurgeExpiredDenylist(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM access_token_denylist WHERE expires_at <= ?`), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge denylist: %w", err)
	}
	return res.RowsAffected()
}
