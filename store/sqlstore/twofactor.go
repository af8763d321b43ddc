package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore/store"
)

type twoFactorRow struct {
	AccountID  string        `db:"account_id"`
	Secret     string        `db:"secret"`
	Enabled    bool          `db:"enabled"`
	VerifiedAt sql.NullInt64 `db:"verified_at"`
	CreatedAt  int64         `db:"created_at"`
}

type backupCodeRow struct {
	ID        string        `db:"id"`
	AccountID string        `db:"account_id"`
	CodeHash  string        `db:"code_hash"`
	UsedAt    sql.NullInt64 `db:"used_at"`
}

// GetTwoFactor loads the 2FA credential of an account.
func (s *Store) GetTwoFactor(ctx context.Context, accountID string) (store.TwoFactorCredential, error) {
	var row twoFactorRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT account_id, secret, enabled, verified_at, created_at FROM two_factor_credentials WHERE account_id = ?`),
		accountID)
	if err != nil {
		return store.TwoFactorCredential{}, fmt.Errorf("get two factor: %w", notFound(err))
	}
	return store.TwoFactorCredential{
		AccountID:  row.AccountID,
		Secret:     row.Secret,
		Enabled:    row.Enabled,
		VerifiedAt: fromNullMillis(row.VerifiedAt),
		CreatedAt:  fromMillis(row.CreatedAt),
	}, nil
}

// SaveTwoFactorSecret writes a fresh pending secret and drops old backup codes.
func (s *Store) SaveTwoFactorSecret(ctx context.Context, accountID, secret string, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO two_factor_credentials (account_id, secret, enabled, verified_at, created_at)
VALUES (?, ?, ?, NULL, ?)
ON CONFLICT (account_id) DO UPDATE SET secret = excluded.secret, enabled = excluded.enabled, verified_at = NULL, created_at = excluded.created_at`),
			accountID, secret, false, toMillis(now))
		if err != nil {
			return fmt.Errorf("save two factor secret: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backup_codes WHERE account_id = ?`), accountID); err != nil {
			return fmt.Errorf("clear backup codes: %w", err)
		}
		return nil
	})
}

// EnableTwoFactor flips the credential to enabled and installs codes.
func (s *Store) EnableTwoFactor(ctx context.Context, accountID string, codes []store.BackupCode, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE two_factor_credentials SET enabled = ?, verified_at = ? WHERE account_id = ?`),
			true, toMillis(now), accountID)
		if err != nil {
			return fmt.Errorf("enable two factor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("enable two factor: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("enable two factor: %w", store.ErrNotFound)
		}
		return replaceBackupCodes(ctx, tx, accountID, codes)
	})
}

// ReplaceBackupCodes swaps the backup codes of an enabled credential.
func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, codes []store.BackupCode) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var enabled bool
		err := tx.GetContext(ctx, &enabled,
			tx.Rebind(`SELECT enabled FROM two_factor_credentials WHERE account_id = ?`), accountID)
		if err != nil {
			return fmt.Errorf("replace backup codes: %w", notFound(err))
		}
		if !enabled {
			return fmt.Errorf("replace backup codes: not enabled: %w", store.ErrNotFound)
		}
		return replaceBackupCodes(ctx, tx, accountID, codes)
	})
}

func replaceBackupCodes(ctx context.Context, tx *sqlx.Tx, accountID string, codes []store.BackupCode) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backup_codes WHERE account_id = ?`), accountID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	insert := tx.Rebind(`INSERT INTO backup_codes (id, account_id, code_hash, used_at) VALUES (?, ?, ?, NULL)`)
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, insert, code.ID, accountID, code.CodeHash); err != nil {
			return fmt.Errorf("insert backup code: %w", duplicate(err))
		}
	}
	return nil
}

// DisableTwoFactor clears enabled and every backup code.
func (s *Store) DisableTwoFactor(ctx context.Context, accountID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE two_factor_credentials SET enabled = ?, verified_at = NULL WHERE account_id = ?`),
			false, accountID)
		if err != nil {
			return fmt.Errorf("disable two factor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("disable two factor: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("disable two factor: %w", store.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM backup_codes WHERE account_id = ?`), accountID); err != nil {
			return fmt.Errorf("clear backup codes: %w", err)
		}
		return nil
	})
}

// ListUnusedBackupCodes returns the codes still available for login.
func (s *Store) ListUnusedBackupCodes(ctx context.Context, accountID string) ([]store.BackupCode, error) {
	var rows []backupCodeRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT id, account_id, code_hash, used_at FROM backup_codes WHERE account_id = ? AND used_at IS NULL ORDER BY id`),
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list backup codes: %w", err)
	}
	out := make([]store.BackupCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.BackupCode{
			ID:        row.ID,
			AccountID: row.AccountID,
			CodeHash:  row.CodeHash,
			UsedAt:    fromNullMillis(row.UsedAt),
		})
	}
	return out, nil
}

// ConsumeBackupCode marks a code used. Only the first caller sees true.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE backup_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`), toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return n == 1, nil
}
