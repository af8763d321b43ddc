package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
)

type verificationRow struct {
	ID         string        `db:"id"`
	AccountID  string        `db:"account_id"`
	Target     string        `db:"target"`
	Kind       string        `db:"kind"`
	CodeHash   string        `db:"code_hash"`
	Context    string        `db:"context"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  int64         `db:"expires_at"`
	Attempts   int           `db:"attempts"`
	VerifiedAt sql.NullInt64 `db:"verified_at"`
}

const verificationColumns = `id, account_id, target, kind, code_hash, context, created_at, expires_at, attempts, verified_at`

// InsertVerificationCode appends a code to the log.
func (s *Store) InsertVerificationCode(ctx context.Context, code store.VerificationCode) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO verification_codes (`+verificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		code.ID, code.AccountID, code.Target, string(code.Kind), code.CodeHash, code.Context,
		toMillis(code.CreatedAt), toMillis(code.ExpiresAt), code.Attempts, nullMillis(code.VerifiedAt))
	if err != nil {
		return fmt.Errorf("insert verification code: %w", duplicate(err))
	}
	return nil
}

// LatestVerificationCode returns the newest entry for (kind, target[, context]).
func (s *Store) LatestVerificationCode(ctx context.Context, kind store.ContactKind, target, codeContext string) (store.VerificationCode, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_codes WHERE kind = ? AND target = ?`
	args := []any{string(kind), target}
	if codeContext != "" {
		query += ` AND context = ?`
		args = append(args, codeContext)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	var row verificationRow
	if err := s.db.GetContext(ctx, &row, s.q(query), args...); err != nil {
		return store.VerificationCode{}, fmt.Errorf("latest verification code: %w", notFound(err))
	}
	return store.VerificationCode{
		ID:         row.ID,
		AccountID:  row.AccountID,
		Target:     row.Target,
		Kind:       store.ContactKind(row.Kind),
		CodeHash:   row.CodeHash,
		Context:    row.Context,
		CreatedAt:  fromMillis(row.CreatedAt),
		ExpiresAt:  fromMillis(row.ExpiresAt),
		Attempts:   row.Attempts,
		VerifiedAt: fromNullMillis(row.VerifiedAt),
	}, nil
}

// IncrementVerificationAttempts records one failed guess while under max.
func (s *Store) IncrementVerificationAttempts(ctx context.Context, id string, max int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE verification_codes SET attempts = attempts + 1 WHERE id = ? AND attempts < ? AND verified_at IS NULL`),
		id, max)
	if err != nil {
		return false, fmt.Errorf("increment verification attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment verification attempts: %w", err)
	}
	return n == 1, nil
}

// MarkVerificationCodeUsed consumes the code. Only the first caller sees true.
func (s *Store) MarkVerificationCodeUsed(ctx context.Context, id string, max int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE verification_codes SET verified_at = ? WHERE id = ? AND verified_at IS NULL AND attempts < ?`),
		toMillis(now), id, max)
	if err != nil {
		return false, fmt.Errorf("mark verification code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark verification code used: %w", err)
	}
	return n == 1, nil
}
