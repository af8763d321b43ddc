package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore/store"
)

type accountRow struct {
	ID        string `db:"id"`
	Role      string `db:"role"`
	Nickname  string `db:"nickname"`
	CreatedAt int64  `db:"created_at"`
}

func (r accountRow) toStore() store.Account {
	return store.Account{ID: r.ID, Role: r.Role, Nickname: r.Nickname, CreatedAt: fromMillis(r.CreatedAt)}
}

type associateRow struct {
	ID            string `db:"id"`
	AccountID     string `db:"account_id"`
	Provider      string `db:"provider"`
	ProviderRefID string `db:"provider_ref_id"`
	Email         string `db:"email"`
	EmailVerified bool   `db:"email_verified"`
	Phone         string `db:"phone"`
	PhoneVerified bool   `db:"phone_verified"`
	PasswordHash  string `db:"password_hash"`
	CreatedAt     int64  `db:"created_at"`
}

func (r associateRow) toStore() store.Associate {
	return store.Associate{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Provider:      store.Provider(r.Provider),
		ProviderRefID: r.ProviderRefID,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Phone:         r.Phone,
		PhoneVerified: r.PhoneVerified,
		PasswordHash:  r.PasswordHash,
		CreatedAt:     fromMillis(r.CreatedAt),
	}
}

const associateColumns = `id, account_id, provider, provider_ref_id, email, email_verified, phone, phone_verified, password_hash, created_at`

const insertAccountSQL = `INSERT INTO accounts (id, role, nickname, created_at) VALUES (?, ?, ?, ?)`

const insertAssociateSQL = `INSERT INTO associates (` + associateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func associateArgs(a store.Associate) []any {
	return []any{a.ID, a.AccountID, string(a.Provider), a.ProviderRefID, a.Email, a.EmailVerified,
		a.Phone, a.PhoneVerified, a.PasswordHash, toMillis(a.CreatedAt)}
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (store.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, role, nickname, created_at FROM accounts WHERE id = ?`), id)
	if err != nil {
		return store.Account{}, fmt.Errorf("get account: %w", notFound(err))
	}
	return row.toStore(), nil
}

// CreateAccountWithAssociate inserts account and its first associate atomically.
func (s *Store) CreateAccountWithAssociate(ctx context.Context, account store.Account, associate store.Associate) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertAccountSQL),
			account.ID, account.Role, account.Nickname, toMillis(account.CreatedAt)); err != nil {
			return fmt.Errorf("insert account: %w", duplicate(err))
		}
		associate.AccountID = account.ID
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertAssociateSQL), associateArgs(associate)...); err != nil {
			return fmt.Errorf("insert associate: %w", duplicate(err))
		}
		return nil
	})
}

// CreateAssociate binds a new associate to an existing account.
func (s *Store) CreateAssociate(ctx context.Context, associate store.Associate) error {
	if _, err := s.db.ExecContext(ctx, s.q(insertAssociateSQL), associateArgs(associate)...); err != nil {
		return fmt.Errorf("insert associate: %w", duplicate(err))
	}
	return nil
}

// FindAssociate resolves the binding for (provider, refID).
func (s *Store) FindAssociate(ctx context.Context, provider store.Provider, refID string) (store.Associate, error) {
	return s.getAssociate(ctx, `WHERE provider = ? AND provider_ref_id = ?`, string(provider), refID)
}

// FindPasswordAssociate resolves a password associate by email or phone.
func (s *Store) FindPasswordAssociate(ctx context.Context, identifier string) (store.Associate, error) {
	return s.getAssociate(ctx,
		`WHERE provider = ? AND (email = ? OR phone = ?) ORDER BY created_at, id LIMIT 1`,
		string(store.ProviderPassword), identifier, identifier)
}

// FindAssociateByEmail returns the first associate that claimed email.
func (s *Store) FindAssociateByEmail(ctx context.Context, email string) (store.Associate, error) {
	return s.getAssociate(ctx, `WHERE email = ? ORDER BY created_at, id LIMIT 1`, email)
}

// FindVerifiedAssociateByEmail returns the first associate that claimed and
// verified email.
func (s *Store) FindVerifiedAssociateByEmail(ctx context.Context, email string) (store.Associate, error) {
	return s.getAssociate(ctx, `WHERE email = ? AND email_verified = ? ORDER BY created_at, id LIMIT 1`, email, true)
}

// FindAssociateByPhone returns the first associate that claimed phone.
func (s *Store) FindAssociateByPhone(ctx context.Context, phone string) (store.Associate, error) {
	return s.getAssociate(ctx, `WHERE phone = ? ORDER BY created_at, id LIMIT 1`, phone)
}

func (s *Store) getAssociate(ctx context.Context, where string, args ...any) (store.Associate, error) {
	var row associateRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+associateColumns+` FROM associates `+where), args...)
	if err != nil {
		return store.Associate{}, fmt.Errorf("get associate: %w", notFound(err))
	}
	return row.toStore(), nil
}

// ListAssociates returns every binding of an account, oldest first.
func (s *Store) ListAssociates(ctx context.Context, accountID string) ([]store.Associate, error) {
	var rows []associateRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+associateColumns+` FROM associates WHERE account_id = ? ORDER BY created_at, id`), accountID)
	if err != nil {
		return nil, fmt.Errorf("list associates: %w", err)
	}
	out := make([]store.Associate, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStore())
	}
	return out, nil
}

// MarkContactVerified sets the verified flag on every associate holding target.
func (s *Store) MarkContactVerified(ctx context.Context, kind store.ContactKind, target string) (int64, error) {
	var query string
	switch kind {
	case store.ContactEmail:
		query = `UPDATE associates SET email_verified = ? WHERE email = ?`
	case store.ContactPhone:
		query = `UPDATE associates SET phone_verified = ? WHERE phone = ?`
	default:
		return 0, fmt.Errorf("mark contact verified: unknown kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx, s.q(query), true, target)
	if err != nil {
		return 0, fmt.Errorf("mark contact verified: %w", err)
	}
	return res.RowsAffected()
}

// UpdatePasswordHash replaces the stored hash of a password associate.
func (s *Store) UpdatePasswordHash(ctx context.Context, associateID, hash string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE associates SET password_hash = ? WHERE id = ?`), hash, associateID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update password hash: %w", store.ErrNotFound)
	}
	return nil
}
