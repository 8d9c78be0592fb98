// Package linkcode issues and redeems the short-lived codes that bind a
// third-party identity (Slack user, GitHub user) to an internal account.
//
// Lifecycle per account: Unlinked -> (issue) -> PendingLink -> (redeem) ->
// Linked -> (unlink) -> Unlinked. Re-issuance overwrites the pending code;
// expiry needs no explicit transition because redemption of an expired code
// is simply rejected.
package linkcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CodeTTL is how long an issued code stays redeemable.
const CodeTTL = 15 * time.Minute

var (
	ErrCodeNotFound  = errors.New("link code not found")
	ErrCodeExpired   = errors.New("link code expired")
	ErrNotLinked     = errors.New("identity not linked")
	ErrAlreadyLinked = errors.New("identity already linked to an account")
)

// ExternalIdentity names a third-party user.
type ExternalIdentity struct {
	Provider string // "github" | "slack"
	UserID   string
	Username string
}

// Link is one account-to-identity binding row.
type Link struct {
	ID               string
	AccountID        string
	Provider         string
	ExternalUserID   string
	ExternalUsername string
	LinkedAt         *time.Time
}

// IssuedCode is the result of issuing a link code.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

// Status summarizes an account's link state for the management API.
type Status struct {
	Linked  []Link
	Pending *IssuedCode
}

// Store persists account links in sqlite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Issue creates a fresh code for accountID, overwriting any prior
// unredeemed code for that account and resetting the expiry.
func (s *Store) Issue(ctx context.Context, accountID string) (*IssuedCode, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is empty")
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(CodeTTL)

	// One round trip covers both re-issue and first issue: the partial
	// unique index on (account_id) WHERE linked_at IS NULL makes the
	// pending row addressable by conflict target.
	_, err = s.db.ExecContext(ctx, `
INSERT INTO account_links(id, account_id, link_code, link_code_expires_at, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(account_id) WHERE linked_at IS NULL DO UPDATE SET
  link_code = excluded.link_code,
  link_code_expires_at = excluded.link_code_expires_at;
`, uuid.NewString(), accountID, code,
		expiresAt.Format(time.RFC3339), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("issue link code: %w", err)
	}

	return &IssuedCode{Code: code, ExpiresAt: expiresAt}, nil
}

// Redeem binds ext to the account holding code. The check (exists, not
// expired, not already linked) and the write happen in one conditional
// UPDATE, so two concurrent redemptions of the same code cannot both
// succeed. Returns the account id the code belonged to.
func (s *Store) Redeem(ctx context.Context, code string, ext ExternalIdentity) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", ErrCodeNotFound
	}
	if ext.Provider == "" || ext.UserID == "" {
		return "", fmt.Errorf("external identity is incomplete")
	}

	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
UPDATE account_links
SET provider = ?, external_user_id = ?, external_username = ?,
    linked_at = ?, link_code = NULL, link_code_expires_at = NULL
WHERE link_code = ? AND linked_at IS NULL AND link_code_expires_at > ?;
`, ext.Provider, ext.UserID, ext.Username,
		now.Format(time.RFC3339Nano), code, now.Format(time.RFC3339))
	if err != nil {
		// The partial unique index on (provider, external_user_id) fires
		// when this identity is already bound to some account.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrAlreadyLinked
		}
		return "", fmt.Errorf("redeem link code: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("redeem link code: %w", err)
	}
	if n == 1 {
		var accountID string
		err := s.db.QueryRowContext(ctx, `
SELECT account_id FROM account_links
WHERE provider = ? AND external_user_id = ? AND linked_at IS NOT NULL;
`, ext.Provider, ext.UserID).Scan(&accountID)
		if err != nil {
			return "", fmt.Errorf("load redeemed link: %w", err)
		}
		return accountID, nil
	}

	// Nothing updated: distinguish expired from unknown for the caller's
	// error message. A code that was already redeemed has been cleared, so
	// it reports as not found.
	var expiresAt string
	err = s.db.QueryRowContext(ctx,
		"SELECT link_code_expires_at FROM account_links WHERE link_code = ? AND linked_at IS NULL;",
		code).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("inspect link code: %w", err)
	}
	return "", ErrCodeExpired
}

// Unlink deletes the account's binding for provider, immediately revoking
// webhook-driven capture for that identity. provider == "" removes every
// row for the account, pending codes included.
func (s *Store) Unlink(ctx context.Context, accountID, provider string) error {
	if accountID == "" {
		return fmt.Errorf("account id is empty")
	}

	var (
		res sql.Result
		err error
	)
	if provider == "" {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM account_links WHERE account_id = ?;", accountID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"DELETE FROM account_links WHERE account_id = ? AND provider = ?;", accountID, provider)
	}
	if err != nil {
		return fmt.Errorf("unlink account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlink account: %w", err)
	}
	if n == 0 {
		return ErrNotLinked
	}
	return nil
}

// FindByExternal resolves a webhook sender to the internal account they
// linked, or ErrNotLinked.
func (s *Store) FindByExternal(ctx context.Context, provider, externalUserID string) (*Link, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, provider, external_user_id, external_username, linked_at
FROM account_links
WHERE provider = ? AND external_user_id = ? AND linked_at IS NOT NULL;
`, provider, externalUserID)

	var (
		l        Link
		username sql.NullString
		linkedAt string
	)
	err := row.Scan(&l.ID, &l.AccountID, &l.Provider, &l.ExternalUserID, &username, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("find link by external identity: %w", err)
	}
	l.ExternalUsername = username.String
	if t, err := time.Parse(time.RFC3339Nano, linkedAt); err == nil {
		l.LinkedAt = &t
	}
	return &l, nil
}

// GetStatus reports an account's linked identities and any pending code.
func (s *Store) GetStatus(ctx context.Context, accountID string) (*Status, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, provider, external_user_id, external_username,
       link_code, link_code_expires_at, linked_at
FROM account_links
WHERE account_id = ?;
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("load link status: %w", err)
	}
	defer rows.Close()

	st := &Status{}
	now := s.now().UTC()
	for rows.Next() {
		var (
			l         Link
			provider  sql.NullString
			extID     sql.NullString
			username  sql.NullString
			code      sql.NullString
			expiresAt sql.NullString
			linkedAt  sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &provider, &extID, &username,
			&code, &expiresAt, &linkedAt); err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}

		if linkedAt.Valid {
			l.Provider = provider.String
			l.ExternalUserID = extID.String
			l.ExternalUsername = username.String
			if t, err := time.Parse(time.RFC3339Nano, linkedAt.String); err == nil {
				l.LinkedAt = &t
			}
			st.Linked = append(st.Linked, l)
			continue
		}

		if code.Valid && expiresAt.Valid {
			t, err := time.Parse(time.RFC3339, expiresAt.String)
			if err == nil && t.After(now) {
				st.Pending = &IssuedCode{Code: code.String, ExpiresAt: t}
			}
		}
	}
	return st, rows.Err()
}
