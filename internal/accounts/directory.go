// Directory: read/revoke access to the provisioned accounts and their
// sessions, for the configuration page.

package accounts

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

// Directory exposes the account registry to the configuration page.
type Directory struct {
	db *gorm.DB
}

// NewDirectory wires a Directory over the account database.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Accounts returns all provisioned accounts ordered by handle.
func (d *Directory) Accounts(ctx context.Context) ([]domain.Account, error) {
	return ListAccounts(ctx, d.db)
}

// SessionInfo describes one session together with the total number of
// sessions its account currently holds.
type SessionInfo struct {
	Session        *domain.Session
	ActiveSessions int64
}

// Session looks up a session by token, or ErrNotFound.
func (d *Directory) Session(ctx context.Context, token string) (*SessionInfo, error) {
	s, err := GetSession(ctx, d.db, token)
	if err != nil {
		return nil, err
	}
	total, err := CountSessions(ctx, d.db, s.AccountID)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{Session: s, ActiveSessions: total}, nil
}

// RevokeSession deletes the session with the given token. Revoking an
// unknown token is not an error.
func (d *Directory) RevokeSession(ctx context.Context, token string) error {
	return DeleteSession(ctx, d.db, token)
}
