// Thin repository functions for the Account and Session models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. No
// business logic lives here; the Provisioner enforces whitelist and
// identity rules on top of these.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.

package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across callers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetAccountByHandle fetches the account for the given Telegram handle
// (case-insensitive), or ErrNotFound if none exists.
func GetAccountByHandle(ctx context.Context, db *gorm.DB, handle string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Where("handle = ?", strings.ToLower(handle)).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account with a generated UUID and UTC
// timestamps. Handle is lowercased before insert.
func CreateAccount(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	a.ID = uuid.NewString()
	a.Handle = strings.ToLower(a.Handle)
	now := time.Now().UTC()
	a.CreatedAt = now
	a.LastLoginAt = now
	return db.WithContext(ctx).Create(a).Error
}

// SaveAccount persists all fields of an existing account.
func SaveAccount(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	return db.WithContext(ctx).Save(a).Error
}

// ListAccounts returns all accounts ordered by handle.
func ListAccounts(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).Order("handle asc").Find(&out).Error
	return out, err
}

// CreateSession inserts a new session for accountID with a UUID token.
func CreateSession(ctx context.Context, db *gorm.DB, accountID string) (*domain.Session, error) {
	s := &domain.Session{
		Token:     uuid.NewString(),
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by token, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, token string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).First(&s, "token = ?", token).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSessions returns the number of sessions held by accountID.
func CountSessions(ctx context.Context, db *gorm.DB, accountID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("account_id = ?", accountID).
		Count(&total).Error
	return total, err
}

// PruneSessions deletes the oldest sessions of accountID until at most keep
// remain. A keep of zero or less deletes nothing.
func PruneSessions(ctx context.Context, db *gorm.DB, accountID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	var stale []domain.Session
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		Offset(keep).
		Find(&stale).Error
	if err != nil || len(stale) == 0 {
		return err
	}
	tokens := make([]string, 0, len(stale))
	for _, s := range stale {
		tokens = append(tokens, s.Token)
	}
	return db.WithContext(ctx).
		Where("token IN ?", tokens).
		Delete(&domain.Session{}).Error
}

// DeleteSession removes a single session by token. Deleting a token that
// does not exist is not an error.
func DeleteSession(ctx context.Context, db *gorm.DB, token string) error {
	return db.WithContext(ctx).Delete(&domain.Session{}, "token = ?", token).Error
}
