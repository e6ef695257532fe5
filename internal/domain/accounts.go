// Package domain defines the core entities of the service. This file
// contains the persisted account registry: media-server accounts that were
// provisioned through a Telegram sign-in, plus the sessions issued to them.
package domain

import (
	"strings"
	"time"
)

// Account is a media-server account provisioned from a Telegram identity.
// Handle is stored lowercased and is unique; TelegramID pins the account to
// the numeric Telegram user so a resold @handle cannot take it over.
type Account struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	Handle      string `gorm:"uniqueIndex;size:64;not null" json:"handle"`
	TelegramID  int64  `gorm:"index" json:"telegramId"`
	DisplayName string `gorm:"size:128" json:"displayName"`
	AvatarURL   string `gorm:"size:512" json:"avatarUrl,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`

	// Folder grants at the time of the last sign-in. AllFolders wins over
	// the explicit list.
	AllFolders bool   `json:"allFolders"`
	FolderIDs  string `gorm:"size:2048" json:"-"`

	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// Folders returns the granted folder IDs as a slice. Empty when the account
// has AllFolders set or no explicit grants.
func (a *Account) Folders() []string {
	if a.FolderIDs == "" {
		return nil
	}
	return strings.Split(a.FolderIDs, ",")
}

// SetFolders stores the given folder IDs, dropping blanks.
func (a *Account) SetFolders(ids []string) {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			kept = append(kept, id)
		}
	}
	a.FolderIDs = strings.Join(kept, ",")
}

// Session is an authenticated session issued after a successful Telegram
// sign-in. Token is the opaque bearer value handed to the web client.
type Session struct {
	Token     string    `gorm:"primaryKey;size:36" json:"token"`
	AccountID string    `gorm:"index;size:36;not null" json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
}
