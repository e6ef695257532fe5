// Provisioner: turns a verified Telegram identity into a media-server
// account plus a fresh session, enforcing the group whitelist and the
// handle/Telegram-ID binding.

package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-telejelly-backend/internal/domain"
)

var (
	// ErrNotWhitelisted is returned when the handle is neither an admin
	// nor a member of any configured group.
	ErrNotWhitelisted = errors.New("accounts: handle not whitelisted")

	// ErrIdentityMismatch is returned when an account already exists for
	// the handle but is bound to a different Telegram user ID.
	ErrIdentityMismatch = errors.New("accounts: telegram id does not match existing account")

	// ErrNoHandle is returned when the Telegram profile carries no username.
	ErrNoHandle = errors.New("accounts: telegram profile has no username")
)

// DefaultAvatarPath is stored for accounts whose Telegram profile carries
// no photo. The HTTP surface serves the bundled image at this path.
const DefaultAvatarPath = "/sso/telegram/assets/default-avatar.svg"

// Profile is the identity extracted from a verified Telegram login payload.
type Profile struct {
	TelegramID  int64
	Handle      string
	DisplayName string
	AvatarURL   string
}

// Grant is the outcome of a successful provisioning round.
type Grant struct {
	Account *domain.Account
	Session *domain.Session
}

// ConfigSource returns the current configuration snapshot. It is satisfied
// by (*groups.Store).Snapshot.
type ConfigSource func() domain.Configuration

// Provisioner creates and refreshes accounts from Telegram identities.
type Provisioner struct {
	db  *gorm.DB
	cfg ConfigSource
	log zerolog.Logger
}

// NewProvisioner wires a Provisioner over the account database and a live
// configuration source.
func NewProvisioner(db *gorm.DB, cfg ConfigSource, log zerolog.Logger) *Provisioner {
	return &Provisioner{db: db, cfg: cfg, log: log.With().Str("component", "accounts").Logger()}
}

// Provision resolves p against the whitelist, creates or refreshes the
// account, and issues a new session. Sessions beyond the configured
// per-user cap are evicted oldest-first; a cap of zero or less means
// unlimited.
func (p *Provisioner) Provision(ctx context.Context, prof Profile) (*Grant, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(prof.Handle), "@")
	if handle == "" {
		return nil, ErrNoHandle
	}

	cfg := p.cfg()
	isAdmin := cfg.IsAdmin(handle)
	member := cfg.GroupsFor(handle)
	if !isAdmin && len(member) == 0 {
		return nil, ErrNotWhitelisted
	}

	acc, err := GetAccountByHandle(ctx, p.db, handle)
	switch {
	case errors.Is(err, ErrNotFound):
		acc = &domain.Account{Handle: handle, TelegramID: prof.TelegramID}
		applyProfile(acc, prof, isAdmin, member)
		if err := CreateAccount(ctx, p.db, acc); err != nil {
			return nil, err
		}
		p.log.Info().Str("handle", handle).Int64("telegram_id", prof.TelegramID).Msg("account created")
	case err != nil:
		return nil, err
	default:
		if acc.TelegramID != 0 && acc.TelegramID != prof.TelegramID {
			p.log.Warn().
				Str("handle", handle).
				Int64("stored_id", acc.TelegramID).
				Int64("login_id", prof.TelegramID).
				Msg("rejected login: handle bound to a different telegram user")
			return nil, ErrIdentityMismatch
		}
		acc.TelegramID = prof.TelegramID
		applyProfile(acc, prof, isAdmin, member)
		acc.LastLoginAt = time.Now().UTC()
		if err := SaveAccount(ctx, p.db, acc); err != nil {
			return nil, err
		}
	}

	sess, err := CreateSession(ctx, p.db, acc.ID)
	if err != nil {
		return nil, err
	}
	if limit := cfg.MaxSessionsPerUser; limit > 0 {
		if err := PruneSessions(ctx, p.db, acc.ID, limit); err != nil {
			p.log.Error().Err(err).Str("handle", handle).Msg("session pruning failed")
		}
	}
	return &Grant{Account: acc, Session: sess}, nil
}

// applyProfile refreshes the mutable account fields from the login payload
// and the current folder grants.
func applyProfile(acc *domain.Account, prof Profile, isAdmin bool, member []*domain.Group) {
	if name := strings.TrimSpace(prof.DisplayName); name != "" {
		acc.DisplayName = name
	} else if acc.DisplayName == "" {
		acc.DisplayName = acc.Handle
	}
	acc.AvatarURL = strings.TrimSpace(prof.AvatarURL)
	if acc.AvatarURL == "" {
		acc.AvatarURL = DefaultAvatarPath
	}
	acc.IsAdmin = isAdmin
	all, ids := folderGrants(isAdmin, member)
	acc.AllFolders = all
	acc.SetFolders(ids)
}

// folderGrants computes the union of folder grants across the groups the
// handle belongs to. Admins and any group with EnableAllFolders grant
// everything.
func folderGrants(isAdmin bool, member []*domain.Group) (bool, []string) {
	if isAdmin {
		return true, nil
	}
	seen := map[string]struct{}{}
	for _, g := range member {
		if g.EnableAllFolders {
			return true, nil
		}
		for _, id := range g.EnabledFolderIDs {
			if id = strings.TrimSpace(id); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return false, ids
}
