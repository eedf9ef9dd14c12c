// Package session implements the remote file session: one authenticated
// account, a TTL cache of folder listings, navigation state, and the file
// operations the shell exposes. All methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// remote is the subset of *gdrive.Client the session drives.
type remote interface {
	ListChildren(ctx context.Context, folderID string) ([]gdrive.Item, error)
	Search(ctx context.Context, text string) ([]gdrive.Item, error)
	GetItem(ctx context.Context, itemID string) (*gdrive.Item, error)
	CreateFolder(ctx context.Context, parentID, name string) (*gdrive.Item, error)
	Rename(ctx context.Context, itemID, newName string) (*gdrive.Item, error)
	Move(ctx context.Context, itemID, fromParentID, toParentID string) (*gdrive.Item, error)
	Delete(ctx context.Context, itemID string) error
	Upload(ctx context.Context, parentID, name, mimeType string, open gdrive.OpenFunc, size int64) (*gdrive.Item, error)
	OpenDownload(ctx context.Context, fileID string) (*gdrive.DownloadStream, error)
	Share(ctx context.Context, itemID string, perm gdrive.Permission) (string, error)
	Quota(ctx context.Context) (*gdrive.Quota, error)
	UserInfo(ctx context.Context) (*gdrive.User, error)
}

// authenticator is the subset of *gdrive.Authenticator the session drives.
type authenticator interface {
	Authenticate(ctx context.Context, code string) error
	State() gdrive.AuthState
	Expiry() time.Time
	SignOut()
	AuthCodeURL(state string) string
	RedirectURL() string
}

// Options configures a Session.
type Options struct {
	Client    gdrive.ClientConfig
	Endpoints gdrive.Endpoints

	// MetaHTTP serves metadata and token calls; TransferHTTP serves uploads
	// and downloads. Nil means http.DefaultClient.
	MetaHTTP     *http.Client
	TransferHTTP *http.Client

	PageSize int           // gdrive.DefaultPageSize when zero
	CacheTTL time.Duration // DefaultCacheTTL when zero
	Fs       afero.Fs      // local file system; the OS when nil
	Logger   *slog.Logger
}

// Session is one user's authenticated view of their drive.
type Session struct {
	auth   authenticator
	remote remote
	fs     afero.Fs
	logger *slog.Logger

	cache     *listingCache
	listGroup singleflight.Group

	mu   sync.Mutex
	user *gdrive.User
	nav  []Crumb
}

// New builds a Session with its own Authenticator and Drive client.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth := gdrive.NewAuthenticator(opts.Client, opts.MetaHTTP, logger)

	client := gdrive.NewClient(opts.Endpoints, opts.MetaHTTP, opts.TransferHTTP, auth, logger)
	client.SetPageSize(opts.PageSize)

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return newSession(auth, client, fs, opts.CacheTTL, time.Now, logger)
}

func newSession(
	auth authenticator, rem remote, fs afero.Fs, ttl time.Duration,
	now func() time.Time, logger *slog.Logger,
) *Session {
	return &Session{
		auth:   auth,
		remote: rem,
		fs:     fs,
		logger: logger,
		cache:  newListingCache(ttl, now),
		nav:    []Crumb{rootCrumb},
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (s *Session) AuthCodeURL(state string) string {
	return s.auth.AuthCodeURL(state)
}

// RedirectURL returns the redirect URI the consent page sends the code to.
func (s *Session) RedirectURL() string {
	return s.auth.RedirectURL()
}

// Authenticate exchanges an authorization code and loads the user profile.
// A profile fetch failure is logged and does not fail authentication.
func (s *Session) Authenticate(ctx context.Context, code string) error {
	if err := s.auth.Authenticate(ctx, code); err != nil {
		return err
	}

	s.cache.reset()

	user, err := s.remote.UserInfo(ctx)
	if err != nil {
		s.logger.Warn("could not load user profile", slog.String("error", err.Error()))
		return nil
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	return nil
}

// State reports the credential lifecycle state.
func (s *Session) State() gdrive.AuthState {
	return s.auth.State()
}

// Expiry returns the current access token's expiry.
func (s *Session) Expiry() time.Time {
	return s.auth.Expiry()
}

// User returns the profile loaded at sign-in, or nil.
func (s *Session) User() *gdrive.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return nil
	}

	u := *s.user

	return &u
}

// SignOut forgets credentials, the cache, the profile, and navigation.
func (s *Session) SignOut() {
	s.auth.SignOut()
	s.cache.reset()

	s.mu.Lock()
	s.user = nil
	s.nav = []Crumb{rootCrumb}
	s.mu.Unlock()
}

// listFetchTimeout bounds a shared listing fetch, which runs detached from
// the context of the caller that started it.
const listFetchTimeout = 2 * time.Minute

// List returns the children of folderID (the current folder when empty).
// A listing younger than the TTL is served from cache without a network
// call. When a fetch fails and any cached listing exists, stale or not, the
// cached listing is returned instead of the error.
func (s *Session) List(ctx context.Context, folderID string) ([]gdrive.Item, error) {
	if folderID == "" {
		folderID = s.Current().ID
	}

	if items, ok := s.cache.fresh(folderID); ok {
		return items, nil
	}

	st := s.cache.stampOf(folderID)
	key := fmt.Sprintf("%s/%d/%d", folderID, st.epoch, st.gen)

	// The shared fetch outlives any one caller, so an interrupted caller
	// does not fail the others joined to it.
	ch := s.listGroup.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listFetchTimeout)
		defer cancel()

		items, err := s.remote.ListChildren(fetchCtx, folderID)
		if err != nil {
			return nil, err
		}

		if !s.cache.store(folderID, items, st) {
			s.logger.Debug("listing invalidated during fetch, not cached",
				slog.String("folder_id", folderID),
			)
		}

		return items, nil
	})

	var res singleflight.Result

	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, gdrive.ErrNotAuthenticated) || ctx.Err() != nil {
			return nil, err
		}

		if items, ok := s.cache.stale(folderID); ok {
			s.logger.Warn("listing failed, serving cached entries",
				slog.String("folder_id", folderID),
				slog.String("error", err.Error()),
			)

			return items, nil
		}

		return nil, err
	}

	return slices.Clone(v.([]gdrive.Item)), nil
}

// ClearCache drops every cached listing.
func (s *Session) ClearCache() {
	s.cache.reset()
	s.logger.Debug("listing cache cleared")
}

func (s *Session) invalidate(folderIDs ...string) {
	for _, id := range folderIDs {
		s.cache.invalidate(id)
	}
}

// Item fetches one item's metadata. Never cached.
func (s *Session) Item(ctx context.Context, id string) (*gdrive.Item, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &gdrive.ValidationError{Reason: "item id is empty"}
	}

	return s.remote.GetItem(ctx, id)
}

// Search finds items anywhere in the drive whose name contains query.
func (s *Session) Search(ctx context.Context, query string) ([]gdrive.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &gdrive.ValidationError{Reason: "search text is empty"}
	}

	return s.remote.Search(ctx, query)
}

// Quota returns the account's storage usage. Never cached.
func (s *Session) Quota(ctx context.Context) (*gdrive.Quota, error) {
	return s.remote.Quota(ctx)
}

// CreateFolder creates a folder under parentID (the current folder when
// empty).
func (s *Session) CreateFolder(ctx context.Context, parentID, name string) (*gdrive.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &gdrive.ValidationError{Reason: "folder name is empty"}
	}

	if parentID == "" {
		parentID = s.Current().ID
	}

	item, err := s.remote.CreateFolder(ctx, parentID, name)
	if err != nil {
		return nil, err
	}

	s.invalidate(parentID)

	return item, nil
}

// Rename changes an item's name and invalidates its parent's listing.
func (s *Session) Rename(ctx context.Context, id, newName string) (*gdrive.Item, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, &gdrive.ValidationError{Reason: "new name is empty"}
	}

	parentID, err := s.parentOf(ctx, id)
	if err != nil {
		return nil, err
	}

	item, err := s.remote.Rename(ctx, id, newName)
	if err != nil {
		return nil, err
	}

	s.invalidate(parentID)

	return item, nil
}

// Delete permanently deletes an item and invalidates its parent's listing.
func (s *Session) Delete(ctx context.Context, id string) error {
	parentID, err := s.parentOf(ctx, id)
	if err != nil {
		return err
	}

	if err := s.remote.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(parentID)

	return nil
}

// Move re-parents an item into newParentID and invalidates both listings.
func (s *Session) Move(ctx context.Context, id, newParentID string) (*gdrive.Item, error) {
	if id == newParentID {
		return nil, &gdrive.ValidationError{Reason: "cannot move an item into itself"}
	}

	oldParentID, err := s.parentOf(ctx, id)
	if err != nil {
		return nil, err
	}

	item, err := s.remote.Move(ctx, id, oldParentID, newParentID)
	if err != nil {
		return nil, err
	}

	s.invalidate(oldParentID, newParentID)

	return item, nil
}

// parentOf looks up an item's parent, defaulting to the root.
func (s *Session) parentOf(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", &gdrive.ValidationError{Reason: "item id is empty"}
	}

	item, err := s.remote.GetItem(ctx, id)
	if err != nil {
		return "", err
	}

	if item.ParentID == "" {
		return gdrive.RootID, nil
	}

	return item.ParentID, nil
}

// ShareMode selects who a share grants access to.
type ShareMode string

const (
	SharePublic ShareMode = "public"
	ShareUser   ShareMode = "user"
)

// Share grants read access to an item: to anyone with the link, or to one
// user by email. Returns the permission ID.
func (s *Session) Share(ctx context.Context, id string, mode ShareMode, email string) (string, error) {
	var perm gdrive.Permission

	switch mode {
	case SharePublic:
		perm = gdrive.Permission{Type: gdrive.PermissionAnyone, Role: gdrive.RoleReader}
	case ShareUser:
		email = strings.TrimSpace(email)
		if email == "" {
			return "", &gdrive.ValidationError{Reason: "sharing with a user requires an email address"}
		}

		perm = gdrive.Permission{Type: gdrive.PermissionUser, Role: gdrive.RoleReader, EmailAddress: email}
	default:
		return "", &gdrive.ValidationError{Reason: fmt.Sprintf("unknown share mode %q", mode)}
	}

	return s.remote.Share(ctx, id, perm)
}
