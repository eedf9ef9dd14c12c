package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession is an in-memory drive: a map of folder ID to children.
type fakeSession struct {
	mu sync.Mutex

	children map[string][]gdrive.Item
	nav      []session.Crumb
	user     *gdrive.User
	state    gdrive.AuthState
	expiry   time.Time
	quota    gdrive.Quota
	cc       gdrive.ClientConfig

	authCodes  []string
	authErr    error
	listErr    error
	signedOut  bool
	cleared    int
	deleted    []string
	moves      []string // "id->parent"
	shares     []string // "id:mode:email"
	created    []string
	uploadedTo []string // "path->folder"

	download func(ctx context.Context, fileID, savePath string, onProgress func(session.Progress)) (int64, error)
	upload   func(ctx context.Context, localPath, folderID string) (*gdrive.Item, error)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		children: map[string][]gdrive.Item{
			gdrive.RootID: {
				{ID: "f-docs", Name: "Docs", IsFolder: true, MimeType: gdrive.FolderMimeType, ParentID: gdrive.RootID},
				{ID: "f-photos", Name: "Photos", IsFolder: true, MimeType: gdrive.FolderMimeType, ParentID: gdrive.RootID},
				{
					ID: "r-1", Name: "report.pdf", Size: 2048, MimeType: "application/pdf", ParentID: gdrive.RootID,
					ModifiedAt: time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC), WebViewLink: "https://drive.example/r-1",
				},
				{ID: "n-1", Name: "notes.txt", Size: 10, MimeType: "text/plain", ParentID: gdrive.RootID},
			},
			"f-docs": {
				{ID: "d-1", Name: "R\u00e9sum\u00e9.docx", Size: 100, ParentID: "f-docs"},
			},
			"f-photos": {},
		},
		nav:   []session.Crumb{{ID: gdrive.RootID, Name: "My Drive"}},
		user:  &gdrive.User{ID: "u1", Name: "Ada Lovelace", Email: "ada@example.com"},
		state: gdrive.StateAuthenticated,
		quota: gdrive.Quota{Used: 1 << 30, Total: 4 << 30, InDrive: 1 << 29, InTrash: 1 << 20},
	}
}

func (f *fakeSession) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?redirect_uri=" + f.cc.RedirectURL + "&state=" + state
}

func (f *fakeSession) Authenticate(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCodes = append(f.authCodes, code)

	return f.authErr
}

func (f *fakeSession) State() gdrive.AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeSession) Expiry() time.Time {
	return f.expiry
}

func (f *fakeSession) User() *gdrive.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.user
}

func (f *fakeSession) SignOut() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.signedOut = true
	f.user = nil
	f.state = gdrive.StateUnauthenticated
}

func (f *fakeSession) List(_ context.Context, folderID string) ([]gdrive.Item, error) {
	if folderID == "" {
		folderID = f.Current().ID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	items, ok := f.children[folderID]
	if !ok {
		return nil, gdrive.ErrNotFound
	}

	return append([]gdrive.Item(nil), items...), nil
}

func (f *fakeSession) ClearCache() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeSession) Item(_ context.Context, id string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, items := range f.children {
		for _, it := range items {
			if it.ID == id {
				return &it, nil
			}
		}
	}

	return nil, &gdrive.APIError{StatusCode: 404, Body: "not found", Err: gdrive.ErrNotFound}
}

func (f *fakeSession) Search(_ context.Context, query string) ([]gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []gdrive.Item

	for _, folder := range []string{gdrive.RootID, "f-docs", "f-photos"} {
		for _, it := range f.children[folder] {
			if strings.Contains(strings.ToLower(it.Name), strings.ToLower(query)) {
				out = append(out, it)
			}
		}
	}

	return out, nil
}

func (f *fakeSession) Quota(context.Context) (*gdrive.Quota, error) {
	q := f.quota
	return &q, nil
}

func (f *fakeSession) CreateFolder(_ context.Context, parentID, name string) (*gdrive.Item, error) {
	if parentID == "" {
		parentID = f.Current().ID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	item := gdrive.Item{ID: "new-" + name, Name: name, IsFolder: true, ParentID: parentID}
	f.children[parentID] = append(f.children[parentID], item)
	f.children[item.ID] = nil
	f.created = append(f.created, name)

	return &item, nil
}

func (f *fakeSession) Rename(_ context.Context, id, newName string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for folder, items := range f.children {
		for i, it := range items {
			if it.ID == id {
				f.children[folder][i].Name = newName
				renamed := f.children[folder][i]

				return &renamed, nil
			}
		}
	}

	return nil, gdrive.ErrNotFound
}

func (f *fakeSession) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, id)

	for folder, items := range f.children {
		for i, it := range items {
			if it.ID == id {
				f.children[folder] = append(items[:i:i], items[i+1:]...)
				return nil
			}
		}
	}

	return gdrive.ErrNotFound
}

func (f *fakeSession) Move(_ context.Context, id, newParentID string) (*gdrive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.moves = append(f.moves, id+"->"+newParentID)

	return &gdrive.Item{ID: id, ParentID: newParentID}, nil
}

func (f *fakeSession) Share(_ context.Context, id string, mode session.ShareMode, email string) (string, error) {
	if mode != session.SharePublic && mode != session.ShareUser {
		return "", &gdrive.ValidationError{Reason: "unknown share mode \"" + string(mode) + "\""}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.shares = append(f.shares, id+":"+string(mode)+":"+email)

	return "perm-1", nil
}

func (f *fakeSession) Upload(ctx context.Context, localPath, folderID string) (*gdrive.Item, error) {
	f.mu.Lock()
	f.uploadedTo = append(f.uploadedTo, localPath+"->"+folderID)
	fn := f.upload
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, localPath, folderID)
	}

	return &gdrive.Item{ID: "up-1", Name: localPath, Size: 5}, nil
}

func (f *fakeSession) Download(
	ctx context.Context, fileID, savePath string, onProgress func(session.Progress),
) (int64, error) {
	if f.download != nil {
		return f.download(ctx, fileID, savePath, onProgress)
	}

	onProgress(session.Progress{Downloaded: 10, Total: 10})

	return 10, nil
}

func (f *fakeSession) Current() session.Crumb {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.nav[len(f.nav)-1]
}

func (f *fakeSession) Descend(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nav = append(f.nav, session.Crumb{ID: id, Name: name})
}

func (f *fakeSession) Back() session.Crumb {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.nav) > 1 {
		f.nav = f.nav[:len(f.nav)-1]
	}

	return f.nav[len(f.nav)-1]
}

func (f *fakeSession) GoRoot() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nav = f.nav[:1]
}

func (f *fakeSession) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.nav))
	for _, c := range f.nav[1:] {
		names = append(names, c.Name)
	}

	return "/" + strings.Join(names, "/")
}

// runScript feeds input to a fresh shell and returns what it printed once
// the shell has exited and every transfer has finished.
func runScript(t *testing.T, sess *fakeSession, opts shellOptions, input string) (string, string) {
	t.Helper()

	var out, errOut bytes.Buffer

	sh := newShell(context.Background(), sess, bufio.NewReader(strings.NewReader(input)), &out, &errOut, opts, discardLogger())

	require.NoError(t, sh.run(context.Background()))

	return out.String(), errOut.String()
}
