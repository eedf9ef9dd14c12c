package gdrive

import "time"

// RootID is the Drive alias for the top-level "My Drive" folder.
const RootID = "root"

// FolderMimeType marks an item as a folder.
const FolderMimeType = "application/vnd.google-apps.folder"

// Item is a file or folder in the remote store. Fields are normalized from
// the Drive API response; callers never see raw API data. Items are never
// mutated locally: any change requires re-fetching.
type Item struct {
	ID          string
	Name        string
	IsFolder    bool
	Size        int64 // 0 for folders and Google-native documents
	MimeType    string
	ModifiedAt  time.Time
	Shared      bool
	ParentID    string // first parent; empty for items outside My Drive
	WebViewLink string
}

// User is the authenticated account's profile.
type User struct {
	ID    string
	Name  string
	Email string
}

// Quota is the account's storage usage. Total is 0 for unlimited plans.
type Quota struct {
	Used    int64
	Total   int64
	InDrive int64
	InTrash int64
}

// Unlimited reports whether the account has no storage cap.
func (q Quota) Unlimited() bool {
	return q.Total <= 0
}

// Percent returns used/total as a percentage. The second value is false when
// the total is unknown or unlimited.
func (q Quota) Percent() (float64, bool) {
	if q.Total <= 0 {
		return 0, false
	}

	return float64(q.Used) * 100 / float64(q.Total), true
}

// Permission types and roles understood by Share.
const (
	PermissionAnyone = "anyone"
	PermissionUser   = "user"
	RoleReader       = "reader"
)

// Permission is a sharing grant on an item.
type Permission struct {
	Type         string
	Role         string
	EmailAddress string
}
