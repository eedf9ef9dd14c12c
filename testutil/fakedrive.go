package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Credentials the fake token endpoint hands out.
const (
	FakeAccessToken  = "fake-access-token"
	FakeRefreshToken = "fake-refresh-token"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	rootID         = "root"
)

var (
	parentsQuery = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)' in parents and trashed=false$`)
	nameQuery    = regexp.MustCompile(`^name contains '((?:[^'\\]|\\.)*)' and trashed=false$`)
	unescaper    = strings.NewReplacer(`\\`, `\`, `\'`, `'`)
)

// FakeFile is one item stored by FakeDrive.
type FakeFile struct {
	ID       string
	Name     string
	MimeType string
	Parent   string
	Content  []byte
	Modified time.Time
	Shared   bool
}

// FakeDrive is an in-memory Google Drive: the OAuth token endpoint, the
// userinfo endpoint and the subset of Drive v3 the client uses.
type FakeDrive struct {
	// Code is the only authorization code the token endpoint accepts.
	Code      string
	UserName  string
	UserEmail string
	Limit     int64

	// ShareNoContent makes the permissions endpoint answer 204 with no body.
	ShareNoContent bool

	mu     sync.Mutex
	files  map[string]*FakeFile
	nextID int
	srv    *httptest.Server
}

// NewFakeDrive starts a fake Drive server. Call Close when done.
func NewFakeDrive(code string) *FakeDrive {
	d := &FakeDrive{
		Code:      code,
		UserName:  "E2E Tester",
		UserEmail: "e2e@example.com",
		Limit:     15 << 30,
		files:     make(map[string]*FakeFile),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", d.handleToken)
	mux.HandleFunc("GET /oauth2/v2/userinfo", d.authed(d.handleUserInfo))
	mux.HandleFunc("GET /drive/v3/about", d.authed(d.handleAbout))
	mux.HandleFunc("GET /drive/v3/files", d.authed(d.handleList))
	mux.HandleFunc("POST /drive/v3/files", d.authed(d.handleCreate))
	mux.HandleFunc("GET /drive/v3/files/{id}", d.authed(d.handleGet))
	mux.HandleFunc("PATCH /drive/v3/files/{id}", d.authed(d.handleUpdate))
	mux.HandleFunc("DELETE /drive/v3/files/{id}", d.authed(d.handleDelete))
	mux.HandleFunc("POST /drive/v3/files/{id}/permissions", d.authed(d.handleShare))
	mux.HandleFunc("POST /upload/drive/v3/files", d.authed(d.handleUpload))

	d.srv = httptest.NewServer(mux)

	return d
}

// Close shuts the server down.
func (d *FakeDrive) Close() {
	d.srv.Close()
}

// URL returns the server's base URL.
func (d *FakeDrive) URL() string {
	return d.srv.URL
}

// APIBase, UploadBase and UserInfoURL are the endpoint settings that point a
// client at this server.
func (d *FakeDrive) APIBase() string     { return d.srv.URL + "/drive/v3" }
func (d *FakeDrive) UploadBase() string  { return d.srv.URL + "/upload/drive/v3" }
func (d *FakeDrive) UserInfoURL() string { return d.srv.URL + "/oauth2/v2/userinfo" }

// SecretsJSON returns an "installed" client secrets document whose token
// endpoint is this server.
func (d *FakeDrive) SecretsJSON() []byte {
	doc := map[string]any{
		"installed": map[string]any{
			"client_id":     "e2e-client",
			"client_secret": "e2e-secret",
			"redirect_uris": []string{"http://localhost"},
			"auth_uri":      d.srv.URL + "/auth",
			"token_uri":     d.srv.URL + "/token",
		},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}

	return data
}

// AddFolder creates a folder under parent ("root" for the top level) and
// returns its ID.
func (d *FakeDrive) AddFolder(parent, name string) string {
	return d.add(parent, name, folderMimeType, nil).ID
}

// AddFile creates a file under parent and returns its ID.
func (d *FakeDrive) AddFile(parent, name string, content []byte) string {
	return d.add(parent, name, "text/plain", content).ID
}

// Find returns a copy of the first item with the given name.
func (d *FakeDrive) Find(name string) (FakeFile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range d.sortedLocked() {
		if f.Name == name {
			return *f, true
		}
	}

	return FakeFile{}, false
}

func (d *FakeDrive) add(parent, name, mimeType string, content []byte) *FakeFile {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++

	f := &FakeFile{
		ID:       fmt.Sprintf("fake-%d", d.nextID),
		Name:     name,
		MimeType: mimeType,
		Parent:   parent,
		Content:  content,
		Modified: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
	d.files[f.ID] = f

	return f
}

func (d *FakeDrive) sortedLocked() []*FakeFile {
	out := make([]*FakeFile, 0, len(d.files))
	for _, f := range d.files {
		out = append(out, f)
	}

	slices.SortFunc(out, func(a, b *FakeFile) int {
		return strings.Compare(a.Name+"\x00"+a.ID, b.Name+"\x00"+b.ID)
	})

	return out
}

// authed rejects requests without the fake bearer token.
func (d *FakeDrive) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeAccessToken {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next(w, r)
	}
}

func (d *FakeDrive) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != d.Code {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Bad Request"}`)

			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != FakeRefreshToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)

			return
		}
	default:
		http.Error(w, "unsupported grant_type", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  FakeAccessToken,
		"refresh_token": FakeRefreshToken,
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (d *FakeDrive) handleUserInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    "e2e-user",
		"name":  d.UserName,
		"email": d.UserEmail,
	})
}

func (d *FakeDrive) handleAbout(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()

	var used int64
	for _, f := range d.files {
		used += int64(len(f.Content))
	}

	d.mu.Unlock()

	quota := map[string]string{
		"usage":             strconv.FormatInt(used, 10),
		"usageInDrive":      strconv.FormatInt(used, 10),
		"usageInDriveTrash": "0",
	}

	if d.Limit > 0 {
		quota["limit"] = strconv.FormatInt(d.Limit, 10)
	}

	writeJSON(w, http.StatusOK, map[string]any{"storageQuota": quota})
}

func (d *FakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	var match func(*FakeFile) bool

	switch {
	case parentsQuery.MatchString(query):
		parent := unescaper.Replace(parentsQuery.FindStringSubmatch(query)[1])
		match = func(f *FakeFile) bool { return f.Parent == parent }
	case nameQuery.MatchString(query):
		text := strings.ToLower(unescaper.Replace(nameQuery.FindStringSubmatch(query)[1]))
		match = func(f *FakeFile) bool { return strings.Contains(strings.ToLower(f.Name), text) }
	default:
		writeError(w, http.StatusBadRequest, "unsupported query: "+query)
		return
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize < 1 {
		pageSize = 100
	}

	offset := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		if offset, err = strconv.Atoi(tok); err != nil {
			writeError(w, http.StatusBadRequest, "invalid pageToken")
			return
		}
	}

	d.mu.Lock()

	var matched []map[string]any

	for _, f := range d.sortedLocked() {
		if match(f) {
			matched = append(matched, fileResource(f))
		}
	}

	d.mu.Unlock()

	resp := map[string]any{"files": []map[string]any{}}

	if offset < len(matched) {
		end := min(offset+pageSize, len(matched))
		resp["files"] = matched[offset:end]

		if end < len(matched) {
			resp["nextPageToken"] = strconv.Itoa(end)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type fileMetadata struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents"`
}

func (d *FakeDrive) handleCreate(w http.ResponseWriter, r *http.Request) {
	var meta fileMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := d.add(firstParent(meta.Parents), meta.Name, meta.MimeType, nil)

	d.mu.Lock()
	res := fileResource(f)
	d.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

func (d *FakeDrive) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d.mu.Lock()
	f, ok := d.files[id]

	var (
		content []byte
		res     map[string]any
	)

	if ok {
		content = f.Content
		res = fileResource(f)
	}

	d.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}

	if r.URL.Query().Get("alt") != "media" {
		writeJSON(w, http.StatusOK, res)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	w.Write(content) //nolint:errcheck // client disconnects are not our concern
}

func (d *FakeDrive) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var meta fileMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}

	if meta.Name != "" {
		f.Name = meta.Name
	}

	if add := r.URL.Query().Get("addParents"); add != "" {
		f.Parent = add
	}

	writeJSON(w, http.StatusOK, fileResource(f))
}

func (d *FakeDrive) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.files[id]; !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}

	d.deleteLocked(id)
	w.WriteHeader(http.StatusNoContent)
}

func (d *FakeDrive) deleteLocked(id string) {
	delete(d.files, id)

	for childID, f := range d.files {
		if f.Parent == id {
			d.deleteLocked(childID)
		}
	}
}

func (d *FakeDrive) handleShare(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var perm struct {
		Type string `json:"type"`
		Role string `json:"role"`
	}

	if err := json.NewDecoder(r.Body).Decode(&perm); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}

	f.Shared = true
	d.nextID++

	if d.ShareNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":   fmt.Sprintf("perm-%d", d.nextID),
		"type": perm.Type,
		"role": perm.Role,
	})
}

// handleUpload accepts a multipart/related body: JSON metadata, then content.
func (d *FakeDrive) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		writeError(w, http.StatusBadRequest, "unsupported uploadType")
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		writeError(w, http.StatusBadRequest, "expected multipart/related body")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing metadata part")
		return
	}

	var meta fileMetadata
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mediaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing media part")
		return
	}

	content, err := io.ReadAll(mediaPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := d.add(firstParent(meta.Parents), meta.Name, meta.MimeType, content)

	d.mu.Lock()
	res := fileResource(f)
	d.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

func fileResource(f *FakeFile) map[string]any {
	res := map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"mimeType":     f.MimeType,
		"modifiedTime": f.Modified.Format(time.RFC3339),
		"shared":       f.Shared,
		"parents":      []string{f.Parent},
		"webViewLink":  "https://drive.example/file/" + f.ID,
	}

	if f.MimeType != folderMimeType {
		res["size"] = strconv.Itoa(len(f.Content))
	}

	return res
}

func firstParent(parents []string) string {
	if len(parents) == 0 {
		return rootID
	}

	return parents[0]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck,errchkjson // best-effort test server
}

// writeError mimics the Drive error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
		},
	})
}
