package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// itemFields is the partial-response field mask for a single file.
const itemFields = "id,name,size,mimeType,modifiedTime,shared,parents,webViewLink"

// listFields wraps itemFields for files.list responses.
const listFields = "nextPageToken,files(" + itemFields + ")"

// fileResponse mirrors the Drive v3 File resource for the fields we request.
// Unexported; callers use Item via toItem().
type fileResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         string   `json:"size"` // int64 encoded as a JSON string
	ModifiedTime string   `json:"modifiedTime"`
	Shared       bool     `json:"shared"`
	Parents      []string `json:"parents"`
	WebViewLink  string   `json:"webViewLink"`
}

type fileListResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type createFileRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// toItem normalizes a Drive file resource into an Item.
func (f *fileResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		IsFolder:    f.MimeType == FolderMimeType,
		Shared:      f.Shared,
		WebViewLink: f.WebViewLink,
	}

	if len(f.Parents) > 0 {
		item.ParentID = f.Parents[0]
	}

	// Folders and Google-native documents carry no size.
	if f.Size != "" && !item.IsFolder {
		size, err := strconv.ParseInt(f.Size, 10, 64)
		if err != nil {
			logger.Warn("invalid size, using 0",
				slog.String("item_id", f.ID),
				slog.String("raw", f.Size),
			)
		} else {
			item.Size = size
		}
	}

	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			logger.Warn("invalid modifiedTime, leaving zero",
				slog.String("item_id", f.ID),
				slog.String("raw", f.ModifiedTime),
			)
		} else {
			item.ModifiedAt = t
		}
	}

	return item
}

// quoteQuery escapes a value for use inside a single-quoted Drive query term.
func quoteQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)

	return "'" + s + "'"
}

func decodeJSON(r io.Reader, op string, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("gdrive: decoding %s response: %w", op, err)
	}

	return nil
}

// ListChildren returns the non-trashed children of a folder, following
// nextPageToken until the listing is exhausted.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	c.logger.Info("listing children", slog.String("folder_id", folderID))

	items, err := c.listFiles(ctx, "list children", quoteQuery(folderID)+" in parents and trashed=false")
	if err != nil {
		return nil, err
	}

	c.logger.Info("listed children",
		slog.String("folder_id", folderID),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// Search returns non-trashed items anywhere in the drive whose name contains
// text.
func (c *Client) Search(ctx context.Context, text string) ([]Item, error) {
	c.logger.Info("searching", slog.String("text", text))

	return c.listFiles(ctx, "search", "name contains "+quoteQuery(text)+" and trashed=false")
}

// listFiles pages through files.list for the given query.
func (c *Client) listFiles(ctx context.Context, op, query string) ([]Item, error) {
	var items []Item

	pageToken := ""

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("q", query)
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		q.Set("fields", listFields)

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var flr fileListResponse
		if err := c.getJSON(ctx, op, c.endpoints.APIBase+"/files?"+q.Encode(), &flr); err != nil {
			return nil, err
		}

		for i := range flr.Files {
			items = append(items, flr.Files[i].toItem(c.logger))
		}

		c.logger.Debug("fetched page",
			slog.String("op", op),
			slog.Int("page", page),
			slog.Int("count", len(flr.Files)),
		)

		if flr.NextPageToken == "" {
			return items, nil
		}

		pageToken = flr.NextPageToken
	}
}

// GetItem retrieves a single item by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	c.logger.Debug("getting item", slog.String("item_id", itemID))

	var fr fileResponse
	if err := c.getJSON(ctx, "get item", c.fileURL(itemID, nil), &fr); err != nil {
		return nil, err
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	body, err := json.Marshal(createFileRequest{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentID},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling create folder request: %w", err)
	}

	q := url.Values{}
	q.Set("fields", itemFields)

	var fr fileResponse
	if err := c.sendJSON(ctx, "create folder", http.MethodPost,
		c.endpoints.APIBase+"/files?"+q.Encode(), body, &fr); err != nil {
		return nil, err
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// Rename changes an item's name.
func (c *Client) Rename(ctx context.Context, itemID, newName string) (*Item, error) {
	c.logger.Info("renaming item",
		slog.String("item_id", itemID),
		slog.String("new_name", newName),
	)

	body, err := json.Marshal(renameRequest{Name: newName})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling rename request: %w", err)
	}

	var fr fileResponse
	if err := c.sendJSON(ctx, "rename", http.MethodPatch, c.fileURL(itemID, nil), body, &fr); err != nil {
		return nil, err
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// Move re-parents an item from fromParentID to toParentID.
func (c *Client) Move(ctx context.Context, itemID, fromParentID, toParentID string) (*Item, error) {
	c.logger.Info("moving item",
		slog.String("item_id", itemID),
		slog.String("from_parent_id", fromParentID),
		slog.String("to_parent_id", toParentID),
	)

	q := url.Values{}
	q.Set("addParents", toParentID)

	if fromParentID != "" {
		q.Set("removeParents", fromParentID)
	}

	var fr fileResponse
	if err := c.sendJSON(ctx, "move", http.MethodPatch, c.fileURL(itemID, q), []byte("{}"), &fr); err != nil {
		return nil, err
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// Delete permanently deletes an item. Drive answers 204 No Content.
func (c *Client) Delete(ctx context.Context, itemID string) error {
	c.logger.Info("deleting item", slog.String("item_id", itemID))

	return c.sendJSON(ctx, "delete", http.MethodDelete, c.endpoints.APIBase+"/files/"+url.PathEscape(itemID), nil, nil)
}

// fileURL builds /files/{id} with the item field mask plus any extra params.
func (c *Client) fileURL(itemID string, extra url.Values) string {
	q := url.Values{}
	maps.Copy(q, extra)
	q.Set("fields", itemFields)

	return c.endpoints.APIBase + "/files/" + url.PathEscape(itemID) + "?" + q.Encode()
}
