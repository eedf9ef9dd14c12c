package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"io"
	"net/http"
	"net/url"
)

type permissionRequest struct {
	Type         string `json:"type"`
	Role         string `json:"role"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

type permissionResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Role string `json:"role"`
}

// Share grants a permission on an item. The caller validates that
// EmailAddress is present for user grants.
func (c *Client) Share(ctx context.Context, itemID string, perm Permission) (string, error) {
	c.logger.Info("sharing item",
		slog.String("item_id", itemID),
		slog.String("type", perm.Type),
		slog.String("role", perm.Role),
	)

	body, err := json.Marshal(permissionRequest{
		Type:         perm.Type,
		Role:         perm.Role,
		EmailAddress: perm.EmailAddress,
	})
	if err != nil {
		return "", fmt.Errorf("gdrive: marshaling permission: %w", err)
	}

	q := url.Values{}
	q.Set("fields", "id,type,role")

	if perm.Type == PermissionUser {
		q.Set("sendNotificationEmail", "false")
	}

	shareURL := c.endpoints.APIBase + "/files/" + url.PathEscape(itemID) + "/permissions?" + q.Encode()

	resp, err := c.do(ctx, c.metaHTTP, "share", func(ctx context.Context) (*http.Request, error) {
		return newRequest(ctx, http.MethodPost, shareURL, bytes.NewReader(body), "application/json")
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Drive may answer 204 with no body; the grant succeeded but has no ID.
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}

	var pr permissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}

		return "", fmt.Errorf("gdrive: decoding share response: %w", err)
	}

	return pr.ID, nil
}
