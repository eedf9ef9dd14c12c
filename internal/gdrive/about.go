package gdrive

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
)

type aboutResponse struct {
	StorageQuota struct {
		Limit             string `json:"limit"` // absent for unlimited plans
		Usage             string `json:"usage"`
		UsageInDrive      string `json:"usageInDrive"`
		UsageInDriveTrash string `json:"usageInDriveTrash"`
	} `json:"storageQuota"`
}

type userInfoResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Quota returns the account's storage usage.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	q := url.Values{}
	q.Set("fields", "storageQuota")

	var ar aboutResponse
	if err := c.getJSON(ctx, "get quota", c.endpoints.APIBase+"/about?"+q.Encode(), &ar); err != nil {
		return nil, err
	}

	sq := ar.StorageQuota

	quota := &Quota{
		Used:    c.parseCount("usage", sq.Usage),
		Total:   c.parseCount("limit", sq.Limit),
		InDrive: c.parseCount("usageInDrive", sq.UsageInDrive),
		InTrash: c.parseCount("usageInDriveTrash", sq.UsageInDriveTrash),
	}

	c.logger.Debug("fetched quota",
		slog.Int64("used", quota.Used),
		slog.Int64("total", quota.Total),
	)

	return quota, nil
}

// UserInfo returns the profile of the authenticated account.
func (c *Client) UserInfo(ctx context.Context) (*User, error) {
	var ur userInfoResponse
	if err := c.getJSON(ctx, "get user info", c.endpoints.UserInfo, &ur); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched user info", slog.String("email", ur.Email))

	return &User{ID: ur.ID, Name: ur.Name, Email: ur.Email}, nil
}

// parseCount decodes an int64 the API sends as a JSON string. Missing or
// malformed values become 0.
func (c *Client) parseCount(field, raw string) int64 {
	if raw == "" {
		return 0
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("invalid quota value, using 0",
			slog.String("field", field),
			slog.String("raw", raw),
		)

		return 0
	}

	return n
}
