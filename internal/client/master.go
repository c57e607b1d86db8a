package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hyperjump/vearchprobe/internal/models"
)

// CreateDatabase issues PUT /db/_create.
func (c *Client) CreateDatabase(ctx context.Context, name string) (*Response, error) {
	return c.doJSON(ctx, "createDatabase", http.MethodPut, c.routerURL+"/db/_create", map[string]string{"name": name})
}

// GetDatabase issues GET /db/{db}.
func (c *Client) GetDatabase(ctx context.Context, name string) (*Response, error) {
	return c.doJSON(ctx, "getDatabase", http.MethodGet, join(c.routerURL, "db", name), nil)
}

// DeleteDatabase issues DELETE /db/{db}.
func (c *Client) DeleteDatabase(ctx context.Context, name string) (*Response, error) {
	return c.doJSON(ctx, "deleteDatabase", http.MethodDelete, join(c.routerURL, "db", name), nil)
}

// ListDatabases issues GET /list/db.
func (c *Client) ListDatabases(ctx context.Context) (*Response, error) {
	return c.doJSON(ctx, "listDatabases", http.MethodGet, c.routerURL+"/list/db", nil)
}

// CreateSpace validates space and issues PUT /space/{db}/_create.
func (c *Client) CreateSpace(ctx context.Context, db string, space models.SpaceConfig) (*Response, error) {
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("createSpace: %w", err)
	}
	return c.doJSON(ctx, "createSpace", http.MethodPut, join(c.routerURL, "space", db, "_create"), space)
}

// GetSpace issues GET /space/{db}/{space}.
func (c *Client) GetSpace(ctx context.Context, db, space string) (*Response, error) {
	return c.doJSON(ctx, "getSpace", http.MethodGet, join(c.routerURL, "space", db, space), nil)
}

// DeleteSpace issues DELETE /space/{db}/{space}.
func (c *Client) DeleteSpace(ctx context.Context, db, space string) (*Response, error) {
	return c.doJSON(ctx, "deleteSpace", http.MethodDelete, join(c.routerURL, "space", db, space), nil)
}

// ListSpaces issues GET /list/space?db={db}.
func (c *Client) ListSpaces(ctx context.Context, db string) (*Response, error) {
	return c.doJSON(ctx, "listSpaces", http.MethodGet, c.routerURL+"/list/space?db="+url.QueryEscape(db), nil)
}

// ListServers issues GET /list/server.
func (c *Client) ListServers(ctx context.Context) (*Response, error) {
	return c.doJSON(ctx, "listServers", http.MethodGet, c.routerURL+"/list/server", nil)
}

// ClusterStats issues GET /_cluster/stats.
func (c *Client) ClusterStats(ctx context.Context) (*Response, error) {
	return c.doJSON(ctx, "clusterStats", http.MethodGet, c.routerURL+"/_cluster/stats", nil)
}

// ClusterHealth issues GET /_cluster/health.
func (c *Client) ClusterHealth(ctx context.Context) (*Response, error) {
	return c.doJSON(ctx, "clusterHealth", http.MethodGet, c.routerURL+"/_cluster/health", nil)
}

// SpaceInfo fetches and decodes a space description.
func (c *Client) SpaceInfo(ctx context.Context, db, space string) (*models.SpaceInfo, *Response, error) {
	resp, err := c.GetSpace(ctx, db, space)
	if err != nil {
		return nil, nil, err
	}
	var reply models.MasterReply
	if err := resp.Decode(&reply); err != nil {
		return nil, resp, err
	}
	if reply.Code != models.CodeSuccess {
		return nil, resp, fmt.Errorf("getSpace %s/%s: code %d: %s", db, space, reply.Code, reply.Msg)
	}
	var info models.SpaceInfo
	if err := reply.DecodeData(&info); err != nil {
		return nil, resp, err
	}
	return &info, resp, nil
}
