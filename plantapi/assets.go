// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plantapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

// ID is an identifier the API may send as either a JSON string or number.
type ID string

// UnmarshalJSON accepts "abc", 42 and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string {
	return string(id)
}

// Project groups the assets of one plant.
type Project struct {
	ID     ID      `json:"id"`
	Name   string  `json:"name"`
	Assets []Asset `json:"assets,omitempty"`
}

// Asset is a piece of plant equipment carrying sensors.
type Asset struct {
	ID        ID       `json:"id"`
	AssetName string   `json:"assetName"`
	Status    string   `json:"status,omitempty"`
	Sensors   []Sensor `json:"sensors,omitempty"`
}

// Sensor describes one measurement point on an asset.
type Sensor struct {
	ID      ID     `json:"id"`
	Name    string `json:"name,omitempty"`
	TagName string `json:"tagName,omitempty"`
	Title   string `json:"title,omitempty"`
	Unit    string `json:"unit,omitempty"`
}

// Projects lists the projects visible to the current user.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, "list projects", http.MethodGet, "/api/projects", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectAssets returns the current project with its assets and their
// sensors in one call, as used to build the navigation tree.
func (c *Client) ProjectAssets(ctx context.Context) (*Project, error) {
	var out struct {
		Project Project `json:"project"`
	}
	if err := c.do(ctx, "project assets", http.MethodGet, "/api/project-assets", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Project, nil
}

// Assets lists the assets of a project.
func (c *Client) Assets(ctx context.Context, projectID string) ([]Asset, error) {
	if err := requireID("project_id", projectID); err != nil {
		return nil, err
	}
	var out []Asset
	path := "/api/projects/" + url.PathEscape(projectID) + "/assets"
	if err := c.do(ctx, "list assets", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Asset returns the details of one asset.
func (c *Client) Asset(ctx context.Context, projectID, assetID string) (*Asset, error) {
	if err := requireID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("asset_id", assetID); err != nil {
		return nil, err
	}
	var out Asset
	path := "/api/projects/" + url.PathEscape(projectID) + "/assets/" + url.PathEscape(assetID)
	if err := c.do(ctx, "get asset", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sensors lists the sensors mounted on an asset.
func (c *Client) Sensors(ctx context.Context, projectID, assetID string) ([]Sensor, error) {
	if err := requireID("project_id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("asset_id", assetID); err != nil {
		return nil, err
	}
	var out []Sensor
	path := "/api/projects/" + url.PathEscape(projectID) + "/assets/" + url.PathEscape(assetID) + "/sensors"
	if err := c.do(ctx, "list sensors", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func requireID(field, id string) error {
	if id == "" {
		return apperrors.NewInvalidArgumentError(field, id, "must not be empty")
	}
	return nil
}
