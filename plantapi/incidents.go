// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plantapi

import (
	"context"
	"net/http"
	"net/url"
)

// Incident is an operational event raised against a KPI.
type Incident struct {
	ID           ID     `json:"id,omitempty"`
	KpiID        string `json:"KpiId,omitempty"`
	Kpi          string `json:"Kpi,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	VariableName string `json:"VariableName,omitempty"`
	Equipment    string `json:"Equipment,omitempty"`
	System       string `json:"System,omitempty"`
	Priority     string `json:"Priority,omitempty"`
	Severity     string `json:"Severity,omitempty"`
	Owner        string `json:"Owner,omitempty"`
}

// IncidentFilter narrows an incident listing. Empty fields are not sent.
type IncidentFilter struct {
	System    string
	Equipment string
	Priority  string
	Severity  string
	Owner     string
}

func (f IncidentFilter) query() url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("System", f.System)
	set("Equipment", f.Equipment)
	set("Priority", f.Priority)
	set("Severity", f.Severity)
	set("Owner", f.Owner)
	return q
}

// Incidents lists incidents matching filter.
func (c *Client) Incidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var out []Incident
	if err := c.do(ctx, "list incidents", http.MethodGet, "/api/incidents", filter.query(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIncident files a new incident and returns it as stored.
func (c *Client) CreateIncident(ctx context.Context, incident Incident) (*Incident, error) {
	var out Incident
	if err := c.do(ctx, "create incident", http.MethodPost, "/api/incidents", nil, incident, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateIncident applies a partial update to an incident.
func (c *Client) UpdateIncident(ctx context.Context, id string, updates map[string]any) (*Incident, error) {
	if err := requireID("incident_id", id); err != nil {
		return nil, err
	}
	var out Incident
	if err := c.do(ctx, "update incident", http.MethodPatch, "/api/incidents/"+url.PathEscape(id), nil, updates, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
