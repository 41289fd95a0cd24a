// Package crm talks to the external CRM connector: it reads lead and agent
// snapshots and writes approved assignments back.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// ErrNotFound is returned by doReq for 404 responses.
var ErrNotFound = errors.New("crm: not found")

// SnapshotProvider returns normalized leads and agents as of now.
type SnapshotProvider interface {
	// ListLeads returns unassigned leads; an empty board means all boards.
	ListLeads(ctx context.Context, tenant, boardID string) ([]*store.Lead, error)
	// GetLead returns (nil, nil) when the lead does not exist.
	GetLead(ctx context.Context, tenant, leadID string) (*store.Lead, error)
	ListAgents(ctx context.Context, tenant string) ([]*store.Agent, error)
	// LeadChangedSince reports whether any mapped field changed after since.
	// A lead that no longer exists counts as changed.
	LeadChangedSince(ctx context.Context, tenant, leadID string, since time.Time) (bool, error)
}

// WriteBackSink records an assignment in the external system.
type WriteBackSink interface {
	AssignLead(ctx context.Context, tenant, leadID, agentID string) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("crm %s %s: %d %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

func tenantPath(tenant string) string {
	return "/tenants/" + url.PathEscape(tenant)
}

func (c *HTTPClient) ListLeads(ctx context.Context, tenant, boardID string) ([]*store.Lead, error) {
	q := url.Values{"unassigned": {"true"}}
	if boardID != "" {
		q.Set("board", boardID)
	}
	data, err := c.doReq(ctx, http.MethodGet, tenantPath(tenant)+"/leads?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var leads []*store.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	for _, l := range leads {
		l.Tenant = tenant
	}
	return leads, nil
}

func (c *HTTPClient) GetLead(ctx context.Context, tenant, leadID string) (*store.Lead, error) {
	data, err := c.doReq(ctx, http.MethodGet, tenantPath(tenant)+"/leads/"+url.PathEscape(leadID), nil)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lead store.Lead
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, fmt.Errorf("decode lead: %w", err)
	}
	lead.Tenant = tenant
	return &lead, nil
}

func (c *HTTPClient) ListAgents(ctx context.Context, tenant string) ([]*store.Agent, error) {
	data, err := c.doReq(ctx, http.MethodGet, tenantPath(tenant)+"/agents", nil)
	if err != nil {
		return nil, err
	}
	var agents []*store.Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return agents, nil
}

func (c *HTTPClient) LeadChangedSince(ctx context.Context, tenant, leadID string, since time.Time) (bool, error) {
	q := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	path := tenantPath(tenant) + "/leads/" + url.PathEscape(leadID) + "/changes?" + q.Encode()
	data, err := c.doReq(ctx, http.MethodGet, path, nil)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var resp struct {
		Changed bool `json:"changed"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("decode lead changes: %w", err)
	}
	return resp.Changed, nil
}

func (c *HTTPClient) AssignLead(ctx context.Context, tenant, leadID, agentID string) error {
	path := tenantPath(tenant) + "/leads/" + url.PathEscape(leadID) + "/assignee"
	_, err := c.doReq(ctx, http.MethodPut, path, map[string]string{"agent_id": agentID})
	return err
}
