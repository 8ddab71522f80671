// Package client provides the Kestrel Go SDK for running detection cycles
// and managing threats, devices, and sessions against a Kestrel server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server reports a missing resource.
var ErrNotFound = errors.New("not found")

// BehaviorSignal is a snapshot of recent authentication behaviour counters.
type BehaviorSignal struct {
	LoginAttempts   int `json:"login_attempts"`
	FailedAttempts  int `json:"failed_attempts"`
	LocationChanges int `json:"location_changes"`
	DeviceChanges   int `json:"device_changes"`
}

// DeviceSignal describes the device presented on the current request.
type DeviceSignal struct {
	DeviceID  string `json:"device_id"`
	IPAddress string `json:"ip_address"`
	Location  string `json:"location"`
	UserAgent string `json:"user_agent"`
}

// SessionSignal describes the active session under evaluation.
type SessionSignal struct {
	SessionID       string   `json:"session_id"`
	DurationSeconds int64    `json:"duration_seconds"`
	Anomalies       []string `json:"anomalies"`
}

// DetectRequest is the payload for Detect.
type DetectRequest struct {
	UserID   string          `json:"user_id"`
	Behavior *BehaviorSignal `json:"behavior,omitempty"`
	Device   *DeviceSignal   `json:"device,omitempty"`
	Session  *SessionSignal  `json:"session,omitempty"`

	EnableRealTimeResponse bool `json:"enable_real_time_response"`
	Persist                bool `json:"persist"`
}

// Finding is one detected threat as returned by the server.
type Finding struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        string     `json:"type"`
	Severity    string     `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DetectedAt  time.Time  `json:"detected_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// DetectResult is the outcome of one detection cycle.
type DetectResult struct {
	UserID           string    `json:"user_id"`
	Findings         []Finding `json:"findings"`
	OverallLevel     string    `json:"overall_level"`
	Recommendations  []string  `json:"recommendations"`
	ImmediateActions []string  `json:"immediate_actions"`
	Meta             struct {
		ElapsedMS             int64          `json:"elapsed_ms"`
		SeverityCounts        map[string]int `json:"severity_counts"`
		AutoResponseTriggered bool           `json:"auto_response_triggered"`
		AutoResponseClean     bool           `json:"auto_response_clean"`
	} `json:"meta"`
}

// Device is a registered device record.
type Device struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	UserAgent      string `json:"user_agent"`
	Trusted        bool   `json:"trusted"`
	SecurityStatus struct {
		Jailbroken        bool `json:"jailbroken"`
		ScreenLockEnabled bool `json:"screen_lock_enabled"`
	} `json:"security_status"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterDeviceRequest is the payload for RegisterDevice.
type RegisterDeviceRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	UserAgent         string `json:"user_agent"`
	Trusted           bool   `json:"trusted"`
	Jailbroken        bool   `json:"jailbroken"`
	ScreenLockEnabled bool   `json:"screen_lock_enabled"`
}

// Session is an active session record.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// AuditOverview holds the audit chain length and current root hash.
type AuditOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Client is the Kestrel SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithTimeout sets the HTTP request timeout (default: 10 s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a new Client connected to baseURL.
//
//	c := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Detect runs one detection cycle. The second return value reports whether
// the server persisted the cycle's findings.
func (c *Client) Detect(ctx context.Context, req DetectRequest) (*DetectResult, bool, error) {
	var resp struct {
		Result    *DetectResult `json:"result"`
		Persisted bool          `json:"persisted"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/detect", req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Result, resp.Persisted, nil
}

// ListThreats lists persisted threats for a user. resolved filters by
// resolution state when non-nil.
func (c *Client) ListThreats(ctx context.Context, userID string, resolved *bool, limit, offset int) ([]Finding, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if resolved != nil {
		q.Set("resolved", strconv.FormatBool(*resolved))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var resp struct {
		Threats []Finding `json:"threats"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/threats?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Threats, nil
}

// GetThreat fetches a single persisted threat by ID.
func (c *Client) GetThreat(ctx context.Context, id string) (*Finding, error) {
	var f Finding
	if err := c.call(ctx, http.MethodGet, "/api/v1/threats/"+url.PathEscape(id), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ResolveThreat marks a persisted threat resolved.
func (c *Client) ResolveThreat(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/threats/"+url.PathEscape(id)+"/resolve", nil, nil)
}

// ThreatSummary returns unresolved threat counts by severity.
func (c *Client) ThreatSummary(ctx context.Context, userID string) (map[string]int, error) {
	var resp struct {
		Unresolved map[string]int `json:"unresolved"`
	}
	path := "/api/v1/threats/summary?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Unresolved, nil
}

// ListDevices lists the user's registered devices.
func (c *Client) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	path := "/api/v1/devices?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// RegisterDevice registers or updates a device for the user.
func (c *Client) RegisterDevice(ctx context.Context, userID string, req RegisterDeviceRequest) (*Device, error) {
	var d Device
	path := "/api/v1/devices?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodPost, path, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RevokeDeviceTrust marks a device untrusted.
func (c *Client) RevokeDeviceTrust(ctx context.Context, userID, deviceID string) error {
	path := "/api/v1/devices/" + url.PathEscape(deviceID) + "/revoke-trust?user_id=" + url.QueryEscape(userID)
	return c.call(ctx, http.MethodPost, path, nil, nil)
}

// ListSessions lists the user's active sessions.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	path := "/api/v1/sessions?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// TerminateSession terminates a single session.
func (c *Client) TerminateSession(ctx context.Context, userID, sessionID string) error {
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "?user_id=" + url.QueryEscape(userID)
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// TerminateAllSessions terminates every session for the account and returns
// the number terminated.
func (c *Client) TerminateAllSessions(ctx context.Context, userID string) (int, error) {
	var resp struct {
		Terminated int `json:"terminated"`
	}
	path := "/api/v1/sessions?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Terminated, nil
}

// GetAuditOverview returns the audit chain length and root hash.
func (c *Client) GetAuditOverview(ctx context.Context) (*AuditOverview, error) {
	var ov AuditOverview
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit", nil, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// VerifyAudit walks the server's audit chain and reports integrity.
// An invalid chain returns (false, reason, nil); the error return is for
// transport failures only.
func (c *Client) VerifyAudit(ctx context.Context) (valid bool, reason string, err error) {
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &resp); err != nil {
		return false, "", err
	}
	return resp.Valid, resp.Error, nil
}

// IssueToken exchanges the server's static API secret for a bearer token.
// userID scopes the token to one account; role "operator" requests a
// cross-account token instead (userID is ignored then).
func (c *Client) IssueToken(ctx context.Context, secret, userID, role string) (string, error) {
	req := struct {
		Secret string `json:"secret"`
		UserID string `json:"user_id,omitempty"`
		Role   string `json:"role,omitempty"`
	}{Secret: secret, UserID: userID, Role: role}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/token", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// call builds, executes, and decodes an API request. respBody may be nil.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
