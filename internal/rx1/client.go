package rx1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
)

// DefaultServerID is used when no server id is configured.
const DefaultServerID = "Receiver1"

// Statistics types queried from /api/statistics/current.
const (
	statsTypeServer  = "content_processing_server"
	statsTypeService = "content_processing"
)

// Client talks to the receiver's REST API. It performs no retries; a
// failed request is reported to the caller, which logs and moves on.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	http     *resty.Client
	host     string
	serverID string
}

// NewClient builds a client for the device described by cfg.
// An empty host is accepted; every request then fails with ErrHostRequired.
func NewClient(cfg config.DeviceConfig) *Client {
	port := cfg.Port
	if port == 0 {
		port = 80
	}
	serverID := cfg.ServerID
	if serverID == "" {
		serverID = DefaultServerID
	}

	httpClient := resty.New().
		SetBaseURL("http://" + cfg.Host + ":" + strconv.Itoa(port)).
		SetHeader("Content-Type", "application/json")
	if timeout := cfg.TimeoutDuration(); timeout > 0 {
		httpClient.SetTimeout(timeout)
	}

	return &Client{
		http:     httpClient,
		host:     cfg.Host,
		serverID: serverID,
	}
}

// Host returns the configured device host.
func (c *Client) Host() string {
	return c.host
}

// ServerID returns the server id used in statistics and assignment paths.
func (c *Client) ServerID() string {
	return c.serverID
}

// Do issues an arbitrary request and decodes the response loosely:
// an empty 2xx body yields an empty object, a JSON body yields the decoded
// value and any other 2xx body is returned as a string.
//
// A non-nil body is JSON-encoded.
func (c *Client) Do(ctx context.Context, method, path string, body any) (any, error) {
	raw, err := c.execute(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return decodeLoose(raw), nil
}

func decodeLoose(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// execute sends the request and returns the body of a 2xx response.
func (c *Client) execute(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.host == "" {
		return nil, ErrHostRequired
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		req.SetBody(encoded)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return resp.Body(), nil
}

// getJSON fetches path and decodes a 2xx body into out. An empty body
// leaves out untouched.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	raw, err := c.execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrMalformedResponse, path, err)
	}
	return nil
}

// Services returns every service on the device.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := c.getJSON(ctx, "/api/services", &services); err != nil {
		return nil, err
	}
	return services, nil
}

// ServicesByType returns the services of one type.
func (c *Client) ServicesByType(ctx context.Context, serviceType string) ([]Service, error) {
	var services []Service
	if err := c.getJSON(ctx, "/api/services/"+Escape(serviceType), &services); err != nil {
		return nil, err
	}
	return services, nil
}

// ServerStatus returns the chassis statistics.
func (c *Client) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	status := &ServerStatus{}
	if err := c.getJSON(ctx, c.statisticsPath(statsTypeServer, "0"), status); err != nil {
		return nil, err
	}
	return status, nil
}

// ServiceStatus returns the statistics of one service.
func (c *Client) ServiceStatus(ctx context.Context, serviceID string) (*ServiceStatus, error) {
	status := &ServiceStatus{}
	if err := c.getJSON(ctx, c.statisticsPath(statsTypeService, serviceID), status); err != nil {
		return nil, err
	}
	return status, nil
}

// ServiceConfig returns a service's configuration document as decoded JSON.
func (c *Client) ServiceConfig(ctx context.Context, serviceType, serviceID string) (any, error) {
	return c.Do(ctx, http.MethodGet, servicePath(serviceType, serviceID)+"/config", nil)
}

// StartService starts a service.
func (c *Client) StartService(ctx context.Context, serviceType, serviceID string) error {
	_, err := c.execute(ctx, http.MethodPost, servicePath(serviceType, serviceID)+"/start", nil)
	return err
}

// StopService stops a service.
func (c *Client) StopService(ctx context.Context, serviceType, serviceID string) error {
	_, err := c.execute(ctx, http.MethodPost, servicePath(serviceType, serviceID)+"/stop", nil)
	return err
}

// AssignServer assigns a server to a service.
func (c *Client) AssignServer(ctx context.Context, serviceType, serviceID, serverID string) error {
	_, err := c.execute(ctx, http.MethodPut, assignPath(serviceType, serviceID, serverID), nil)
	return err
}

// RemoveServer removes a server assignment from a service.
func (c *Client) RemoveServer(ctx context.Context, serviceType, serviceID, serverID string) error {
	_, err := c.execute(ctx, http.MethodDelete, assignPath(serviceType, serviceID, serverID), nil)
	return err
}

func (c *Client) statisticsPath(statsType, id string) string {
	return "/api/statistics/current?serverId=" + Escape(c.serverID) +
		"&type=" + statsType + "&id=" + Escape(id)
}

func servicePath(serviceType, serviceID string) string {
	return "/api/services/" + Escape(serviceType) + "/" + Escape(serviceID)
}

func assignPath(serviceType, serviceID, serverID string) string {
	return "/api/assign/services/" + Escape(serviceType) + "/" + Escape(serviceID) +
		"/servers/" + Escape(serverID)
}

// Escape percent-encodes one identifier segment. The result is valid in
// both a path segment and a query value.
func Escape(segment string) string {
	return strings.ReplaceAll(url.QueryEscape(segment), "+", "%20")
}
