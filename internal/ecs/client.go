package ecs

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/campusconnect/ecsbridge/internal/models"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// Settings carries everything the client needs to reach one ECS server.
// The client keeps no state between calls beyond these settings.
type Settings struct {
	ServerID string
	URL      string
	AuthMode models.AuthMode

	EcsAuth  string
	HTTPUser string
	HTTPPass string

	CACertPath string
	CertPath   string
	KeyPath    string

	Timeout time.Duration
}

// SettingsFromServer adapts a stored server row into client settings.
func SettingsFromServer(server *models.ECSServer) Settings {
	return Settings{
		ServerID:   server.ID,
		URL:        server.URL,
		AuthMode:   server.AuthMode,
		EcsAuth:    server.EcsAuth,
		HTTPUser:   server.HTTPUser,
		HTTPPass:   server.HTTPPass,
		CACertPath: server.CACertPath,
		CertPath:   server.CertPath,
		KeyPath:    server.KeyPath,
	}
}

// Client performs authenticated HTTP requests against a single ECS server.
type Client struct {
	settings Settings
	http     *http.Client
}

// Connect validates the settings and builds a client. No network traffic
// happens until the first operation.
func Connect(settings Settings) (*Client, error) {
	if strings.TrimSpace(settings.URL) == "" {
		return nil, appErrors.NewConfiguration("ecs server url is empty")
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}
	settings.URL = strings.TrimRight(settings.URL, "/")

	transport := &http.Transport{}

	switch settings.AuthMode {
	case models.AuthNone:
		if settings.EcsAuth == "" {
			return nil, appErrors.NewConfiguration("auth mode none requires the ecs shared secret")
		}
	case models.AuthBasic:
		if settings.HTTPUser == "" || settings.HTTPPass == "" {
			return nil, appErrors.NewConfiguration("auth mode basic requires username and password")
		}
	case models.AuthCertificate:
		tlsCfg, err := certificateTLSConfig(settings)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	default:
		return nil, appErrors.NewConfiguration(fmt.Sprintf("unknown auth mode %q", settings.AuthMode))
	}

	return &Client{
		settings: settings,
		http: &http.Client{
			Timeout:   settings.Timeout,
			Transport: transport,
		},
	}, nil
}

func certificateTLSConfig(settings Settings) (*tls.Config, error) {
	if settings.CertPath == "" || settings.KeyPath == "" {
		return nil, appErrors.NewConfiguration("auth mode certificate requires certificate and key paths")
	}

	cert, err := tls.LoadX509KeyPair(settings.CertPath, settings.KeyPath)
	if err != nil {
		return nil, appErrors.NewConfiguration("cannot load client certificate").WithInternal(err)
	}

	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if settings.CACertPath != "" {
		pem, err := os.ReadFile(settings.CACertPath)
		if err != nil {
			return nil, appErrors.NewConfiguration("cannot read ca certificate").WithInternal(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, appErrors.NewConfiguration("ca certificate contains no usable PEM data")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// do performs one authenticated request. Non-2xx statuses map onto the error
// taxonomy: 404 becomes a not-found error, anything else a connection error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) (http.Header, error) {
	return c.doWithHeader(ctx, method, path, body, out, "", "")
}

// AddResource creates a resource and returns the id the server assigned.
// Receiver MIDs are passed through the membership targeting header.
func (c *Client) AddResource(ctx context.Context, rtype ResourceType, body interface{}, receiverMIDs []int) (int64, error) {
	var created json.RawMessage
	header, err := c.doWithReceivers(ctx, http.MethodPost, string(rtype), body, &created, receiverMIDs)
	if err != nil {
		return 0, err
	}

	if location := header.Get("Location"); location != "" {
		if _, id, perr := ParseEventResource(location); perr == nil {
			return id, nil
		}
	}

	var fallback struct {
		ID int64 `json:"id"`
	}
	if len(created) > 0 && json.Unmarshal(created, &fallback) == nil && fallback.ID != 0 {
		return fallback.ID, nil
	}

	return 0, appErrors.NewConnection("ecs did not report the id of the created resource", nil)
}

// GetResource fetches one resource body.
func (c *Client) GetResource(ctx context.Context, rtype ResourceType, id int64) (json.RawMessage, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d", rtype, id), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetResourceDetails fetches the routing envelope of a resource, naming the
// community members it was sent by and delivered to.
func (c *Client) GetResourceDetails(ctx context.Context, rtype ResourceType, id int64) (*ResourceDetails, error) {
	var details ResourceDetails
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%d/details", rtype, id), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// UpdateResource replaces a resource body.
func (c *Client) UpdateResource(ctx context.Context, rtype ResourceType, id int64, body interface{}, receiverMIDs []int) error {
	_, err := c.doWithReceivers(ctx, http.MethodPut, fmt.Sprintf("%s/%d", rtype, id), body, nil, receiverMIDs)
	return err
}

// DeleteResource removes a resource from the server.
func (c *Client) DeleteResource(ctx context.Context, rtype ResourceType, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/%d", rtype, id), nil, nil)
	return err
}

// GetResourceList enumerates the ids of all resources of one type visible to
// this participant. The server answers with a text/uri-list body.
func (c *Client) GetResourceList(ctx context.Context, rtype ResourceType) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.URL+"/"+string(rtype), nil)
	if err != nil {
		return nil, appErrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "text/uri-list")

	switch c.settings.AuthMode {
	case models.AuthBasic:
		req.SetBasicAuth(c.settings.HTTPUser, c.settings.HTTPPass)
	case models.AuthNone:
		req.Header.Set("X-EcsAuthId", c.settings.EcsAuth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErrors.NewConnection(fmt.Sprintf("ecs list %s failed", rtype), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.NewConnection("read ecs response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, appErrors.NewConnection(fmt.Sprintf("ecs returned %d listing %s", resp.StatusCode, rtype), nil)
	}

	return parseURIList(string(payload)), nil
}

// GetMemberships returns all communities this participant belongs to.
func (c *Client) GetMemberships(ctx context.Context) ([]Membership, error) {
	var memberships []Membership
	if _, err := c.do(ctx, http.MethodGet, "sys/memberships", nil, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

// AddAuth requests a single-use authentication token bound to the given
// destination url.
func (c *Client) AddAuth(ctx context.Context, destURL string, realm string) (*AuthToken, error) {
	body := map[string]string{"url": destURL, "realm": realm}

	var token AuthToken
	if _, err := c.do(ctx, http.MethodPost, "sys/auths", body, &token); err != nil {
		return nil, err
	}
	if token.Hash == "" {
		return nil, appErrors.NewConnection("ecs auth response carries no hash", nil)
	}
	return &token, nil
}

// GetAuth resolves a previously issued single-use token by hash. The caller
// must still verify the realm and validity window via CheckAuthentication.
func (c *Client) GetAuth(ctx context.Context, hash string) (*AuthToken, error) {
	var token AuthToken
	if _, err := c.do(ctx, http.MethodGet, "sys/auths/"+hash, nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// ReadEventFIFO pops the oldest undelivered event for this participant.
// With ack=true the event is removed from the server queue; ack=false peeks
// without removing, so re-processing stays possible after a crash. A nil
// event means the queue is empty.
func (c *Client) ReadEventFIFO(ctx context.Context, ack bool) (*Event, error) {
	method := http.MethodGet
	if ack {
		method = http.MethodPost
	}

	var events []Event
	if _, err := c.do(ctx, method, "sys/events/fifo", nil, &events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (c *Client) doWithReceivers(ctx context.Context, method, path string, body, out interface{}, receiverMIDs []int) (http.Header, error) {
	if len(receiverMIDs) == 0 {
		return c.do(ctx, method, path, body, out)
	}

	// The receiver list rides along as a header, mirroring how the hub
	// scopes a resource to specific community members.
	mids := make([]string, len(receiverMIDs))
	for i, mid := range receiverMIDs {
		mids[i] = strconv.Itoa(mid)
	}

	return c.doWithHeader(ctx, method, path, body, out, "X-EcsReceiverMemberships", strings.Join(mids, ","))
}

func (c *Client) doWithHeader(ctx context.Context, method, path string, body, out interface{}, key, value string) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, appErrors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.settings.URL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, appErrors.Wrap(err, "build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(key, value)
	}

	switch c.settings.AuthMode {
	case models.AuthBasic:
		req.SetBasicAuth(c.settings.HTTPUser, c.settings.HTTPPass)
	case models.AuthNone:
		req.Header.Set("X-EcsAuthId", c.settings.EcsAuth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErrors.NewConnection(fmt.Sprintf("ecs request %s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.NewConnection("read ecs response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, appErrors.NewNotFound(fmt.Sprintf("ecs resource %s no longer exists", path))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, appErrors.NewConnection(
			fmt.Sprintf("ecs returned %d for %s %s: %s", resp.StatusCode, method, path, strings.TrimSpace(string(payload))),
			nil,
		)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, appErrors.NewConnection("malformed ecs response", err)
		}
	}

	return resp.Header, nil
}

func parseURIList(body string) []int64 {
	var ids []int64
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		trimmed := strings.Trim(line, "/")
		idx := strings.LastIndex(trimmed, "/")
		candidate := trimmed
		if idx >= 0 {
			candidate = trimmed[idx+1:]
		}
		if id, err := strconv.ParseInt(candidate, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
