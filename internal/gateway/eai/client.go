// Package eai implements the record store and directory lister against an
// EAI-style REST configuration endpoint (splunkd management port).
package eai

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/record"
	"github.com/deductiv/export-everything-sub000/pkg/retry"
)

// DirlistEndpoint is the custom REST handler that lists a profile's folders.
const DirlistEndpoint = "export_everything_dirlist"

// Config holds client configuration.
type Config struct {
	BaseURL     string
	App         string
	Token       string
	Username    string
	Password    string
	InsecureTLS bool
	Timeout     time.Duration
	RetryConfig retry.Config

	// HTTPClient overrides the default transport (tests).
	HTTPClient *http.Client
}

// Client talks to the REST configuration store. GETs are retried on
// transport failures and 5xx responses; writes are sent once.
type Client struct {
	baseURL     string
	app         string
	httpClient  *http.Client
	retryConfig retry.Config

	token    string
	username string
	password string
}

var (
	_ gateway.RecordStore     = (*Client)(nil)
	_ gateway.ACLWriter       = (*Client)(nil)
	_ gateway.DirectoryLister = (*Client)(nil)
)

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.App == "" {
		cfg.App = "export_everything"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // splunkd ships self-signed certs
			},
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		app:         cfg.App,
		httpClient:  httpClient,
		retryConfig: cfg.RetryConfig,
		token:       cfg.Token,
		username:    cfg.Username,
		password:    cfg.Password,
	}
}

func (c *Client) applyAuth(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

// entryPath returns the REST path of a collection or one of its records.
func (c *Client) entryPath(collection, key string) string {
	var base string
	switch collection {
	case record.Passwords:
		base = "servicesNS/-/" + c.app + "/storage/passwords"
		key = record.TrimPasswordKey(key)
	case gateway.CollectionRoles:
		base = "servicesNS/-/-/authorization/roles"
	case gateway.CollectionUsers:
		base = "servicesNS/-/-/authentication/users"
	default:
		base = "servicesNS/-/" + c.app + "/" + c.app + "/" + url.PathEscape(collection)
	}
	if key == "" {
		return base
	}
	return base + "/" + url.PathEscape(key)
}

// List returns every entry of a collection.
func (c *Client) List(ctx context.Context, collection string) ([]record.Entry, error) {
	resp, err := c.do(ctx, call{op: "list", method: http.MethodGet, path: c.entryPath(collection, ""), collection: collection})
	if err != nil {
		return nil, err
	}
	return resp.entries(), nil
}

// Get returns one entry.
func (c *Client) Get(ctx context.Context, collection, key string) (record.Entry, error) {
	resp, err := c.do(ctx, call{op: "get", method: http.MethodGet, path: c.entryPath(collection, key), collection: collection, key: key})
	if err != nil {
		return record.Entry{}, err
	}
	return resp.first(collection, key)
}

// Create posts a new record. Credentials are created by username and realm;
// other records are created under rec.Key.
func (c *Client) Create(ctx context.Context, collection string, rec record.Record) (record.Entry, error) {
	var form url.Values
	if collection == record.Passwords {
		form = url.Values{}
		form.Set("name", rec.String(record.FieldUsername))
		form.Set("password", rec.String(record.FieldPassword))
		form.Set("realm", rec.String(record.FieldRealm))
	} else {
		form = record.Form(rec)
		form.Set("name", rec.Key)
	}

	resp, err := c.do(ctx, call{op: "create", method: http.MethodPost, path: c.entryPath(collection, ""), form: form, collection: collection, key: rec.Key})
	if err != nil {
		return record.Entry{}, err
	}
	return resp.first(collection, rec.Key)
}

// Update replaces the fields of an existing record. Only the password of a
// credential can change.
func (c *Client) Update(ctx context.Context, collection, key string, rec record.Record) (record.Entry, error) {
	var form url.Values
	if collection == record.Passwords {
		form = url.Values{}
		form.Set("password", rec.String(record.FieldPassword))
	} else {
		form = record.Form(rec)
	}

	resp, err := c.do(ctx, call{op: "update", method: http.MethodPost, path: c.entryPath(collection, key), form: form, collection: collection, key: key})
	if err != nil {
		return record.Entry{}, err
	}
	return resp.first(collection, key)
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	_, err := c.do(ctx, call{op: "delete", method: http.MethodDelete, path: c.entryPath(collection, key), collection: collection, key: key})
	return err
}

// UpdateACL sets the owner and permissions of a stored credential.
func (c *Client) UpdateACL(ctx context.Context, collection, key string, acl record.ACL) error {
	if collection != record.Passwords {
		return fmt.Errorf("acl updates are only supported for %s, not %s", record.Passwords, collection)
	}
	sharing := acl.Sharing
	if sharing == "" {
		sharing = "global"
	}
	form := url.Values{}
	form.Set("perms.read", strings.Join(acl.Read, ","))
	form.Set("perms.write", strings.Join(acl.Write, ","))
	form.Set("sharing", sharing)
	form.Set("owner", acl.Owner)

	path := "services/configs/conf-passwords/credential%3A" + url.PathEscape(key) + "/acl"
	_, err := c.do(ctx, call{op: "acl", method: http.MethodPost, path: path, form: form, collection: collection, key: key})
	return err
}

// ListDirectory queries the directory listing handler and returns its raw
// response body.
func (c *Client) ListDirectory(ctx context.Context, q gateway.DirectoryQuery) ([]byte, error) {
	query := url.Values{}
	query.Set("config", q.Collection)
	query.Set("alias", q.Alias)
	if q.Folder != "" {
		query.Set("folder", q.Folder)
	}

	var body []byte
	err := retry.Do(ctx, c.retryConfig, func() error {
		status, data, err := c.send(ctx, "dirlist", http.MethodGet, "servicesNS/-/"+c.app+"/"+DirlistEndpoint, query, nil)
		if err != nil {
			return retry.Retryable(&gateway.FetchError{Op: "dirlist", Collection: q.Collection, Key: q.Alias, Err: err})
		}
		if status >= 500 && len(data) == 0 {
			return retry.Retryable(&gateway.FetchError{Op: "dirlist", Collection: q.Collection, Key: q.Alias, Status: status, Err: errors.New("empty response")})
		}
		if status >= 400 {
			if msg, ok := storeError(data); ok {
				return &gateway.ListingError{Status: status, Message: msg, Remote: true}
			}
			if !json.Valid(data) {
				return &gateway.ListingError{Status: status, Message: bodyOrStatusText(status, data), Remote: true}
			}
		}
		// Listing error envelopes arrive with non-2xx statuses; the caller decodes them.
		body = data
		return nil
	})
	return body, err
}

type call struct {
	op         string
	method     string
	path       string
	form       url.Values
	collection string
	key        string
}

func (c *Client) do(ctx context.Context, cl call) (*response, error) {
	cfg := c.retryConfig
	if cl.method != http.MethodGet {
		cfg = retry.NoRetry()
	}
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logging.WithContext(ctx).Warn("retrying store request",
			zap.String("op", cl.op),
			zap.String("collection", cl.collection),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return retry.DoWithResult(ctx, cfg, func() (*response, error) {
		status, data, err := c.send(ctx, cl.op, cl.method, cl.path, nil, cl.form)
		if err != nil {
			return nil, retry.Retryable(&gateway.FetchError{Op: cl.op, Collection: cl.collection, Key: cl.key, Err: err})
		}

		switch {
		case status >= 200 && status < 300:
			resp := &response{}
			if len(strings.TrimSpace(string(data))) == 0 {
				return resp, nil
			}
			if err := json.Unmarshal(data, resp); err != nil {
				return nil, &gateway.FetchError{Op: cl.op, Collection: cl.collection, Key: cl.key, Status: status, Err: fmt.Errorf("decode response: %w", err)}
			}
			return resp, nil
		case status == http.StatusConflict:
			return nil, &gateway.ConflictError{Collection: cl.collection, Key: cl.key, Message: messageText(data)}
		case status == http.StatusNotFound:
			return nil, &gateway.FetchError{Op: cl.op, Collection: cl.collection, Key: cl.key, Status: status, Err: gateway.ErrNotFound}
		case status >= 500:
			return nil, retry.Retryable(&gateway.FetchError{Op: cl.op, Collection: cl.collection, Key: cl.key, Status: status, Err: errors.New(messageText(data))})
		default:
			return nil, &gateway.FetchError{Op: cl.op, Collection: cl.collection, Key: cl.key, Status: status, Err: errors.New(messageText(data))}
		}
	})
}

// send performs one HTTP exchange. It returns the status and body, or an
// error if no response was received.
func (c *Client) send(ctx context.Context, op, method, path string, query, form url.Values) (int, []byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("output_mode", "json")
	query.Set("count", "0")
	u := c.baseURL + "/" + path + "?" + query.Encode()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGatewayRequest(op, 0, time.Since(start))
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordGatewayRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	logging.WithContext(ctx).Debug("store request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp.StatusCode, data, nil
}
