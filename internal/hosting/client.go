// Package hosting is a client for the edge-hosting provider's management
// API: worker scripts, their secrets, zone routes and the default subdomain.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go/v4"
	"github.com/cloudflare/cloudflare-go/v4/option"
	"go.uber.org/zap"
)

// ErrRouteExists is returned by CreateRoute when the pattern is already
// routed. Callers treat it as success.
var ErrRouteExists = errors.New("hosting: route already exists")

const routeExistsCode = "10020"

// Provider is the subset of the hosting API a deployment uses.
type Provider interface {
	UploadScript(ctx context.Context, name string, script []byte) error
	PutSecret(ctx context.Context, script, name, value string) error
	CreateRoute(ctx context.Context, pattern, script string) error
	EnableSubdomain(ctx context.Context, script string) (string, error)
	DeleteScript(ctx context.Context, name string) error
}

type Config struct {
	BaseURL    string
	AccountID  string
	ZoneID     string
	APIToken   string
	APIKey     string
	APIEmail   string
	HTTPClient *http.Client
	// MaxRetries bounds retries of throttled and 5xx calls. Zero keeps the
	// SDK default; negative disables retries.
	MaxRetries int
	// CompatibilityDate pins the runtime behaviour of uploaded scripts.
	CompatibilityDate string
}

type Client struct {
	api       *cloudflare.Client
	accountID string
	zoneID    string
	compat    string
	log       *zap.Logger

	mu        sync.Mutex
	subdomain string
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, fmt.Errorf("hosting: account id is required")
	}
	token := strings.TrimSpace(cfg.APIToken)
	key, email := strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.APIEmail)
	if token == "" && (key == "" || email == "") {
		return nil, fmt.Errorf("hosting: api token or api key + email is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.cloudflare.com/client/v4"
	}
	compat := cfg.CompatibilityDate
	if compat == "" {
		compat = "2024-09-23"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(base + "/"),
		option.WithHTTPClient(hc),
		option.WithMiddleware(logCalls(log)),
	}
	if token != "" {
		opts = append(opts, option.WithAPIToken(token))
	} else {
		opts = append(opts, option.WithAPIKey(key), option.WithAPIEmail(email))
	}
	switch {
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &Client{
		api:       cloudflare.NewClient(opts...),
		accountID: strings.TrimSpace(cfg.AccountID),
		zoneID:    strings.TrimSpace(cfg.ZoneID),
		compat:    compat,
		log:       log,
	}, nil
}

func logCalls(log *zap.Logger) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)
		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("took", time.Since(start)),
		}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		log.Debug("hosting api call", fields...)
		return resp, err
	}
}

func (c *Client) scriptPath(name string, rest ...string) string {
	p := "accounts/" + url.PathEscape(c.accountID) + "/workers/scripts/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// UploadScript upserts a module worker by name.
func (c *Client) UploadScript(ctx context.Context, name string, script []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := json.Marshal(map[string]any{
		"main_module":        "worker.js",
		"compatibility_date": c.compat,
	})
	if err != nil {
		return err
	}
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="worker.js"; filename="worker.js"`)
	h.Set("Content-Type", "application/javascript+module")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(script); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	return c.call(ctx, http.MethodPut, c.scriptPath(name), nil,
		option.WithRequestBody(mw.FormDataContentType(), &body))
}

func (c *Client) PutSecret(ctx context.Context, script, name, value string) error {
	return c.callJSON(ctx, http.MethodPut, c.scriptPath(script, "secrets"), map[string]string{
		"name": name,
		"text": value,
		"type": "secret_text",
	}, nil)
}

// CreateRoute binds pattern to script in the configured zone.
func (c *Client) CreateRoute(ctx context.Context, pattern, script string) error {
	if c.zoneID == "" {
		return fmt.Errorf("hosting: zone id is required for routes")
	}
	err := c.callJSON(ctx, http.MethodPost, "zones/"+url.PathEscape(c.zoneID)+"/workers/routes", map[string]string{
		"pattern": pattern,
		"script":  script,
	}, nil)
	var apiErr *cloudflare.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Error())
		if strings.Contains(msg, routeExistsCode) || strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %s", ErrRouteExists, pattern)
		}
	}
	return err
}

// EnableSubdomain turns on the account's default subdomain for script and
// returns the resulting public URL.
func (c *Client) EnableSubdomain(ctx context.Context, script string) (string, error) {
	if err := c.callJSON(ctx, http.MethodPost, c.scriptPath(script, "subdomain"), map[string]bool{"enabled": true}, nil); err != nil {
		return "", err
	}
	sub, err := c.accountSubdomain(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.%s.workers.dev", script, sub), nil
}

func (c *Client) accountSubdomain(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.subdomain
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	var out struct {
		Subdomain string `json:"subdomain"`
	}
	if err := c.callJSON(ctx, http.MethodGet, "accounts/"+url.PathEscape(c.accountID)+"/workers/subdomain", nil, &out); err != nil {
		return "", err
	}
	if out.Subdomain == "" {
		return "", fmt.Errorf("hosting: account has no workers subdomain")
	}
	c.mu.Lock()
	c.subdomain = out.Subdomain
	c.mu.Unlock()
	return out.Subdomain, nil
}

func (c *Client) DeleteScript(ctx context.Context, name string) error {
	err := c.call(ctx, http.MethodDelete, c.scriptPath(name), nil, option.WithQuery("force", "true"))
	var apiErr *cloudflare.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) callJSON(ctx context.Context, method, path string, in, out any) error {
	var opts []option.RequestOption
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		opts = append(opts, option.WithRequestBody("application/json", bytes.NewBuffer(b)))
	}
	return c.call(ctx, method, path, out, opts...)
}

// call sends one request through the SDK and unwraps the result envelope
// into out when it is non-nil. Non-2xx statuses come back as
// *cloudflare.Error.
func (c *Client) call(ctx context.Context, method, path string, out any, opts ...option.RequestOption) error {
	var raw []byte
	if err := c.api.Execute(ctx, method, path, nil, &raw, opts...); err != nil {
		return fmt.Errorf("hosting: %s %s: %w", method, path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("hosting: decode envelope: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("hosting: %s %s: provider reported failure: %s", method, path, truncate(raw, 2048))
	}
	if out != nil && len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("hosting: decode result: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}
