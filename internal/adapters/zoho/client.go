package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zatoka_pms/internal/adapters/httpkit"
	"zatoka_pms/internal/adapters/observability"
	"zatoka_pms/internal/domain"
)

// tokenMargin refreshes the cached access token this long before it actually
// expires.
const tokenMargin = 5 * time.Minute

type Config struct {
	AccountsURL  string
	APIDomain    string
	ClientID     string
	ClientSecret string
	RefreshToken string
	RPS          int
}

// Client talks to Zoho CRM v6. OAuth access tokens are exchanged lazily from
// the long-lived refresh token and cached until shortly before expiry.
type Client struct {
	cfg Config
	hc  *http.Client
	rl  *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("zoho credentials are required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 20 * time.Second},
		rl:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
	}, nil
}

// ---- domain.CRMClient ----

func (c *Client) CreateRecord(ctx context.Context, module string, fields map[string]any) (string, error) {
	var out struct {
		Data []struct {
			Details struct {
				ID string `json:"id"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/"+module, map[string]any{"data": []any{fields}}, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 || out.Data[0].Details.ID == "" {
		return "", domain.Upstream("zoho create returned no record id", nil)
	}
	return out.Data[0].Details.ID, nil
}

func (c *Client) UpdateRecord(ctx context.Context, module, id string, fields map[string]any) error {
	return c.do(ctx, http.MethodPut, "/"+module+"/"+id, map[string]any{"data": []any{fields}}, nil)
}

func (c *Client) DeleteRecord(ctx context.Context, module, id string) error {
	return c.do(ctx, http.MethodDelete, "/"+module+"/"+id, nil, nil)
}

func (c *Client) ListRecords(ctx context.Context, module string, page, perPage int) ([]map[string]any, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	endpoint := "/" + module
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Search runs a COQL query.
func (c *Client) Search(ctx context.Context, query string) ([]map[string]any, error) {
	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/coql", map[string]any{"select_query": query}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ---- internals ----

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenMargin)) {
		return c.accessToken, nil
	}

	q := url.Values{
		"refresh_token": {c.cfg.RefreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AccountsURL+"/oauth/v2/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", domain.Upstream("zoho token refresh failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.Upstream(fmt.Sprintf("zoho token refresh failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(b))), nil)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", domain.Upstream("zoho token response malformed", err)
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

// do performs an authenticated request with client-side rate limiting and
// retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}

		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIDomain+"/crm/v6"+endpoint, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = domain.Upstream("zoho request failed", err)
			if i < 3 && httpkit.SleepCtx(ctx, httpkit.Backoff(i)) {
				continue
			}
			return lastErr
		}
		observability.ObserveExternal("zoho", endpoint, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			b, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return domain.Upstream("zoho response read failed", err)
			}
			if out == nil || len(bytes.TrimSpace(b)) == 0 {
				return nil
			}
			if err := json.Unmarshal(b, out); err != nil {
				return domain.Upstream(fmt.Sprintf("invalid JSON from zoho: %.100s", b), err)
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			// expired/revoked access token: drop the cache and retry once
			resp.Body.Close()
			c.invalidateToken()
			lastErr = domain.Upstream("zoho unauthorized", nil)
			if i < 3 {
				continue
			}
			return lastErr

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return domain.NotFoundf("zoho record not found")

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			wait := httpkit.RetryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = httpkit.Backoff(i)
			}
			lastErr = domain.Upstream(fmt.Sprintf("zoho remote %d", resp.StatusCode), nil)
			if i < 3 && httpkit.SleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return domain.Upstream(fmt.Sprintf("zoho API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(b))), nil)
		}
	}
	return lastErr
}
