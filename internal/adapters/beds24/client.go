package beds24

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zatoka_pms/internal/adapters/httpkit"
	"zatoka_pms/internal/adapters/observability"
	"zatoka_pms/internal/domain"
)

// Access tokens are short-lived; refresh this long before expiry.
const tokenMargin = 2 * time.Minute

// Client talks to the beds24 v2 API. Authentication is a long-lived refresh
// token (obtained once from an invite code) exchanged lazily for short-lived
// access tokens.
type Client struct {
	base string
	hc   *http.Client
	rl   *rate.Limiter

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	tokenExpiry  time.Time
}

func New(base string, rps int) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// UseRefreshToken installs a stored long-lived credential.
func (c *Client) UseRefreshToken(tok string) {
	c.mu.Lock()
	c.refreshToken = tok
	c.accessToken = ""
	c.mu.Unlock()
}

// Setup exchanges a one-time invite code for a refresh token and an initial
// access token. The caller persists the refresh token for later runs.
func (c *Client) Setup(ctx context.Context, inviteCode string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/authentication/setup", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("code", inviteCode)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", domain.Upstream("beds24 setup failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.Upstream(fmt.Sprintf("beds24 auth failed (%d): %.100s", resp.StatusCode, b), nil)
	}
	var out struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Upstream("beds24 setup response malformed", err)
	}
	c.mu.Lock()
	c.refreshToken = out.RefreshToken
	c.accessToken = out.Token
	c.tokenExpiry = expiry(out.ExpiresIn)
	c.mu.Unlock()
	return out.RefreshToken, nil
}

func expiry(expiresIn int) time.Time {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenMargin)) {
		return c.accessToken, nil
	}
	if c.refreshToken == "" {
		return "", domain.Upstream("no beds24 credentials configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/authentication/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("refreshToken", c.refreshToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", domain.Upstream("beds24 token refresh failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.Upstream(fmt.Sprintf("beds24 token refresh failed (%d): %.100s", resp.StatusCode, b), nil)
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Upstream("beds24 token response malformed", err)
	}
	c.accessToken = out.Token
	c.tokenExpiry = expiry(out.ExpiresIn)
	return c.accessToken, nil
}

// ---- domain.ChannelClient ----

func (c *Client) Properties(ctx context.Context) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/properties?includeAllRooms=true", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (c *Client) BookingsWindow(ctx context.Context, from, to time.Time) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("/bookings?startDate=%s&endDate=%s",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func (c *Client) PushRates(ctx context.Context, updates []domain.RateUpdate) error {
	payload := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		roomID, err := strconv.Atoi(u.RoomExternalID)
		if err != nil {
			return domain.Validationf("room external id %q is not a beds24 numeric id", u.RoomExternalID)
		}
		payload = append(payload, map[string]any{
			"roomId":    roomID,
			"startDate": u.Date,
			"endDate":   u.Date,
			"price1":    u.Price,
		})
	}
	return c.do(ctx, http.MethodPost, "/inventory/rooms/calendar", payload, nil)
}

func (c *Client) CreateBooking(ctx context.Context, fields map[string]any) (string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/bookings", []any{fields}, &raw); err != nil {
		return "", err
	}
	items, err := decodeList(raw)
	if err != nil || len(items) == 0 {
		return "", nil // beds24 sometimes answers with an empty body on success
	}
	if id, ok := items[0]["id"]; ok {
		return fmt.Sprintf("%v", id), nil
	}
	return "", nil
}

func (c *Client) CancelBooking(ctx context.Context, externalID string) error {
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return domain.Validationf("booking external id %q is not a beds24 numeric id", externalID)
	}
	return c.do(ctx, http.MethodPost, "/bookings", []any{map[string]any{"id": id, "status": "cancelled"}}, nil)
}

// decodeList tolerates both a bare array and a {data: [...]} envelope.
func decodeList(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []map[string]any
		return out, json.Unmarshal(trimmed, &out)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, domain.Upstream("beds24 returned an unexpected data format", err)
	}
	return env.Data, nil
}

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
		req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, rd)
		if err != nil {
			return err
		}
		req.Header.Set("token", tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = domain.Upstream("beds24 request failed", err)
			if i < 3 && httpkit.SleepCtx(ctx, httpkit.Backoff(i)) {
				continue
			}
			return lastErr
		}
		observability.ObserveExternal("beds24", endpoint, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			b, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return domain.Upstream("beds24 response read failed", err)
			}
			if out == nil || len(bytes.TrimSpace(b)) == 0 {
				return nil
			}
			if err := json.Unmarshal(b, out); err != nil {
				return domain.Upstream(fmt.Sprintf("invalid JSON from beds24: %.100s", b), err)
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			c.mu.Lock()
			c.accessToken = ""
			c.mu.Unlock()
			lastErr = domain.Upstream("beds24 unauthorized", nil)
			if i < 3 {
				continue
			}
			return lastErr

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return domain.NotFoundf("beds24 resource not found")

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			wait := httpkit.RetryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = httpkit.Backoff(i)
			}
			lastErr = domain.Upstream(fmt.Sprintf("beds24 remote %d", resp.StatusCode), nil)
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
			return domain.Upstream(fmt.Sprintf("beds24 API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(b))), nil)
		}
	}
	return lastErr
}
