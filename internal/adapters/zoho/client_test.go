package zoho_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"zatoka_pms/internal/adapters/zoho"
	"zatoka_pms/internal/domain"
)

// fakeZoho serves both the accounts (token) endpoint and the CRM API from one
// test server.
func fakeZoho(t *testing.T, api http.HandlerFunc) (*httptest.Server, *zoho.Client) {
	t.Helper()
	var tokens int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/oauth/v2/token") {
			atomic.AddInt32(&tokens, 1)
			if r.URL.Query().Get("grant_type") != "refresh_token" {
				w.WriteHeader(400)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
			return
		}
		if got := r.Header.Get("Authorization"); got != "Zoho-oauthtoken at-1" {
			t.Errorf("missing oauth header, got %q", got)
		}
		api(w, r)
	}))
	cl, err := zoho.New(zoho.Config{
		AccountsURL:  ts.URL,
		APIDomain:    ts.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt",
		RPS:          100,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return ts, cl
}

func TestClient_CreateRecord(t *testing.T) {
	ts, cl := fakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/crm/v6/Bookings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Data []map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Data) != 1 || body.Data[0]["Name"] != "Jan Kowalski" {
			t.Errorf("unexpected payload: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"details": map[string]any{"id": "5725767000000123456"}}},
		})
	})
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := cl.CreateRecord(ctx, "Bookings", map[string]any{"Name": "Jan Kowalski"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id != "5725767000000123456" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestClient_RetriesOn429ThenSuccess(t *testing.T) {
	var hits int32
	ts, cl := fakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(429)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"id": "1", "Booking_Reference": "ZAT-2026-0001"}},
		})
	})
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	recs, err := cl.ListRecords(ctx, "Bookings", 1, 200)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 || recs[0]["Booking_Reference"] != "ZAT-2026-0001" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 calls, got %d", hits)
	}
}

func TestClient_ReauthOn401(t *testing.T) {
	var hits int32
	ts, cl := fakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(401)
			return
		}
		w.WriteHeader(204)
	})
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := cl.UpdateRecord(ctx, "Bookings", "42", map[string]any{"Stage": "CONFIRMED"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected retry after 401, got %d calls", hits)
	}
}

func TestClient_Delete404IsNotFound(t *testing.T) {
	ts, cl := fakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	})
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := cl.DeleteRecord(ctx, "Bookings", "missing")
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestClient_Search(t *testing.T) {
	ts, cl := fakeZoho(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v6/coql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !strings.Contains(body["select_query"], "Contacts") {
			t.Errorf("unexpected query %q", body["select_query"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"id": "77", "Email": "jan@example.com"}},
		})
	})
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	recs, err := cl.Search(ctx, "select id from Contacts where Email = 'jan@example.com'")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != "77" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
