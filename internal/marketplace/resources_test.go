package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("seller") != "123456" {
			t.Fatalf("unexpected seller %q", q.Get("seller"))
		}
		if q.Get("limit") != "50" {
			t.Fatalf("limit must be clamped to the marketplace cap, got %q", q.Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"results": [
				{"id": 1001, "status": "paid", "date_created": "2026-03-01T10:00:00Z", "total_amount": 150.5, "currency_id": "ARS", "buyer": {"id": 7, "nickname": "BUYER7"}},
				{"id": 1002, "status": "paid", "date_created": "2026-03-01T11:00:00Z", "total_amount": 99.9, "currency_id": "ARS", "buyer": {"id": 8, "nickname": "BUYER8"}}
			],
			"paging": {"total": 2, "offset": 0, "limit": 50}
		}`))
	}))
	defer srv.Close()

	c := NewResourceClientWithBaseURL(srv.URL)
	orders, err := c.SearchOrders(context.Background(), "token-1", "123456", PageParams{Limit: 500})
	if err != nil {
		t.Fatalf("search orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != 1001 || orders[0].Buyer.Nickname != "BUYER7" {
		t.Fatalf("bad decode: %+v", orders[0])
	}
}

func TestSearchQuestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("seller_id") != "123456" || q.Get("status") != "UNANSWERED" {
			t.Fatalf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"questions": [{"id": 5, "text": "Is it new?", "status": "UNANSWERED", "item_id": "MLA1", "date_created": "2026-03-01T10:00:00Z", "from": {"id": 9}}],
			"total": 1
		}`))
	}))
	defer srv.Close()

	c := NewResourceClientWithBaseURL(srv.URL)
	questions, err := c.SearchQuestions(context.Background(), "token-1", "123456", PageParams{})
	if err != nil {
		t.Fatalf("search questions: %v", err)
	}
	if len(questions) != 1 || questions[0].Text != "Is it new?" {
		t.Fatalf("bad decode: %+v", questions)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		auth   bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, auth: true},
		{name: "forbidden", status: http.StatusForbidden, auth: true},
		{name: "server error", status: http.StatusInternalServerError, auth: false},
		{name: "rate limited", status: http.StatusTooManyRequests, auth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message": "nope"}`))
			}))
			defer srv.Close()

			c := NewResourceClientWithBaseURL(srv.URL)
			_, err := c.SearchOrders(context.Background(), "t", "1", PageParams{})
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Fatalf("expected APIError %d, got %v", tt.status, err)
			}
			if IsAuthError(err) != tt.auth {
				t.Fatalf("IsAuthError = %v, want %v", !tt.auth, tt.auth)
			}
		})
	}

	if IsAuthError(errors.New("plain network error")) {
		t.Fatal("non-API errors are never auth errors")
	}
}

func TestPageParamsClamp(t *testing.T) {
	tests := []struct {
		name string
		in   PageParams
		want PageParams
	}{
		{name: "zero gets default", in: PageParams{}, want: PageParams{Limit: MaxPageSize}},
		{name: "over cap clamped", in: PageParams{Limit: 200, Offset: 10}, want: PageParams{Limit: MaxPageSize, Offset: 10}},
		{name: "under cap kept", in: PageParams{Limit: 20}, want: PageParams{Limit: 20}},
		{name: "negative offset reset", in: PageParams{Limit: 20, Offset: -5}, want: PageParams{Limit: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFetchIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 123456, "nickname": "TESTSELLER", "email": "seller@example.com"}`))
	}))
	defer srv.Close()

	c := NewOAuthClientWithEndpoints(srv.URL+"/authorization", srv.URL+"/oauth/token", srv.URL)
	id, err := c.FetchIdentity(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("fetch identity: %v", err)
	}
	if id.MarketplaceUserID != "123456" || id.Nickname != "TESTSELLER" {
		t.Fatalf("bad identity: %+v", id)
	}
}
