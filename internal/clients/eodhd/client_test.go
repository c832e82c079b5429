package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetDailyBars_StringFields(t *testing.T) {
	// AU exchange returns price/volume fields as strings
	mockResp := `[
		{"date": "2025-03-27", "open": "41.00", "high": "42.00", "low": "40.50", "close": "41.90", "adjusted_close": "41.90", "volume": "4000000"},
		{"date": "2025-03-28", "open": "42.10", "high": "43.50", "low": "41.80", "close": "43.25", "adjusted_close": "43.25", "volume": "5000000"}
	]`

	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		q := r.URL.Query()
		gotQuery = map[string]string{
			"order":     q.Get("order"),
			"period":    q.Get("period"),
			"from":      q.Get("from"),
			"to":        q.Get("to"),
			"fmt":       q.Get("fmt"),
			"api_token": q.Get("api_token"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0))
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC)

	bars, err := client.GetDailyBars(context.Background(), "BHP.AU", from, to)
	if err != nil {
		t.Fatalf("GetDailyBars failed: %v", err)
	}

	if gotPath != "/eod/BHP.AU" {
		t.Errorf("path = %s, want /eod/BHP.AU", gotPath)
	}
	want := map[string]string{
		"order": "a", "period": "d", "from": "2025-01-01", "to": "2025-03-28",
		"fmt": "json", "api_token": "test-key",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[1].Close != 43.25 {
		t.Errorf("close = %.2f, want 43.25", bars[1].Close)
	}
	if bars[1].Volume != 5000000 {
		t.Errorf("volume = %d, want 5000000", bars[1].Volume)
	}
	if !bars[0].Date.Before(bars[1].Date) {
		t.Errorf("bars not ascending: %v then %v", bars[0].Date, bars[1].Date)
	}
}

func TestGetDailyBars_SortsAndDeduplicates(t *testing.T) {
	mockResp := `[
		{"date": "2025-03-28", "open": 2, "high": 2, "low": 2, "close": 2, "volume": 20},
		{"date": "2025-03-27", "open": 1, "high": 1, "low": 1, "close": 1, "volume": 10},
		{"date": "2025-03-28", "open": 3, "high": 3, "low": 3, "close": 3, "volume": 30}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	bars, err := client.GetDailyBars(context.Background(), "X.US", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetDailyBars failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Close != 1 || bars[1].Close != 3 {
		t.Errorf("unexpected closes %v, %v", bars[0].Close, bars[1].Close)
	}
}

func TestGetDailyBars_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Ticker Not Found.", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := client.GetDailyBars(context.Background(), "NOPE.US", time.Time{}, time.Time{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if !apiErr.NotFound() {
		t.Errorf("expected NotFound, status %d", apiErr.StatusCode)
	}
	if apiErr.Temporary() {
		t.Error("404 should not be temporary")
	}
}

func TestGetDailyBars_Empty(t *testing.T) {
	for name, body := range map[string]string{"empty body": "", "empty array": "[]"} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
			_, err := client.GetDailyBars(context.Background(), "X.US", time.Time{}, time.Time{})
			if !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("expected ErrEmptyResponse, got %v", err)
			}
		})
	}
}

func TestGetDailyBars_ServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := client.GetDailyBars(context.Background(), "X.US", time.Time{}, time.Time{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("expected temporary APIError, got %v", err)
	}
}

func TestGetExchangeSymbols(t *testing.T) {
	mockResp := `[
		{"Code": "AAPL", "Name": "Apple Inc", "Country": "USA", "Exchange": "NASDAQ", "Currency": "USD", "Type": "Common Stock"},
		{"Code": "SPY", "Name": "SPDR S&P 500", "Country": "USA", "Exchange": "NYSE ARCA", "Currency": "USD", "Type": "ETF"}
	]`
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(mockResp))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0))
	symbols, err := client.GetExchangeSymbols(context.Background(), "US")
	if err != nil {
		t.Fatalf("GetExchangeSymbols failed: %v", err)
	}
	if gotPath != "/exchange-symbol-list/US" {
		t.Errorf("path = %s", gotPath)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(symbols))
	}
	if symbols[0].Type != "Common Stock" || symbols[0].Exchange != "NASDAQ" {
		t.Errorf("unexpected first symbol %+v", symbols[0])
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.GetDailyBars(ctx, "X.US", time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
