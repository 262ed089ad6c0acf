package token

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callscribe/internal/domain"
)

func TestFetchTokenSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tmp-123"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL, AuthToken: "jwt", TTL: 5 * time.Second}, slog.New(slog.DiscardHandler), nil)
	issued := time.Unix(1700000000, 0)
	client.now = func() time.Time { return issued }

	tok, err := client.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if tok.Value != "tmp-123" || tok.TTL != 5*time.Second || !tok.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if gotAuth != "Bearer jwt" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestFetchTokenErrorResponses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error json", http.StatusInternalServerError, `{"error":"AssemblyAI API key is not set"}`, "AssemblyAI API key is not set"},
		{"unauthorized", http.StatusUnauthorized, `{"error":"missing authorization token"}`, "status 401"},
		{"plain text", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"missing token", http.StatusOK, `{}`, "did not include a token"},
		{"invalid json", http.StatusOK, `not json`, "invalid response"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(Config{Endpoint: server.URL}, slog.New(slog.DiscardHandler), nil)
			_, err := client.FetchToken(context.Background())
			if !errors.Is(err, domain.ErrTokenFetchFailed) {
				t.Fatalf("expected ErrTokenFetchFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchTokenUnconfiguredEndpoint(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{}, slog.New(slog.DiscardHandler), nil)
	if _, err := client.FetchToken(context.Background()); !errors.Is(err, domain.ErrTokenFetchFailed) {
		t.Fatalf("expected ErrTokenFetchFailed, got %v", err)
	}
}

func TestFetchTokenTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(Config{Endpoint: url, Timeout: time.Second}, slog.New(slog.DiscardHandler), nil)
	if _, err := client.FetchToken(context.Background()); !errors.Is(err, domain.ErrTokenFetchFailed) {
		t.Fatalf("expected ErrTokenFetchFailed, got %v", err)
	}
}
