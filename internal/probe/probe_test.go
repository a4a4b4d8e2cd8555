package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNoWebsiteSkipsNetwork(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)
		return nil, errors.New("no network")
	})}
	p := New(WithHTTPClient(hc))
	for _, raw := range []string{"", "   "} {
		st := p.ProbeWebsite(context.Background(), raw)
		if st.Status != StatusNoWebsite || st.Accessible || st.StatusCode != nil {
			t.Fatalf("probe(%q) = %+v", raw, st)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"example.com":         "https://example.com",
		" example.com/path ":  "https://example.com/path",
		"http://example.com":  "http://example.com",
		"HTTPS://example.com": "HTTPS://example.com",
		"ftp.example.com":     "https://ftp.example.com",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBareHostProbesLikeHTTPS(t *testing.T) {
	var seen []string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = append(seen, r.URL.String())
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       io.NopCloser(strings.NewReader("<title>Acme</title>")),
			Request:    r,
		}, nil
	})}
	p := New(WithHTTPClient(hc))
	a := p.ProbeWebsite(context.Background(), "example.com")
	b := p.ProbeWebsite(context.Background(), "https://example.com")
	if len(seen) != 2 || seen[0] != seen[1] || seen[0] != "https://example.com" {
		t.Fatalf("expected identical https requests, got %v", seen)
	}
	if a.Status != b.Status || *a.Title != *b.Title {
		t.Fatalf("expected equivalent results: %+v vs %+v", a, b)
	}
}

func TestAccessibleWithTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Mozilla/5.0") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><head><TITLE> Acme </TITLE></head></html>"))
	}))
	defer srv.Close()
	st := New().ProbeWebsite(context.Background(), srv.URL)
	if st.Status != StatusAccessible || !st.Accessible {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.StatusCode == nil || *st.StatusCode != 200 {
		t.Fatalf("expected 200, got %v", st.StatusCode)
	}
	if st.Title == nil || *st.Title != "Acme" {
		t.Fatalf("expected title Acme, got %v", st.Title)
	}
	if st.Error != nil {
		t.Fatalf("expected no error, got %s", *st.Error)
	}
}

func TestTitleOnlyForHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("<title>Not a page</title>"))
	}))
	defer srv.Close()
	st := New().ProbeWebsite(context.Background(), srv.URL)
	if st.Status != StatusAccessible || st.Title != nil {
		t.Fatalf("expected accessible without title, got %+v", st)
	}
}

func TestNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	st := New().ProbeWebsite(context.Background(), srv.URL)
	if st.Status != StatusError || st.Accessible {
		t.Fatalf("expected error status, got %+v", st)
	}
	if st.StatusCode == nil || *st.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 code, got %v", st.StatusCode)
	}
	if st.Error == nil || *st.Error != "HTTP 404" {
		t.Fatalf("unexpected error text %v", st.Error)
	}
}

func TestRedirectRecordsFinalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	st := New().ProbeWebsite(context.Background(), srv.URL+"/old")
	if st.Status != StatusAccessible || st.FinalURL == nil || *st.FinalURL != srv.URL+"/new" {
		t.Fatalf("unexpected redirect result %+v", st)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	st := New(WithTimeout(50 * time.Millisecond)).ProbeWebsite(context.Background(), srv.URL)
	if st.Status != StatusTimeout || st.Accessible {
		t.Fatalf("expected timeout, got %+v", st)
	}
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()
	st := New(WithTimeout(2 * time.Second)).ProbeWebsite(context.Background(), addr)
	if st.Status != StatusConnectionError {
		t.Fatalf("expected connection_error, got %+v", st)
	}
}

func TestMalformedURLNeverPanics(t *testing.T) {
	p := New(WithTimeout(time.Second))
	for _, raw := range []string{"http://[::1", "https://exa mple.com", "%%%", "http://"} {
		st := p.ProbeWebsite(context.Background(), raw)
		if st.Status == StatusAccessible || st.Status == "" {
			t.Fatalf("probe(%q) = %+v", raw, st)
		}
		if st.Error == nil {
			t.Fatalf("probe(%q) should carry an error message", raw)
		}
	}
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"<title>Acme</title>", "Acme"},
		{"<title lang=\"en\">\n  Acme &amp; Sons\n</title>", "Acme & Sons"},
		{"<title>First</title><title>Second</title>", "First"},
	}
	for _, tc := range cases {
		got := ExtractTitle([]byte(tc.body))
		if got == nil || *got != tc.want {
			t.Errorf("ExtractTitle(%q) = %v, want %q", tc.body, got, tc.want)
		}
	}
	if ExtractTitle([]byte("<html></html>")) != nil {
		t.Fatalf("expected nil when no title")
	}
	if ExtractTitle([]byte("<title>  </title>")) != nil {
		t.Fatalf("expected nil for blank title")
	}
}
