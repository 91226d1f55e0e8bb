// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gregjones/httpcache"
)

func TestNopCache(t *testing.T) {
	data, ok := NopCache.Get("foo")
	if data != nil {
		t.Errorf("NopCache.Get returned non-nil data")
	}
	if ok != false {
		t.Errorf("NopCache.Get returned ok = true, should always be false.")
	}

	// nothing to test on these methods other than to verify they exist
	NopCache.Set("", []byte{})
	NopCache.Delete("")
}

// testTransport serves canned responses and records the requests it saw.
type testTransport struct {
	requests []*http.Request
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req)

	var raw string
	switch req.URL.Path {
	case "/images/plain":
		raw = "HTTP/1.1 200 OK\n\n"
	case "/images/error":
		return nil, errors.New("http protocol error")
	case "/images/cached.png":
		raw = "HTTP/1.1 200 OK\nCache-Control: max-age=3600\nContent-Type: image/png\nContent-Length: 4\n" +
			"Date: " + time.Now().UTC().Format(http.TimeFormat) + "\n\ndata"
	case "/images/png":
		m := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		img := new(bytes.Buffer)
		png.Encode(img, m)

		raw = fmt.Sprintf("HTTP/1.1 200 OK\nContent-Length: %d\nContent-Type: image/png\nX-Internal: secret\n\n%s", len(img.Bytes()), img.Bytes())
	default:
		raw = "HTTP/1.1 404 Not Found\n\n"
	}

	buf := bufio.NewReader(bytes.NewBufferString(raw))
	return http.ReadResponse(buf, req)
}

func newTestOrigin(t *testing.T, cache Cache) (*Origin, *testTransport) {
	t.Helper()
	base, err := url.Parse("http://origin.test/images/")
	if err != nil {
		t.Fatal(err)
	}
	tt := new(testTransport)
	o := NewOrigin(base, tt, cache)
	o.Logger = log.New(io.Discard, "", 0)
	return o, tt
}

func TestOrigin_ServeHTTP(t *testing.T) {
	o, _ := newTestOrigin(t, nil)

	tests := []struct {
		method, url string
		code        int
	}{
		{"GET", "/png", http.StatusOK},
		{"HEAD", "/png", http.StatusOK},
		{"GET", "/plain", http.StatusOK},
		{"GET", "/missing", http.StatusNotFound},
		{"GET", "/error", http.StatusBadGateway},
		{"POST", "/png", http.StatusMethodNotAllowed},
		{"GET", "/a/../../secret", http.StatusBadRequest},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "http://localhost"+tt.url, nil)
		req.URL.Path = tt.url // keep dot segments that NewRequest would clean
		resp := httptest.NewRecorder()
		o.ServeHTTP(resp, req)

		if got, want := resp.Code, tt.code; got != want {
			t.Errorf("ServeHTTP(%s %q) returned status %d, want %d", tt.method, tt.url, got, want)
		}
	}
}

func TestOrigin_Headers(t *testing.T) {
	o, tt := newTestOrigin(t, nil)
	o.PassRequestHeaders = []string{"Referer"}
	o.UserAgent = "imagemanip-test"

	req := httptest.NewRequest("GET", "/png?v=2", nil)
	req.Header.Set("Referer", "http://example.com/")
	req.Header.Set("Cookie", "session=1")
	resp := httptest.NewRecorder()
	o.ServeHTTP(resp, req)

	if len(tt.requests) != 1 {
		t.Fatalf("origin received %d requests, want 1", len(tt.requests))
	}
	got := tt.requests[0]
	if want := "http://origin.test/images/png?v=2"; got.URL.String() != want {
		t.Errorf("origin request URL %q, want %q", got.URL, want)
	}
	if got.Header.Get("Referer") != "http://example.com/" {
		t.Errorf("Referer header not passed to origin")
	}
	if got.Header.Get("Cookie") != "" {
		t.Errorf("Cookie header passed to origin")
	}
	if got.Header.Get("User-Agent") != "imagemanip-test" {
		t.Errorf("origin request User-Agent %q, want %q", got.Header.Get("User-Agent"), "imagemanip-test")
	}

	if got, want := resp.Header().Get("Content-Type"), "image/png"; got != want {
		t.Errorf("response Content-Type %q, want %q", got, want)
	}
	if got := resp.Header().Get("X-Internal"); got != "" {
		t.Errorf("response passed through origin header X-Internal: %q", got)
	}
}

func TestOrigin_Cache(t *testing.T) {
	o, tt := newTestOrigin(t, httpcache.NewMemoryCache())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/cached.png", nil)
		resp := httptest.NewRecorder()
		o.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK || resp.Body.String() != "data" {
			t.Errorf("request %d returned (%d, %q), want (200, %q)", i, resp.Code, resp.Body.String(), "data")
		}
	}

	if got := len(tt.requests); got != 1 {
		t.Errorf("origin received %d requests, want 1", got)
	}
}

func TestOrigin_RemoteURL(t *testing.T) {
	tests := []struct {
		base, path, query string
		want              string
		wantErr           bool
	}{
		{"http://a.test", "/b.jpg", "", "http://a.test/b.jpg", false},
		{"http://a.test/", "/b.jpg", "", "http://a.test/b.jpg", false},
		{"http://a.test/img", "/b.jpg", "", "http://a.test/img/b.jpg", false},
		{"http://a.test/img/", "b.jpg", "x=1", "http://a.test/img/b.jpg?x=1", false},
		{"http://a.test/img/", "/sub/..jpg", "", "http://a.test/img/sub/..jpg", false},
		{"http://a.test/img/", "/sub/../b.jpg", "", "", true},
	}

	for _, tt := range tests {
		base, _ := url.Parse(tt.base)
		o := &Origin{BaseURL: base}
		got, err := o.remoteURL(&url.URL{Path: tt.path, RawQuery: tt.query})
		if (err != nil) != tt.wantErr {
			t.Errorf("remoteURL(%q, %q) returned error %v, wantErr %v", tt.base, tt.path, err, tt.wantErr)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("remoteURL(%q, %q) returned %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}

	if _, err := new(Origin).remoteURL(&url.URL{Path: "/a"}); err == nil {
		t.Errorf("remoteURL without base URL did not return expected error")
	}
}

// Test a full pipeline: signed URL through Handler to Origin.
func TestOrigin_Middleware(t *testing.T) {
	o, _ := newTestOrigin(t, nil)
	h := newTestHandler(t, testEngine())
	srv := httptest.NewServer(h.Middleware(o))
	defer srv.Close()

	u := signedURL(t, "/png", "format,gif")
	req, _ := http.NewRequest("GET", srv.URL+u, nil)
	req.Header.Set("Accept", "image/*")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("error making request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("response status %d, want 200", resp.StatusCode)
	}
	if got, want := resp.Header.Get("Content-Type"), "image/gif"; got != want {
		t.Errorf("response Content-Type %q, want %q", got, want)
	}
	if _, format, err := image.DecodeConfig(resp.Body); err != nil || format != "gif" {
		t.Errorf("response image format %q (err %v), want gif", format, err)
	}
}
