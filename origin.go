// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	aia "github.com/fcjr/aia-transport-go"
	"github.com/gregjones/httpcache"
)

// Cache provides a cache for original, untransformed images fetched from
// an origin.  Transformed images are never cached.
type Cache interface {
	// Get retrieves the cached data for the provided key.
	Get(key string) (data []byte, ok bool)

	// Set caches the provided data.
	Set(key string, data []byte)

	// Delete deletes the cached data at the specified key.
	Delete(key string)
}

// NopCache provides a no-op cache implementation that doesn't actually cache anything.
var NopCache = new(nopCache)

type nopCache struct{}

func (c nopCache) Get(string) ([]byte, bool) { return nil, false }
func (c nopCache) Set(string, []byte)        {}
func (c nopCache) Delete(string)             {}

// Origin is an http.Handler that serves original images from a remote
// server.  It is typically the next handler after a Handler.
type Origin struct {
	Client *http.Client // client used to fetch remote URLs
	Cache  Cache        // cache of original images

	// BaseURL is the URL that request paths are resolved against.
	BaseURL *url.URL

	// PassRequestHeaders lists the request headers forwarded to the origin.
	PassRequestHeaders []string

	// Timeout limits the time spent fetching an image from the origin.
	Timeout time.Duration

	// UserAgent is sent with requests to the origin, unless empty.
	UserAgent string

	Logger *log.Logger
}

// NewOrigin constructs a new Origin serving images from base.  The provided
// http RoundTripper will be used to fetch remote URLs.  If nil is provided, a
// transport that fetches missing intermediate certificates is used.
func NewOrigin(base *url.URL, transport http.RoundTripper, cache Cache) *Origin {
	if transport == nil {
		t, err := aia.NewTransport()
		if err != nil {
			log.Printf("error creating aia transport, using default: %v", err)
			transport = http.DefaultTransport
		} else {
			transport = t
		}
	}
	if cache == nil {
		cache = NopCache
	}

	client := &http.Client{
		Transport: &httpcache.Transport{
			Transport:           transport,
			Cache:               cache,
			MarkCachedResponses: true,
		},
	}

	return &Origin{
		Client:  client,
		Cache:   cache,
		BaseURL: base,
	}
}

// ServeHTTP fetches the image at the request path from the origin.
func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	u, err := o.remoteURL(r.URL)
	if err != nil {
		msg := fmt.Sprintf("invalid request URL: %v", err)
		o.logf("%s", msg)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	copyHeader(req.Header, r.Header, o.PassRequestHeaders...)
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}

	resp, err := o.Client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("error fetching remote image: %v", err)
		o.logf("%s", msg)
		http.Error(w, msg, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.Header.Get(httpcache.XFromCache) == "1" {
		originCacheHits.Inc()
	}

	copyHeader(w.Header(), resp.Header, "Cache-Control", "Last-Modified", "Expires", "Etag", "Link", "Content-Type", "Content-Length")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		o.logf("error copying response for %s: %v", u, err)
	}
}

// remoteURL resolves the request path against the origin base URL.  The
// query string is always part of the remote URL.
func (o *Origin) remoteURL(r *url.URL) (*url.URL, error) {
	if o.BaseURL == nil {
		return nil, fmt.Errorf("no origin base URL configured")
	}
	for _, seg := range strings.Split(r.Path, "/") {
		if seg == ".." {
			return nil, fmt.Errorf("path %q escapes the origin", r.Path)
		}
	}
	u := *o.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(r.Path, "/")
	u.RawPath = ""
	u.RawQuery = r.RawQuery
	u.Fragment = ""
	return &u, nil
}

func (o *Origin) logf(format string, v ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}
