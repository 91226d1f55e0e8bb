// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// imagemanip starts an HTTP server that transforms images requested with
// signed transform URLs.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"willnorris.com/go/imagemanip"
	"willnorris.com/go/imagemanip/cache"
	"willnorris.com/go/imagemanip/internal/envy"
)

var addr = flag.String("addr", "localhost:8080", "TCP address to listen on")
var origin = flag.String("origin", ".", "directory or http(s) base URL to serve original images from")
var backend = flag.String("backend", "imaging", "image processing backend (imaging or xdraw)")
var clientHints = flag.String("clientHints", "", "comma separated list of client hint headers to honor, or \"default\"")
var passRequestHeaders = flag.String("passRequestHeaders", "", "comma separated list of request headers to pass to the origin")
var metricsPath = flag.String("metrics", "/metrics", "path to serve prometheus metrics on, empty to disable")
var timeout = flag.Duration("timeout", 0, "time limit for fetching an image from the origin")
var maxPixels = flag.Int("maxPixels", 0, "largest source image in pixels, 0 for the default")
var verbose = flag.Bool("verbose", false, "print verbose logging messages")
var userAgent = flag.String("userAgent", "imagemanip", "user-agent used when fetching images from the origin")
var originCache cache.Tiered
var key signatureKey

func init() {
	flag.Var(&originCache, "cache", "location to cache original images, tiers separated by spaces")
	flag.Var(&key, "signatureKey", "HMAC key used to sign transform URLs, or file containing key prefixed with '@'")
}

func main() {
	if err := envy.Parse("IMAGEMANIP"); err != nil {
		log.Fatal(err)
	}
	flag.Parse()

	if len(key) == 0 {
		log.Fatal("a signature key is required")
	}

	engine, err := imagemanip.NewEngine(*backend)
	if err != nil {
		log.Fatal(err)
	}
	engine.MaxPixels = *maxPixels

	h, err := imagemanip.New(key, engine)
	if err != nil {
		log.Fatal(err)
	}
	h.ClientHints = parseClientHints(*clientHints)
	h.Verbose = *verbose

	next, err := newOrigin(*origin, originCache.Cache)
	if err != nil {
		log.Fatalf("error configuring origin: %v", err)
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: newRouter(h, next, *metricsPath),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("imagemanip listening on %s\n", server.Addr)
	log.Fatal(server.ListenAndServe())
}

func newRouter(h *imagemanip.Handler, next http.Handler, metrics string) *mux.Router {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	if metrics != "" {
		r.Handle(metrics, promhttp.Handler())
	}
	r.PathPrefix("/").Handler(h.Middleware(next))
	return r
}

// newOrigin returns the handler serving original images from s, which is
// either an http(s) base URL or a local directory.
func newOrigin(s string, c imagemanip.Cache) (http.Handler, error) {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, err
		}
		o := imagemanip.NewOrigin(u, nil, c)
		o.Timeout = *timeout
		o.UserAgent = *userAgent
		if *passRequestHeaders != "" {
			o.PassRequestHeaders = strings.Split(*passRequestHeaders, ",")
		}
		return o, nil
	}

	fi, err := os.Stat(s)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s)
	}
	return http.FileServer(http.Dir(s)), nil
}

// parseClientHints parses a comma separated list of header names.  The
// value "default" selects imagemanip.DefaultClientHints.
func parseClientHints(s string) []string {
	if s == "default" {
		return imagemanip.DefaultClientHints
	}
	var hints []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, http.CanonicalHeaderKey(h))
		}
	}
	return hints
}

// signatureKey is a flag.Value holding a signing key, read from a file if
// the value is prefixed with '@'.
type signatureKey []byte

func (k *signatureKey) String() string {
	if len(*k) == 0 {
		return ""
	}
	return "<redacted>"
}

func (k *signatureKey) Set(value string) error {
	b := []byte(value)
	if file, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		b, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("error reading signature file: %w", err)
		}
		b = []byte(strings.TrimRight(string(b), "\r\n"))
	}
	if len(b) == 0 {
		return imagemanip.ErrNoKey
	}
	*k = b
	return nil
}
