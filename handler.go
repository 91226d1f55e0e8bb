// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package imagemanip provides an HTTP middleware that transforms images
// described by signed URLs.
//
// A transform URL carries the path of the original image and a transform
// spec in an HS256 token following BaseMarker:
//
//	/any/base/path/_/<token>.png
//
// The middleware verifies the token, rewrites the request to
// /any/base/path/<image path> and transforms the downstream response.  URLs
// are built with Encode or a Signer.  For a complete server, see
// cmd/imagemanip/main.go.
package imagemanip // import "willnorris.com/go/imagemanip"

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
)

// DefaultClientHints are the client hint headers forwarded to the
// Transformer when hints are enabled without an explicit list.
var DefaultClientHints = []string{"Dpr", "Viewport-Width", "Width"}

// Handler transforms images requested with signed transform URLs.  A
// Handler is immutable once constructed and safe for concurrent use.
type Handler struct {
	Signer *Signer

	// Transformer applies transform specs.  If nil, an Engine with the
	// default backend is used.
	Transformer Transformer

	// ClientHints lists the request headers passed to the Transformer and
	// advertised in Accept-CH.  An empty list disables client hints.
	ClientHints []string

	// Logger is used to log transform requests.  If nil, log.Default is used.
	Logger *log.Logger

	// Verbose enables logging of every transform request.
	Verbose bool
}

// New constructs a Handler verifying URLs with key.  If t is nil, an Engine
// with the default backend is used.
func New(key []byte, t Transformer) (*Handler, error) {
	s, err := NewSigner(key)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = &Engine{}
	}
	return &Handler{Signer: s, Transformer: t}, nil
}

// URL returns the signed URL path for the image at path transformed by
// transform, using the handler's key.
func (h *Handler) URL(path, transform string) (string, error) {
	return h.Signer.URL(path, transform)
}

// Middleware returns an http.Handler running h in front of next.  Errors
// returned by Process are logged and answered with a 500 response.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Process(w, r, next); err != nil {
			h.logf("error transforming %q: %v", r.URL.Path, err)
			http.Error(w, "error transforming image", http.StatusInternalServerError)
		}
	})
}

// Process serves r with next, transforming the response if r carries a
// valid transform URL and accepts images.  Requests without one are
// passed to next unchanged.  An error from the Transformer is returned
// without anything having been written to w.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	if !acceptsImage(r) {
		next.ServeHTTP(w, r)
		return nil
	}

	p, err := h.decode(r.URL.Path)
	if err != nil {
		var terr TokenError
		if errors.As(err, &terr) {
			tokensRejected.Inc()
			if h.Verbose {
				h.logf("%v: %q", terr, r.URL.Path)
			}
		}
		next.ServeHTTP(w, r)
		return nil
	}

	req := r.Clone(r.Context())
	req.URL.Path = p.Path
	req.URL.RawPath = ""
	req.RequestURI = req.URL.RequestURI()

	rec := newResponseBuffer()
	next.ServeHTTP(rec, req)

	if len(h.ClientHints) > 0 {
		rec.header.Set("Accept-CH", strings.Join(h.ClientHints, ","))
	}

	if rec.status == http.StatusOK && rec.body.Len() > 1 {
		t := h.Transformer
		if t == nil {
			t = &Engine{}
		}
		hints := h.clientHints(r)
		img, err := t.Transform(rec.body.Bytes(), p.Transform, hints)
		if err != nil {
			transformErrors.Inc()
			return err
		}
		if h.Verbose {
			h.logf("transformed %q with %q (%d bytes)", p.Path, p.Transform, len(img.Bytes))
		}

		rec.body = bytes.NewBuffer(img.Bytes)
		rec.header.Set("Content-Type", img.ContentType)
		rec.header.Set("Content-Length", strconv.Itoa(len(img.Bytes)))
		if len(hints) > 0 {
			names := make([]string, len(hints))
			for i, hint := range hints {
				names[i] = hint.Name
			}
			rec.header.Add("Vary", strings.Join(names, ", "))
		}
	}

	rec.replay(w)
	return nil
}

func (h *Handler) decode(urlPath string) (Payload, error) {
	if h.Signer == nil {
		return Payload{}, ErrNoKey
	}
	return decode(urlPath, h.Signer.key)
}

// clientHints returns the configured client hints present on r, in
// configuration order.
func (h *Handler) clientHints(r *http.Request) []Hint {
	var hints []Hint
	for _, name := range h.ClientHints {
		if v := r.Header.Values(name); len(v) > 0 {
			hints = append(hints, Hint{Name: name, Value: strings.Join(v, ",")})
		}
	}
	return hints
}

func (h *Handler) logf(format string, v ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// acceptsImage reports whether r accepts an image response.
func acceptsImage(r *http.Request) bool {
	return strings.Contains(strings.Join(r.Header.Values("Accept"), ","), "image/")
}

// responseBuffer is an http.ResponseWriter that holds a response in memory
// until it is replayed on another ResponseWriter.
type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        *bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{
		header: make(http.Header),
		status: http.StatusOK,
		body:   new(bytes.Buffer),
	}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

// replay writes the buffered response to w.
func (b *responseBuffer) replay(w http.ResponseWriter) {
	copyHeader(w.Header(), b.header)
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// copyHeader copies header values from src to dst, adding to any existing
// values with the same header name.  If keys is not empty, only those
// headers will be copied.
func copyHeader(dst, src http.Header, keys ...string) {
	if len(keys) == 0 {
		for k := range src {
			keys = append(keys, k)
		}
	}
	for _, key := range keys {
		k := http.CanonicalHeaderKey(key)
		for _, v := range src[k] {
			dst.Add(k, v)
		}
	}
}
