// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package caddy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"
	"willnorris.com/go/imagemanip"
)

func TestParseCaddyfile(t *testing.T) {
	tests := []struct {
		input   string
		want    *ImageManip
		wantErr bool
	}{
		{
			input: `imagemanip {
				signature_key secret
				client_hints Dpr,Width
				backend xdraw
				max_pixels 1000
				verbose true
			}`,
			want: &ImageManip{
				SignatureKey: "secret",
				ClientHints:  []string{"Dpr", "Width"},
				Backend:      "xdraw",
				MaxPixels:    1000,
				Verbose:      true,
			},
		},
		{
			input: `imagemanip {
				signature_key secret
				client_hints default
			}`,
			want: &ImageManip{
				SignatureKey: "secret",
				ClientHints:  imagemanip.DefaultClientHints,
			},
		},
		{input: `imagemanip {
			signature_key
		}`, wantErr: true},
		{input: `imagemanip {
			max_pixels lots
		}`, wantErr: true},
		{input: `imagemanip {
			verbose maybe
		}`, wantErr: true},
		{input: `imagemanip {
			allow_hosts example.com
		}`, wantErr: true},
	}

	for _, tt := range tests {
		h := httpcaddyfile.Helper{Dispenser: caddyfile.NewTestDispenser(tt.input)}
		got, err := parseCaddyfile(h)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCaddyfile(%q) returned error %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseCaddyfile(%q) returned %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestProvision(t *testing.T) {
	if err := new(ImageManip).provision(zap.NewNop()); err == nil {
		t.Errorf("provision without signature key did not return expected error")
	}
	m := &ImageManip{SignatureKey: "secret", Backend: "magick"}
	if err := m.provision(zap.NewNop()); err == nil {
		t.Errorf("provision with unknown backend did not return expected error")
	}
}

type fakeTransformer struct{ err error }

func (f fakeTransformer) Transform([]byte, string, []imagemanip.Hint) (*imagemanip.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &imagemanip.Image{Bytes: []byte("transformed"), ContentType: "image/png"}, nil
}

func TestServeHTTP(t *testing.T) {
	m := &ImageManip{SignatureKey: "secret"}
	if err := m.provision(zap.NewNop()); err != nil {
		t.Fatalf("provision returned error: %v", err)
	}

	next := caddyhttp.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.URL.Path != "/foto.jpg" {
			return caddyhttp.Error(http.StatusNotFound, errors.New("not found"))
		}
		io.WriteString(w, "original")
		return nil
	})

	u, err := m.handler.URL("/foto.jpg", "resize,10")
	if err != nil {
		t.Fatal(err)
	}

	// transformed
	m.handler.Transformer = fakeTransformer{}
	req := httptest.NewRequest("GET", u, nil)
	req.Header.Set("Accept", "image/*")
	resp := httptest.NewRecorder()
	if err := m.ServeHTTP(resp, req, next); err != nil {
		t.Fatalf("ServeHTTP returned error: %v", err)
	}
	if got := resp.Body.String(); got != "transformed" {
		t.Errorf("response body %q, want %q", got, "transformed")
	}

	// next handler errors are returned
	req = httptest.NewRequest("GET", "/missing.jpg", nil)
	if err := m.ServeHTTP(httptest.NewRecorder(), req, next); err == nil {
		t.Errorf("ServeHTTP did not return next handler's error")
	}

	// transform errors become 500s
	m.handler.Transformer = fakeTransformer{err: errors.New("boom")}
	req = httptest.NewRequest("GET", u, nil)
	req.Header.Set("Accept", "image/*")
	err = m.ServeHTTP(httptest.NewRecorder(), req, next)
	var herr caddyhttp.HandlerError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusInternalServerError {
		t.Errorf("ServeHTTP returned error %v, want 500 HandlerError", err)
	}
}
