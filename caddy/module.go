// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package caddy provides the imagemanip middleware as a Caddy module.
package caddy

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	caddy "github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap"
	"willnorris.com/go/imagemanip"
)

func init() {
	caddy.RegisterModule(ImageManip{})
	httpcaddyfile.RegisterHandlerDirective("imagemanip", parseCaddyfile)
}

// ImageManip transforms images requested with signed transform URLs before
// they are returned by the next handler in the chain.
type ImageManip struct {
	SignatureKey string   `json:"signature_key,omitempty"`
	ClientHints  []string `json:"client_hints,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	MaxPixels    int      `json:"max_pixels,omitempty"`
	Verbose      bool     `json:"verbose,omitempty"`

	logger  *zap.Logger
	handler *imagemanip.Handler
}

// interface guard
var (
	_ caddy.Provisioner           = (*ImageManip)(nil)
	_ caddyhttp.MiddlewareHandler = (*ImageManip)(nil)
)

// CaddyModule returns the Caddy module information.
func (ImageManip) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.imagemanip",
		New: func() caddy.Module { return new(ImageManip) },
	}
}

func (m *ImageManip) Provision(ctx caddy.Context) error {
	return m.provision(ctx.Logger())
}

func (m *ImageManip) provision(logger *zap.Logger) error {
	m.logger = logger
	if m.SignatureKey == "" {
		return errors.New("imagemanip: signature_key is required")
	}

	engine, err := imagemanip.NewEngine(m.Backend)
	if err != nil {
		return err
	}
	engine.MaxPixels = m.MaxPixels

	h, err := imagemanip.New([]byte(m.SignatureKey), engine)
	if err != nil {
		return err
	}
	h.ClientHints = m.ClientHints
	h.Logger = zap.NewStdLog(m.logger)
	h.Verbose = m.Verbose
	m.handler = h
	return nil
}

func (m *ImageManip) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	var nextErr error
	err := m.handler.Process(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextErr = next.ServeHTTP(w, r)
	}))
	if err != nil {
		m.logger.Error("error transforming image", zap.String("path", r.URL.Path), zap.Error(err))
		return caddyhttp.Error(http.StatusInternalServerError, err)
	}
	return nextErr
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	m := new(ImageManip)

	h.Next() // consume the directive name
	for nesting := h.Nesting(); h.NextBlock(nesting); {
		switch h.Val() {
		case "signature_key":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			m.SignatureKey = h.Val()
		case "client_hints":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			if h.Val() == "default" {
				m.ClientHints = imagemanip.DefaultClientHints
			} else {
				m.ClientHints = append(m.ClientHints, strings.Split(h.Val(), ",")...)
			}
		case "backend":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			m.Backend = h.Val()
		case "max_pixels":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			n, err := strconv.Atoi(h.Val())
			if err != nil {
				return nil, h.Errf("invalid max_pixels: %v", err)
			}
			m.MaxPixels = n
		case "verbose":
			if !h.NextArg() {
				return nil, h.ArgErr()
			}
			v, err := strconv.ParseBool(h.Val())
			if err != nil {
				return nil, h.Errf("invalid verbose: %v", err)
			}
			m.Verbose = v
		default:
			return nil, h.Errf("unknown imagemanip option %q", h.Val())
		}
	}
	return m, nil
}
