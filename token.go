// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// BaseMarker separates an arbitrary base path from the signed part of
	// a transform URL.  Base paths must not contain the marker themselves;
	// the first occurrence always wins.
	BaseMarker = "/_/"

	// ChunkSize is the maximum width of a token slice between two "/"
	// separators in an encoded URL.
	ChunkSize = 200

	// DataClaim is the claim holding the [path, transform] pair.
	DataClaim = "im"
)

// ErrNoKey is returned when a URL is requested without a signing key.
var ErrNoKey = errors.New("imagemanip: no signature key provided")

// TokenError reports a transform token that could not be parsed or verified.
type TokenError struct {
	Message string
	Err     error
}

func (e TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid transform token: %s: %v", e.Message, e.Err)
	}
	return "invalid transform token: " + e.Message
}

func (e TokenError) Unwrap() error { return e.Err }

// Payload is the data recovered from a signed transform URL.
type Payload struct {
	Prefix    string // base path that preceded BaseMarker, possibly empty
	Path      string // path of the original image, including Prefix
	Transform string // transform spec to apply to the image
}

type claims struct {
	Data []string `json:"im"`
	jwt.RegisteredClaims
}

var signingMethod = jwt.SigningMethodHS256

// Encode returns the URL path for the image at path transformed by
// transform, signed with key.  The returned value begins with BaseMarker and
// may be appended to any base path.
func Encode(path, transform string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrNoKey
	}

	s, err := signClaims(claims{Data: []string{path, transform}}, key)
	if err != nil {
		return "", fmt.Errorf("error signing transform token: %w", err)
	}

	u := BaseMarker + chunk(s)
	if ext := extension(path, transform); ext != "" {
		u += "." + ext
	}
	return u, nil
}

func signClaims(c claims, key []byte) (string, error) {
	return jwt.NewWithClaims(signingMethod, c).SignedString(key)
}

// Decode extracts the transform payload from urlPath.  It reports false if
// urlPath is not a transform URL or carries a token that was not signed
// with key.
func Decode(urlPath string, key []byte) (Payload, bool) {
	p, err := decode(urlPath, key)
	return p, err == nil
}

// errNoMarker is returned by decode for paths that are not transform URLs.
var errNoMarker = errors.New("no base marker")

func decode(urlPath string, key []byte) (Payload, error) {
	prefix, tail, ok := strings.Cut(urlPath, BaseMarker)
	if !ok {
		return Payload{}, errNoMarker
	}
	if len(key) == 0 {
		return Payload{}, TokenError{Message: "no signature key"}
	}

	// token is the first three dot-separated parts, the extension follows
	parts := strings.SplitN(strings.ReplaceAll(tail, "/", ""), ".", 4)
	if len(parts) < 3 {
		return Payload{}, TokenError{Message: "too few token segments"}
	}
	s := strings.Join(parts[:3], ".")

	c := new(claims)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{signingMethod.Alg()}))
	_, err := parser.ParseWithClaims(s, c, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return Payload{}, TokenError{Message: "verification failed", Err: err}
	}
	if len(c.Data) != 2 {
		return Payload{}, TokenError{Message: fmt.Sprintf("%q claim must hold 2 values, got %d", DataClaim, len(c.Data))}
	}

	return Payload{
		Prefix:    prefix,
		Path:      joinPrefix(prefix, c.Data[0]),
		Transform: c.Data[1],
	}, nil
}

// chunk splits s into ChunkSize slices joined by "/".  A slice never starts
// with ".", so token boundaries survive as ordinary path segments.
func chunk(s string) string {
	var b strings.Builder
	for len(s) > ChunkSize {
		b.WriteString(s[:ChunkSize])
		b.WriteByte('/')
		s = s[ChunkSize:]
	}
	b.WriteString(s)
	return strings.ReplaceAll(b.String(), "/.", "./")
}

// extension returns the file extension for the transformed image: the last
// format operation in transform, or else the extension of p.
func extension(p, transform string) string {
	const op = "format,"
	if i := strings.LastIndex(transform, op); i >= 0 {
		v := transform[i+len(op):]
		if j := strings.IndexAny(v, ",|"); j >= 0 {
			v = v[:j]
		}
		return v
	}
	return strings.TrimPrefix(path.Ext(p), ".")
}

// joinPrefix joins prefix and p with a single separator.  p is returned
// unchanged if there is no prefix.
func joinPrefix(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(p, "/")
}

// Signer binds a signing key for building and reading transform URLs.  It is
// safe for concurrent use.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for key.  ErrNoKey is returned if key is empty.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// URL returns the signed URL path for the image at path transformed by transform.
func (s *Signer) URL(path, transform string) (string, error) {
	if s == nil {
		return "", ErrNoKey
	}
	return Encode(path, transform, s.key)
}

// Decode extracts the transform payload from urlPath.
func (s *Signer) Decode(urlPath string) (Payload, bool) {
	if s == nil {
		return Payload{}, false
	}
	return Decode(urlPath, s.key)
}
