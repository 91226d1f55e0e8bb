// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache stores original images fetched from an origin on Amazon
// S3 or an S3-compatible service, with optional expiry.
package s3cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"willnorris.com/go/imagemanip/internal/cachekey"
)

type entry struct {
	Data    []byte    `json:"data"`
	Expires time.Time `json:"expires,omitempty"`
}

// Cache is an imagemanip.Cache backed by an S3 bucket.
type Cache struct {
	client s3iface.S3API
	bucket string
	prefix string

	// TTL is how long entries remain valid.  Zero means no expiry.
	TTL time.Duration

	now func() time.Time
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	name := cachekey.Object(c.prefix, key)
	resp, err := c.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.Code() != s3.ErrCodeNoSuchKey {
			log.Printf("error fetching %s from s3: %v", name, err)
		}
		return nil, false
	}
	defer resp.Body.Close()

	var e entry
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		log.Printf("error decoding s3 cache entry %s: %v", name, err)
		return nil, false
	}
	if !e.Expires.IsZero() && c.now().After(e.Expires) {
		c.Delete(key)
		return nil, false
	}
	return e.Data, true
}

// Set stores value at key.
func (c *Cache) Set(key string, value []byte) {
	e := entry{Data: value}
	if c.TTL > 0 {
		e.Expires = c.now().Add(c.TTL)
	}
	b, err := json.Marshal(e)
	if err != nil {
		log.Printf("error encoding s3 cache entry: %v", err)
		return
	}

	name := cachekey.Object(c.prefix, key)
	_, err = c.client.PutObject(&s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(b)),
		Bucket: aws.String(c.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		log.Printf("error writing %s to s3: %v", name, err)
	}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	name := cachekey.Object(c.prefix, key)
	_, err := c.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		log.Printf("error deleting %s from s3: %v", name, err)
	}
}

// New constructs a Cache configured using the provided URL string, of the
// form "s3://region/bucket/optional-path-prefix".  The query parameters
// endpoint, disableSSL=1 and s3ForcePathStyle=1 configure S3-compatible
// services; ttl sets an expiry duration such as "24h".  Credentials are
// read using the mechanisms supported by aws-sdk-go.
func New(s string) (*Cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("s3cache: unsupported URL scheme %q", u.Scheme)
	}

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if bucket == "" {
		return nil, errors.New("s3cache: missing bucket name")
	}

	q := u.Query()
	config := aws.NewConfig().WithRegion(u.Host)
	if v := q.Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if q.Get("disableSSL") == "1" {
		config = config.WithDisableSSL(true)
	}
	if q.Get("s3ForcePathStyle") == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	var ttl time.Duration
	if v := q.Get("ttl"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("s3cache: invalid ttl: %w", err)
		}
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	c := newCache(s3.New(sess), bucket, prefix)
	c.TTL = ttl
	return c, nil
}

func newCache(client s3iface.S3API, bucket, prefix string) *Cache {
	return &Cache{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}
