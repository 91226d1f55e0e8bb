// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package ttldiskcache stores original images on local disk, discarding
// entries older than a fixed time to live.
package ttldiskcache

import (
	"bytes"
	"encoding/gob"
	"log"
	"time"

	"github.com/peterbourgon/diskv"
	"willnorris.com/go/imagemanip/internal/cachekey"
)

type entry struct {
	Data    []byte
	Expires time.Time
}

// Cache is an imagemanip.Cache storing entries in a diskv store.  Each entry
// is a single file holding both the data and its expiry time.
type Cache struct {
	d   *diskv.Diskv
	ttl time.Duration
	now func() time.Time
}

// New creates a Cache under basePath.  Entries expire ttl after they were
// set; a ttl of zero disables expiry.
func New(basePath string, ttl time.Duration) *Cache {
	d := diskv.New(diskv.Options{
		BasePath: basePath,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return &Cache{d: d, ttl: ttl, now: time.Now}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	name := cachekey.Filename(key)
	b, err := c.d.Read(name)
	if err != nil {
		return nil, false
	}

	var e entry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		log.Printf("error decoding disk cache entry %s: %v", name, err)
		return nil, false
	}
	if c.expired(e) {
		c.Delete(key)
		return nil, false
	}
	return e.Data, true
}

// Set stores value at key.
func (c *Cache) Set(key string, value []byte) {
	e := entry{Data: value}
	if c.ttl > 0 {
		e.Expires = c.now().Add(c.ttl)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		log.Printf("error encoding disk cache entry: %v", err)
		return
	}
	if err := c.d.Write(cachekey.Filename(key), buf.Bytes()); err != nil {
		log.Printf("error writing disk cache entry: %v", err)
	}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	_ = c.d.Erase(cachekey.Filename(key))
}

// CleanupExpired removes all expired entries and returns how many were
// removed.
func (c *Cache) CleanupExpired() int {
	var names []string
	for name := range c.d.Keys(nil) {
		names = append(names, name)
	}

	var n int
	for _, name := range names {
		b, err := c.d.Read(name)
		if err != nil {
			continue
		}
		var e entry
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil || c.expired(e) {
			if err := c.d.Erase(name); err == nil {
				n++
			}
		}
	}
	return n
}

func (c *Cache) expired(e entry) bool {
	return !e.Expires.IsZero() && c.now().After(e.Expires)
}
