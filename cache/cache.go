// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package cache builds origin image caches from textual descriptions, as
// given on the command line or in a Caddyfile.
//
// Supported forms are:
//
//	memory                       in-memory LRU cache of 100 MB
//	memory:<MB>[:<maxAge>]       in-memory LRU cache with size and max age
//	/path, file:///path          on-disk cache
//	file:///path?ttl=24h         on-disk cache whose entries expire
//	redis://host:port            redis (password from REDIS_PASSWORD)
//	s3://region/bucket/prefix    Amazon S3 or compatible service
//	gcs://bucket/prefix          Google Cloud Storage
//	azure://container            Azure blob storage
package cache

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gomodule/redigo/redis"
	"github.com/gregjones/httpcache/diskcache"
	rediscache "github.com/gregjones/httpcache/redis"
	"github.com/peterbourgon/diskv"
	"willnorris.com/go/imagemanip"
	"willnorris.com/go/imagemanip/internal/gcscache"
	"willnorris.com/go/imagemanip/internal/s3cache"
	"willnorris.com/go/imagemanip/internal/ttldiskcache"
)

const defaultMemorySize = 100

// Parse returns the cache described by s.  An empty s returns a nil Cache.
func Parse(s string) (imagemanip.Cache, error) {
	if s == "" {
		return nil, nil
	}

	if s == "memory" {
		s = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		return gcscache.New(context.Background(), u.Host, strings.TrimPrefix(u.Path, "/"))
	case "memory":
		return lruCache(u.Opaque)
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		return s3cache.New(u.String())
	case "file":
		if ttl := u.Query().Get("ttl"); ttl != "" {
			d, err := time.ParseDuration(ttl)
			if err != nil {
				return nil, fmt.Errorf("invalid ttl %q: %w", ttl, err)
			}
			return ttldiskcache.New(u.Path, d), nil
		}
		return diskCache(u.Path), nil
	default:
		return diskCache(s), nil
	}
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}

// Tiered is a flag.Value holding one or more caches separated by spaces.
// Each additional cache becomes a slower tier behind the previous ones,
// using the twotier package.
type Tiered struct {
	imagemanip.Cache
	specs []string
}

func (t *Tiered) String() string {
	return strings.Join(t.specs, " ")
}

// Set adds the caches described in value as new tiers.
func (t *Tiered) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := Parse(v)
		if err != nil {
			return err
		}
		t.specs = append(t.specs, v)

		if t.Cache == nil {
			t.Cache = c
		} else {
			t.Cache = twotier.New(t.Cache, c)
		}
	}
	return nil
}
