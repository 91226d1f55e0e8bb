// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache stores original images fetched from an origin on Google
// Cloud Storage.
package gcscache

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"cloud.google.com/go/storage"
	"willnorris.com/go/imagemanip/internal/cachekey"
)

// opTimeout bounds every storage call made by the cache.
const opTimeout = 30 * time.Second

// objectHandle is the subset of *storage.ObjectHandle used by the cache.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

type bucketHandle interface {
	Object(name string) objectHandle
}

type gcsBucket struct {
	*storage.BucketHandle
}

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct {
	*storage.ObjectHandle
}

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.ObjectHandle.NewWriter(ctx)
}

// Cache is an imagemanip.Cache backed by a GCS bucket.
type Cache struct {
	bucket bucketHandle
	prefix string
}

// Get returns the cached value for key.  Empty objects are treated as
// misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Printf("error reading from gcs: %v", err)
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		log.Printf("error reading from gcs: %v", err)
		return nil, false
	}
	if len(value) == 0 {
		return nil, false
	}
	return value, true
}

// Set stores value at key.
func (c *Cache) Set(key string, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		log.Printf("error writing to gcs: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Printf("error closing gcs object writer: %v", err)
	}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		log.Printf("error deleting gcs object: %v", err)
	}
}

func (c *Cache) object(key string) objectHandle {
	return c.bucket.Object(cachekey.Object(c.prefix, key))
}

// New constructs a Cache storing objects in the specified GCS bucket.  If
// prefix is not empty, object names are prefixed with that path.
// Credentials are read from Application Default Credentials.
func New(ctx context.Context, bucket, prefix string) (*Cache, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return newCache(gcsBucket{client.Bucket(bucket)}, prefix), nil
}

func newCache(bucket bucketHandle, prefix string) *Cache {
	return &Cache{bucket: bucket, prefix: prefix}
}
