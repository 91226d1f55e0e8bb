// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package cachekey maps origin cache keys to storage-safe object names.
package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"path"
)

// Filename returns a fixed-length hex name for key.
func Filename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// Object returns the object name for key under prefix.
func Object(prefix, key string) string {
	return path.Join(prefix, Filename(key))
}
