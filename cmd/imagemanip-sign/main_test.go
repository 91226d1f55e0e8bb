// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"willnorris.com/go/imagemanip"
)

func TestSign(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"
	const token = "/_/eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" +
		".eyJpbSI6WyIvZm90by5qcGciLCJyZXNpemUsMjAwfGZvcm1hdCx3ZWJwIl19" +
		".npTF3upmVVfMLQSTA5Yuq3zgad4FO7Fo3pmt_pEoP4s.webp"

	file := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(file, []byte(key+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, prefix, output string
	}{
		{key, "", token},
		{"@" + file, "", token},
		{key, "/subdirectory/of/images", "/subdirectory/of/images" + token},
		{key, "/subdirectory/of/images/", "/subdirectory/of/images" + token},
	}

	for _, tt := range tests {
		got, err := sign(tt.key, tt.prefix, "/foto.jpg", "resize,200|format,webp")
		if err != nil {
			t.Errorf("sign(%q, %q) returned error: %v", tt.key, tt.prefix, err)
			continue
		}
		if got != tt.output {
			t.Errorf("sign(%q, %q) returned %q, want %q", tt.key, tt.prefix, got, tt.output)
		}
	}
}

func TestSign_Errors(t *testing.T) {
	if _, err := sign("key", "", "", "resize,10"); err == nil {
		t.Errorf("sign without path did not return expected error")
	}
	if _, err := sign("@/nonexistent/key", "", "/a.jpg", ""); err == nil {
		t.Errorf("sign with missing key file did not return expected error")
	}
	if _, err := sign("", "", "/a.jpg", ""); !errors.Is(err, imagemanip.ErrNoKey) {
		t.Errorf("sign with empty key returned error %v, want ErrNoKey", err)
	}
}
