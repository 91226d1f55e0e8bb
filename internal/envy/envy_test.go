// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package envy

import (
	"flag"
	"io"
	"strings"
	"testing"
	"time"
)

func TestEnvVar(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"IMAGEMANIP", "addr", "IMAGEMANIP_ADDR"},
		{"IMAGEMANIP", "signatureKey", "IMAGEMANIP_SIGNATUREKEY"},
		{"IMAGEMANIP", "client-hints", "IMAGEMANIP_CLIENT_HINTS"},
	}
	for _, tt := range tests {
		if got := EnvVar(tt.prefix, tt.name); got != tt.want {
			t.Errorf("EnvVar(%q, %q) returned %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestParseFlagSet(t *testing.T) {
	env := map[string]string{
		"TEST_ADDR":    ":9000",
		"TEST_TIMEOUT": "5s",
		"TEST_VERBOSE": "true",
		"TEST_BACKEND": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", "localhost:8080", "address")
	timeout := fs.Duration("timeout", 0, "timeout")
	verbose := fs.Bool("verbose", false, "verbose")
	backend := fs.String("backend", "imaging", "backend")

	// explicitly set flags win over the environment
	if err := fs.Parse([]string{"-timeout", "1s"}); err != nil {
		t.Fatal(err)
	}
	if err := ParseFlagSet("TEST", fs, lookup); err != nil {
		t.Fatalf("ParseFlagSet returned error: %v", err)
	}

	if *addr != ":9000" {
		t.Errorf("addr = %q, want %q", *addr, ":9000")
	}
	if *timeout != time.Second {
		t.Errorf("timeout = %v, want %v", *timeout, time.Second)
	}
	if !*verbose {
		t.Errorf("verbose = false, want true")
	}
	if *backend != "imaging" {
		t.Errorf("backend = %q, want default %q", *backend, "imaging")
	}
	if u := fs.Lookup("addr").Usage; !strings.HasSuffix(u, "[TEST_ADDR]") {
		t.Errorf("addr usage %q does not name its environment variable", u)
	}
}

func TestParseFlagSet_Invalid(t *testing.T) {
	lookup := func(k string) (string, bool) { return "not-a-duration", true }
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("timeout", 0, "timeout")

	if err := ParseFlagSet("TEST", fs, lookup); err == nil {
		t.Errorf("ParseFlagSet with invalid value did not return expected error")
	}
}
