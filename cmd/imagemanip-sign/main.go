// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// The imagemanip-sign tool creates signed transform URLs for an image path,
// a transform spec and a signing key.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"willnorris.com/go/imagemanip"
	"willnorris.com/go/imagemanip/internal/envy"
)

var signingKey = flag.String("key", "@/etc/imagemanip.key", "signing key, or file containing key prefixed with '@'")
var prefix = flag.String("prefix", "", "base path to prepend to the signed URL")

func main() {
	if err := envy.Parse("IMAGEMANIP"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	flag.Parse()

	u, err := sign(*signingKey, *prefix, flag.Arg(0), flag.Arg(1))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println(u)
}

func sign(key, prefix, path, transform string) (string, error) {
	if path == "" {
		return "", errors.New("usage: imagemanip-sign [-key key] [-prefix path] <image path> <transform>")
	}

	k, err := parseKey(key)
	if err != nil {
		return "", fmt.Errorf("error parsing key: %w", err)
	}

	u, err := imagemanip.Encode(path, transform, k)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(prefix, "/") + u, nil
}

func parseKey(s string) ([]byte, error) {
	if file, ok := strings.CutPrefix(s, "@"); ok {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimRight(string(b), "\r\n")), nil
	}
	return []byte(s), nil
}
