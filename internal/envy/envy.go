// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

// Package envy exposes environment variables for command line flags.
package envy

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Parse exposes an environment variable named PREFIX_FLAGNAME for every
// flag in flag.CommandLine.
func Parse(prefix string) error {
	return ParseFlagSet(prefix, flag.CommandLine, os.LookupEnv)
}

// ParseFlagSet sets each flag in fs that has not been set explicitly from
// the environment variable PREFIX_FLAGNAME, looked up with lookup.  Dashes
// in flag names become underscores.  The variable name is appended to the
// flag's usage text.
func ParseFlagSet(prefix string, fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		name := EnvVar(prefix, f.Name)
		if val, ok := lookup(name); ok && val != "" && !set[f.Name] {
			if serr := fs.Set(f.Name, val); serr != nil && err == nil {
				err = fmt.Errorf("invalid value %q for %s: %w", val, name, serr)
			}
		}
		f.Usage = fmt.Sprintf("%s [%s]", f.Usage, name)
	})
	return err
}

// EnvVar returns the environment variable name for flag name.
func EnvVar(prefix, name string) string {
	return strings.ReplaceAll(prefix+"_"+strings.ToUpper(name), "-", "_")
}
