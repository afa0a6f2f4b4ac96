// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("qbtsync/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// IsDev reports whether this is an unreleased build.
func IsDev() bool {
	return Version == "dev" || strings.HasSuffix(Version, "-dev")
}

func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version: %s\n", Version)
	fmt.Fprintf(&b, "Commit: %s\n", Commit)
	fmt.Fprintf(&b, "Build date: %s\n", Date)
	return b.String()
}

func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
