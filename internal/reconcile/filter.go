// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FilterEnv is the environment exclusion expressions are evaluated against.
type FilterEnv struct {
	Hash           string
	Name           string
	Category       string
	SavePath       string
	DownloadPath   string
	State          string
	SeedingMinutes float64
	Progress       float64
}

func newFilterEnv(r TorrentRecord) FilterEnv {
	return FilterEnv{
		Hash:           r.Hash,
		Name:           r.Name,
		Category:       r.Category,
		SavePath:       r.SavePath,
		DownloadPath:   r.DownloadPath,
		State:          string(r.State),
		SeedingMinutes: r.SeedingTime.Minutes(),
		Progress:       r.Progress,
	}
}

// ExcludeFilter holds a compiled expression selecting master torrents that
// must never be mirrored.
type ExcludeFilter struct {
	source  string
	program *vm.Program
}

// CompileExclude compiles an exclusion expression. An empty expression yields
// a nil filter that matches nothing.
func CompileExclude(expression string) (*ExcludeFilter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}

	program, err := expr.Compile(expression, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid exclude expression: %w", err)
	}

	return &ExcludeFilter{source: expression, program: program}, nil
}

func (f *ExcludeFilter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match reports whether the record is excluded. Evaluation errors are
// returned so callers can decide how to treat the record.
func (f *ExcludeFilter) Match(r TorrentRecord) (bool, error) {
	if f == nil {
		return false, nil
	}

	out, err := expr.Run(f.program, newFilterEnv(r))
	if err != nil {
		return false, err
	}

	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("exclude expression returned %T", out)
	}
	return matched, nil
}
