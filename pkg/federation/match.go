// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package federation

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// matcher evaluates a keyword expression: every whitespace-separated term must appear,
// case-folded, in the title or in a string attribute. "*" and the empty expression match
// everything.
type matcher struct {
	terms []string
	fold  cases.Caser
}

func newMatcher(expression string) *matcher {
	fold := cases.Fold()
	m := &matcher{fold: fold}
	for _, term := range strings.Fields(expression) {
		if term == "*" {
			continue
		}
		m.terms = append(m.terms, fold.String(term))
	}
	return m
}

func (m *matcher) Match(r Result) bool {
	if len(m.terms) == 0 {
		return true
	}

	haystack := make([]string, 0, len(r.Attributes)+1)
	haystack = append(haystack, m.fold.String(r.Title))
	for _, v := range r.Attributes {
		switch val := v.(type) {
		case string:
			haystack = append(haystack, m.fold.String(val))
		case fmt.Stringer:
			haystack = append(haystack, m.fold.String(val.String()))
		}
	}

	for _, term := range m.terms {
		found := false
		for _, h := range haystack {
			if strings.Contains(h, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// filter returns the results matching req's expression that were modified after
// req.Since.
func filter(results []Result, req Request) []Result {
	m := newMatcher(req.Query.Expression)
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if !req.Since.IsZero() && !r.Modified.After(req.Since) {
			continue
		}
		if m.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
