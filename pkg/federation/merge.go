// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package federation

import (
	"cmp"
	"slices"
)

// Merge collapses records sharing an id and returns them oldest modification first.
//
// A deleted record always replaces an earlier copy. A versioned record replaces an
// earlier copy only when it is newer. Otherwise the newest copy wins.
func Merge(results []Result) []Result {
	byID := make(map[string]int, len(results))
	merged := make([]Result, 0, len(results))

	for _, r := range results {
		i, seen := byID[r.ID]
		if !seen {
			byID[r.ID] = len(merged)
			merged = append(merged, r)
			continue
		}

		current := merged[i]
		switch {
		case current.Deleted:
			// a deletion is final
		case r.Deleted:
			merged[i] = r
		case r.Versioned:
			if r.Modified.After(current.Modified) {
				merged[i] = r
			}
		case !r.Modified.Before(current.Modified):
			merged[i] = r
		}
	}

	slices.SortStableFunc(merged, func(a, b Result) int {
		if c := a.Modified.Compare(b.Modified); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return merged
}

// Page slices results for req.
func Page(results []Result, req Request) []Result {
	start := max(req.StartIndex, 0)
	if start >= len(results) {
		return []Result{}
	}
	end := len(results)
	if req.PageSize > 0 {
		end = min(start+req.PageSize, end)
	}
	return slices.Clone(results[start:end])
}
