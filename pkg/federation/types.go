// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package federation fans a search out across the configured result sources and merges
// what comes back into one ordered result list.
package federation

import (
	"context"
	"errors"
	"time"
)

// ViewAssociation is the view name for association queries. Association views never
// produce results.
const ViewAssociation = "NSIL_ASSOCIATION_VIEW"

// LocalSourceID is the id of the gateway's own catalog.
const LocalSourceID = "local"

// Query is a client query: the view it targets and a keyword expression.
type Query struct {
	View       string
	Expression string
}

// Result is one backend record.
type Result struct {
	ID         string
	SourceID   string
	Title      string
	Modified   time.Time
	Deleted    bool
	Versioned  bool
	Attributes map[string]any
}

// Request asks the sources for records matching Query.
type Request struct {
	Query Query

	// Since restricts results to records modified after it. Zero means no restriction.
	Since time.Time

	// StartIndex is the offset into the merged result list, PageSize its maximum length.
	// PageSize <= 0 returns everything from StartIndex.
	StartIndex int
	PageSize   int

	// Sources lists the sources to query. Empty means the local source only.
	Sources []string
}

// Response is one page of merged results.
type Response struct {
	Results []Result

	// Hits is the number of merged results before paging.
	Hits int

	// Failed lists sources that errored and were skipped.
	Failed []string
}

// MoreAvailable reports whether records beyond this page exist.
func (r Response) MoreAvailable(req Request) bool {
	return req.StartIndex+len(r.Results) < r.Hits
}

// Source is a searchable result source.
type Source interface {
	ID() string
	Query(ctx context.Context, req Request) (Response, error)
}

// ErrUnknownSource is returned when a request names a source that is not registered.
var ErrUnknownSource = errors.New("unknown result source")
