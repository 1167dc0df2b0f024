// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package federation

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemorySource is an in-process catalog. It backs the local source in tests and in
// deployments without a database.
type MemorySource struct {
	id string

	mu      sync.RWMutex
	records []Result
}

// NewMemorySource creates an empty catalog.
func NewMemorySource(id string) *MemorySource {
	return &MemorySource{id: id}
}

// ID returns the source id.
func (s *MemorySource) ID() string {
	return s.id
}

// Put adds records. Earlier copies with the same id are kept; Merge resolves them at
// query time the way a versioned catalog would.
func (s *MemorySource) Put(records ...Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.SourceID = s.id
		r.Attributes = maps.Clone(r.Attributes)
		s.records = append(s.records, r)
	}
}

// Len returns the number of stored record versions.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Query returns the latest version of every stored record matching req.
func (s *MemorySource) Query(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.mu.RLock()
	snapshot := slices.Clone(s.records)
	s.mu.RUnlock()

	merged := filter(Merge(snapshot), req)
	return Response{Results: merged, Hits: len(merged)}, nil
}
