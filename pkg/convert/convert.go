// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package convert turns federated search results into the structured records returned
// to clients.
package convert

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/federation"
)

// Well-known fields every converted record carries.
const (
	FieldID        = "id"
	FieldSource    = "source"
	FieldTitle     = "title"
	FieldModified  = "modified"
	FieldDeleted   = "deleted"
	FieldVersioned = "versioned"
)

var (
	// ErrMissingID is the cause when a result has no id.
	ErrMissingID = errors.New("result has no id")

	// ErrMissingMandatory is the cause when outgoing validation finds an absent attribute.
	ErrMissingMandatory = errors.New("mandatory attribute missing")
)

// ConversionError reports a result that could not be converted.
type ConversionError struct {
	RecordID string
	Cause    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert record %q: %v", e.RecordID, e.Cause)
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// Config configures a Converter.
type Config struct {
	// ResultAttributes restricts the attributes copied into each record. Empty copies all.
	ResultAttributes []string

	// OutgoingValidation rejects records lacking any of MandatoryAttributes.
	OutgoingValidation  bool
	MandatoryAttributes []string
}

// Converter converts federation results to *structpb.Struct. Safe for concurrent use.
type Converter struct {
	attributes map[string]struct{}
	validate   bool
	mandatory  []string
}

// New creates a converter.
func New(cfg Config) *Converter {
	c := &Converter{
		validate:  cfg.OutgoingValidation,
		mandatory: slices.Clone(cfg.MandatoryAttributes),
	}
	if len(cfg.ResultAttributes) > 0 {
		c.attributes = make(map[string]struct{}, len(cfg.ResultAttributes))
		for _, a := range cfg.ResultAttributes {
			c.attributes[a] = struct{}{}
		}
	}
	return c
}

// WithAttributes returns a copy of c projecting onto attrs. Empty attrs keeps c's
// projection.
func (c *Converter) WithAttributes(attrs []string) *Converter {
	if len(attrs) == 0 {
		return c
	}
	return New(Config{
		ResultAttributes:    attrs,
		OutgoingValidation:  c.validate,
		MandatoryAttributes: c.mandatory,
	})
}

// Convert builds the client record for r.
func (c *Converter) Convert(r federation.Result) (*structpb.Struct, error) {
	if r.ID == "" {
		return nil, &ConversionError{Cause: ErrMissingID}
	}

	if c.validate && !r.Deleted {
		for _, name := range c.mandatory {
			if v, ok := r.Attributes[name]; !ok || v == nil || v == "" {
				return nil, &ConversionError{RecordID: r.ID, Cause: fmt.Errorf("%w: %s", ErrMissingMandatory, name)}
			}
		}
	}

	fields := map[string]any{
		FieldID:        r.ID,
		FieldSource:    r.SourceID,
		FieldTitle:     r.Title,
		FieldDeleted:   r.Deleted,
		FieldVersioned: r.Versioned,
	}
	if !r.Modified.IsZero() {
		fields[FieldModified] = r.Modified.UTC().Format(time.RFC3339Nano)
	}

	for _, name := range slices.Sorted(maps.Keys(r.Attributes)) {
		if c.attributes != nil {
			if _, ok := c.attributes[name]; !ok {
				continue
			}
		}
		if _, reserved := fields[name]; reserved {
			continue
		}
		fields[name] = normalize(r.Attributes[name])
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, &ConversionError{RecordID: r.ID, Cause: err}
	}
	return s, nil
}

// normalize maps common Go values structpb does not accept onto ones it does.
func normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}
