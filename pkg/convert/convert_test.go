// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package convert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/sqgate/pkg/federation"
)

func sampleResult() federation.Result {
	return federation.Result{
		ID:       "rec-1",
		SourceID: "local",
		Title:    "Harbor",
		Modified: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Attributes: map[string]any{
			"sensor":    "EO",
			"cloud":     12.5,
			"collected": time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestConvert(t *testing.T) {
	s, err := New(Config{}).Convert(sampleResult())
	require.NoError(t, err)

	m := s.AsMap()
	assert.Equal(t, "rec-1", m[FieldID])
	assert.Equal(t, "local", m[FieldSource])
	assert.Equal(t, "Harbor", m[FieldTitle])
	assert.Equal(t, "2026-03-01T12:00:00Z", m[FieldModified])
	assert.Equal(t, false, m[FieldDeleted])
	assert.Equal(t, "EO", m["sensor"])
	assert.Equal(t, 12.5, m["cloud"])
	assert.Equal(t, "2026-02-28T00:00:00Z", m["collected"])
}

func TestConvert_Projection(t *testing.T) {
	c := New(Config{}).WithAttributes([]string{"sensor"})
	s, err := c.Convert(sampleResult())
	require.NoError(t, err)

	m := s.AsMap()
	assert.Equal(t, "EO", m["sensor"])
	assert.NotContains(t, m, "cloud")
	assert.Contains(t, m, FieldID, "well-known fields are always present")
}

func TestConvert_MissingID(t *testing.T) {
	r := sampleResult()
	r.ID = ""

	_, err := New(Config{}).Convert(r)
	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestConvert_OutgoingValidation(t *testing.T) {
	c := New(Config{OutgoingValidation: true, MandatoryAttributes: []string{"sensor", "classification"}})

	_, err := c.Convert(sampleResult())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingMandatory)

	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "rec-1", convErr.RecordID)

	// Deleted records carry no attributes and are exempt
	r := sampleResult()
	r.Deleted = true
	_, err = c.Convert(r)
	assert.NoError(t, err)

	// Validation off converts the same record
	_, err = New(Config{MandatoryAttributes: []string{"classification"}}).Convert(sampleResult())
	assert.NoError(t, err)
}

func TestConvert_UnsupportedValue(t *testing.T) {
	r := sampleResult()
	r.Attributes["bad"] = make(chan int)

	_, err := New(Config{}).Convert(r)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, "rec-1", convErr.RecordID)
}
