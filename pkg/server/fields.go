// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/drain"
)

// errBadRequest marks malformed request fields. It maps to InvalidArgument.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func field(in *structpb.Struct, name string) (*structpb.Value, bool) {
	if in == nil {
		return nil, false
	}
	v, ok := in.GetFields()[name]
	if !ok {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func requireString(in *structpb.Struct, name string) (string, error) {
	s, err := optionalString(in, name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", badRequest("%s is required", name)
	}
	return s, nil
}

func optionalString(in *structpb.Struct, name string) (string, error) {
	v, ok := field(in, name)
	if !ok {
		return "", nil
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", badRequest("%s must be a string", name)
	}
	return s.StringValue, nil
}

// optionalInt reads an integral number field in the int64 range. ok is false when the
// field is absent.
func optionalInt(in *structpb.Struct, name string) (n int, ok bool, err error) {
	v, present := field(in, name)
	if !present {
		return 0, false, nil
	}
	num, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, false, badRequest("%s must be a number", name)
	}
	f := num.NumberValue
	if f != math.Trunc(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false, badRequest("%s must be an integer", name)
	}
	return int(f), true, nil
}

func requireInt(in *structpb.Struct, name string) (int, error) {
	n, ok, err := optionalInt(in, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, badRequest("%s is required", name)
	}
	return n, nil
}

// optionalDuration reads a Go duration string such as "90s". Negative durations are
// accepted.
func optionalDuration(in *structpb.Struct, name string) (time.Duration, error) {
	s, err := optionalString(in, name)
	if err != nil || s == "" {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, badRequest("%s: %v", name, err)
	}
	return d, nil
}

// hitCap reads hit_cap. Absent or negative is unbounded.
func hitCap(in *structpb.Struct) (drain.Limit, error) {
	n, ok, err := optionalInt(in, "hit_cap")
	if err != nil {
		return drain.Limit{}, err
	}
	if !ok {
		return drain.Unbounded(), nil
	}
	return drain.LimitOf(n), nil
}

func stringList(in *structpb.Struct, name string) ([]string, error) {
	v, ok := field(in, name)
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, badRequest("%s must be a list of strings", name)
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		s, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, badRequest("%s must be a list of strings", name)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func stringMap(in *structpb.Struct, name string) (map[string]string, error) {
	v, ok := field(in, name)
	if !ok {
		return nil, nil
	}
	obj := v.GetStructValue()
	if obj == nil {
		return nil, badRequest("%s must be an object", name)
	}
	out := make(map[string]string, len(obj.GetFields()))
	for k, item := range obj.GetFields() {
		s, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return nil, badRequest("%s.%s must be a string", name, k)
		}
		out[k] = s.StringValue
	}
	return out, nil
}

// response builds a reply struct. Values must be structpb-compatible.
func response(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return s, nil
}

func empty() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func recordList(records []*structpb.Struct) *structpb.Value {
	values := make([]*structpb.Value, 0, len(records))
	for _, r := range records {
		values = append(values, structpb.NewStructValue(r))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func stringsToAny(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func timestamp(t time.Time, ok bool) any {
	if !ok {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
