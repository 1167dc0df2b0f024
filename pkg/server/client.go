// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls sqgate.v1.Gateway methods.
type Client struct {
	cc     grpc.ClientConnInterface
	userID string
}

// NewClient wraps cc. A non-empty userID is sent as x-user-id on every call.
func NewClient(cc grpc.ClientConnInterface, userID string) *Client {
	return &Client{cc: cc, userID: userID}
}

// Call invokes method with the request fields. Field values must be structpb-compatible.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if c.userID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, UserIDHeader, c.userID)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
