// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/gateway"
	"github.com/teradata-labs/sqgate/pkg/handles"
)

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, handles.ErrNotFound):
		return status.Errorf(codes.NotFound, "stale handle: %v", err)
	case errors.Is(err, handles.ErrKindMismatch):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case errors.Is(err, gateway.ErrInvalidQuery), errors.Is(err, errBadRequest):
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case errors.Is(err, federation.ErrUnknownSource):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
